package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/parkgate/internal/service"
)

// GetModbusStats 总线统计
func (h *Handler) GetModbusStats(c *gin.Context) {
	bus := h.facility.Modbus()
	if bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrModbusDisabled.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bus.Stats()})
}

// ResetModbusStats 清零总线统计
func (h *Handler) ResetModbusStats(c *gin.Context) {
	bus := h.facility.Modbus()
	if bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrModbusDisabled.Error()})
		return
	}
	bus.ResetStats()
	c.JSON(http.StatusOK, gin.H{"data": bus.Stats()})
}

// TestModbusDevices 逐个探测相机和显示屏
func (h *Handler) TestModbusDevices(c *gin.Context) {
	bus := h.facility.Modbus()
	if bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrModbusDisabled.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bus.TestAllDevices(c.Request.Context())})
}

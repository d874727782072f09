package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gate"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/service"
)

// gateParam 解析闸门参数，失败时已写出响应
func (h *Handler) gateParam(c *gin.Context) (*gate.System, models.GateID, bool) {
	gates := h.facility.Gates()
	if gates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrNotGroundFloor.Error()})
		return nil, 0, false
	}
	id, err := models.ParseGateID(c.Param("gate"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, 0, false
	}
	return gates, id, true
}

// ListGates 闸门快照
func (h *Handler) ListGates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.facility.GateSnapshots()})
}

// OpenGate 开闸
func (h *Handler) OpenGate(c *gin.Context) {
	h.gateCommand(c, "open", (*gate.System).Open)
}

// CloseGate 关闸
func (h *Handler) CloseGate(c *gin.Context) {
	h.gateCommand(c, "close", (*gate.System).Close)
}

// ResetGate 从错误状态恢复
func (h *Handler) ResetGate(c *gin.Context) {
	h.gateCommand(c, "reset", (*gate.System).ResetError)
}

func (h *Handler) gateCommand(c *gin.Context, name string, cmd func(*gate.System, models.GateID) error) {
	gates, id, ok := h.gateParam(c)
	if !ok {
		return
	}
	if err := cmd(gates, id); err != nil {
		h.logger.Warn("Gate command rejected", zap.String("command", name), zap.Stringer("gate", id), zap.Error(err))
		h.abortWithError(c, "Gate command failed", err)
		return
	}
	state, _ := gates.State(id)
	c.JSON(http.StatusOK, gin.H{"gate": id.String(), "state": state})
}

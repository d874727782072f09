package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gate"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/parking"
)

// GetStatus 停车场状态快照和运行统计
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"parking": h.facility.Store().Snapshot(),
			"gates":   h.facility.GateSnapshots(),
			"stats":   h.facility.Stats(),
		},
	})
}

// GetStatusText 控制台格式的状态
func (h *Handler) GetStatusText(c *gin.Context) {
	status := h.facility.Store().Snapshot()
	text := parking.FormatStatus(&status)
	if snaps := h.facility.GateSnapshots(); len(snaps) > 0 {
		text += gate.FormatStatus(snaps)
	}
	c.String(http.StatusOK, text)
}

// LocatePlate 查询车牌位置和当前应付费用
// GET /api/plates/:plate
func (h *Handler) LocatePlate(c *gin.Context) {
	plate, err := models.ParsePlate(c.Param("plate"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	placement, ok := h.facility.Store().Locate(plate)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plate not found"})
		return
	}
	data := gin.H{"placement": placement}
	fee, err := h.facility.CurrentFee(placement)
	if err != nil {
		// 时钟回拨等情况下无法计费，位置信息照常返回
		h.logger.Warn("Failed to compute current fee",
			zap.Stringer("plate", plate),
			zap.Time("entry", placement.At),
			zap.Error(err),
		)
		data["fee_error"] = err.Error()
	} else {
		data["fee_cents"] = fee
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

type floorBlockRequest struct {
	Blocked bool `json:"blocked"`
}

// SetFloorBlocked 封闭/开放楼层
// POST /api/floors/:floor/block {"blocked": true}
func (h *Handler) SetFloorBlocked(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("floor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid floor"})
		return
	}
	var req floorBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	floor := models.FloorID(n)
	if err := h.facility.SetFloorBlocked(floor, req.Blocked); err != nil {
		h.abortWithError(c, "Failed to block floor", err)
		return
	}
	h.logger.Info("Floor block changed via API", zap.Stringer("floor", floor), zap.Bool("blocked", req.Blocked))
	c.JSON(http.StatusOK, gin.H{"floor": floor.String(), "blocked": req.Blocked})
}

type emergencyRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEmergency 紧急模式开关，开启时打开所有闸门
// POST /api/emergency {"enabled": true}
func (h *Handler) SetEmergency(c *gin.Context) {
	var req emergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.facility.SetEmergencyMode(req.Enabled); err != nil {
		// 状态已切换，只是某个闸门没能打开
		h.logger.Error("Emergency open failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"emergency_mode": req.Enabled, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergency_mode": req.Enabled})
}

type entryRequest struct {
	Type string `json:"type"`
}

// Entry 车辆到达入口
// POST /api/entry {"type": "pne"}
func (h *Handler) Entry(c *gin.Context) {
	var req entryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	preferred := models.SpotCommon
	if req.Type != "" {
		t, err := models.ParseSpotType(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		preferred = t
	}

	res, err := h.facility.HandleEntry(c.Request.Context(), preferred)
	if err != nil {
		h.abortWithError(c, "Entry failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

type exitRequest struct {
	Plate string `json:"plate"`
}

// Exit 车辆到达出口，plate 为相机读取失败时的人工输入
// POST /api/exit {"plate": "TK000001"}
func (h *Handler) Exit(c *gin.Context) {
	var req exitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var manual models.Plate
	if strings.TrimSpace(req.Plate) != "" {
		p, err := models.ParsePlate(req.Plate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		manual = p
	}

	res, err := h.facility.HandleExit(c.Request.Context(), manual)
	if err != nil {
		h.abortWithError(c, "Exit failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

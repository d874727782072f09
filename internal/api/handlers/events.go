package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func limitParam(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return limit
}

// ListPassages 最近的通行事件
func (h *Handler) ListPassages(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event journal disabled"})
		return
	}
	records, err := h.events.RecentPassages(c.Request.Context(), limitParam(c))
	if err != nil {
		h.logger.Error("Failed to list passages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list passages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// ListGateTransitions 最近的闸门状态变化
func (h *Handler) ListGateTransitions(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event journal disabled"})
		return
	}
	records, err := h.events.RecentGateTransitions(c.Request.Context(), limitParam(c))
	if err != nil {
		h.logger.Error("Failed to list gate transitions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list gate transitions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gate"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/modbus"
	"github.com/langchou/parkgate/internal/parking"
	"github.com/langchou/parkgate/internal/service"
)

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidPlate),
		errors.Is(err, parking.ErrInvalidFloor),
		errors.Is(err, parking.ErrInvalidSpot),
		errors.Is(err, parking.ErrInvalidSpotType),
		errors.Is(err, gate.ErrUnknownGate),
		errors.Is(err, service.ErrPlateUnreadable):
		return http.StatusBadRequest
	case errors.Is(err, parking.ErrPlateNotFound):
		return http.StatusNotFound
	case errors.Is(err, gate.ErrGateInError),
		errors.Is(err, gate.ErrEmergencyMode),
		errors.Is(err, parking.ErrSystemFull),
		errors.Is(err, parking.ErrNoSpot):
		return http.StatusConflict
	case service.IsUnavailable(err),
		errors.Is(err, modbus.ErrTimeout),
		errors.Is(err, modbus.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithError 写出错误响应，服务端错误记录日志
func (h *Handler) abortWithError(c *gin.Context, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

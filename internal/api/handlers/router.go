package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/repository"
	"github.com/langchou/parkgate/internal/service"
	"github.com/langchou/parkgate/pkg/ws"
)

// EventLister 事件日志查询，未配置数据库时为 nil
type EventLister interface {
	RecentPassages(ctx context.Context, limit int) ([]repository.PassageRecord, error)
	RecentGateTransitions(ctx context.Context, limit int) ([]repository.GateRecord, error)
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	facility *service.FacilityService
	events   EventLister
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	facility *service.FacilityService,
	events EventLister,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:   logger,
		facility: facility,
		events:   events,
		wsHub:    wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 诊断面板在局域网内，允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 停车场
		api.GET("/status", h.GetStatus)
		api.GET("/status/text", h.GetStatusText)
		api.GET("/plates/:plate", h.LocatePlate)
		api.POST("/floors/:floor/block", h.SetFloorBlocked)
		api.POST("/emergency", h.SetEmergency)

		// 出入口
		api.POST("/entry", h.Entry)
		api.POST("/exit", h.Exit)

		// 闸门
		api.GET("/gates", h.ListGates)
		api.POST("/gates/:gate/open", h.OpenGate)
		api.POST("/gates/:gate/close", h.CloseGate)
		api.POST("/gates/:gate/reset", h.ResetGate)

		// MODBUS 诊断
		api.GET("/modbus/stats", h.GetModbusStats)
		api.POST("/modbus/stats/reset", h.ResetModbusStats)
		api.POST("/modbus/test", h.TestModbusDevices)

		// 事件日志
		api.GET("/events/passages", h.ListPassages)
		api.GET("/events/gates", h.ListGateTransitions)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"role":       h.facility.Role().String(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}

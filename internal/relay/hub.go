package relay

import (
	"context"

	"github.com/langchou/parkgate/pkg/ws"
)

// HubPublisher 通过 WebSocket 广播
type HubPublisher struct {
	Hub *ws.Hub
}

// Publish 广播给所有已连接的客户端
func (p HubPublisher) Publish(_ context.Context, msg Message) error {
	return p.Hub.BroadcastMessage(string(msg.Kind), msg.At, msg.Data)
}

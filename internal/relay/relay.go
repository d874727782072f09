// Package relay 对外状态通道：停车场计数、通行事件、闸门状态、车牌读取。
//
// 具体传输不在这里实现，发布方只依赖 Publisher。
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
)

// Kind 消息类型
type Kind string

const (
	KindParkingStatus Kind = "parking_status"
	KindPassage       Kind = "passage"
	KindGateState     Kind = "gate_state"
	KindPlateRead     Kind = "plate_read"
	KindDeviceFault   Kind = "device_fault"
)

// Message 对外消息
type Message struct {
	Kind Kind        `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// Publisher 发布能力
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc 函数适配
type PublisherFunc func(ctx context.Context, msg Message) error

// Publish 调用函数本身
func (f PublisherFunc) Publish(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// StatusPayload 停车场计数
type StatusPayload struct {
	Floors          [models.NumFloors]models.FloorCounts `json:"floors"`
	TotalFreeByType [models.NumSpotTypes]int             `json:"total_free_by_type"`
	TotalFree       int                                  `json:"total_free"`
	TotalCars       int                                  `json:"total_cars"`
	SystemFull      bool                                 `json:"system_full"`
	EmergencyMode   bool                                 `json:"emergency_mode"`
}

// StatusMessage 由状态快照生成计数消息
func StatusMessage(status models.ParkingStatus, at time.Time) Message {
	p := StatusPayload{
		TotalFreeByType: status.TotalFreeByType,
		TotalFree:       status.TotalFree,
		TotalCars:       status.TotalCars,
		SystemFull:      status.SystemFull,
		EmergencyMode:   status.EmergencyMode,
	}
	for f := range p.Floors {
		p.Floors[f] = status.Counts(models.FloorID(f))
	}
	return Message{Kind: KindParkingStatus, At: at, Data: p}
}

// PassageMessage 通行事件
func PassageMessage(ev models.PassageEvent) Message {
	return Message{Kind: KindPassage, At: ev.At, Data: ev}
}

// GateMessage 闸门状态变化
func GateMessage(tr models.GateTransition) Message {
	return Message{Kind: KindGateState, At: tr.At, Data: tr}
}

// PlateMessage 车牌读取结果
func PlateMessage(gate models.GateID, reading models.PlateReading) Message {
	return Message{
		Kind: KindPlateRead,
		At:   reading.Timestamp,
		Data: struct {
			Gate models.GateID `json:"gate"`
			models.PlateReading
		}{gate, reading},
	}
}

// FaultMessage 设备故障
func FaultMessage(f models.DeviceFault) Message {
	return Message{Kind: KindDeviceFault, At: f.At, Data: f}
}

// Fanout 依次发布到多个下游，单个下游失败不影响其他
type Fanout struct {
	mu     sync.RWMutex
	pubs   []Publisher
	logger *zap.Logger
}

// NewFanout 创建扇出发布器
func NewFanout(logger *zap.Logger, pubs ...Publisher) *Fanout {
	return &Fanout{pubs: pubs, logger: logger}
}

// Add 追加下游
func (f *Fanout) Add(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, p)
}

// Publish 发布到所有下游
func (f *Fanout) Publish(ctx context.Context, msg Message) error {
	f.mu.RLock()
	pubs := f.pubs
	f.mu.RUnlock()

	var errs []error
	for _, p := range pubs {
		if err := p.Publish(ctx, msg); err != nil {
			f.logger.Warn("Failed to publish message", zap.String("type", string(msg.Kind)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

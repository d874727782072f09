package passage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
)

// DefaultPollInterval 采样周期，足够短以免漏掉车辆
const DefaultPollInterval = 50 * time.Millisecond

// Opening 一个楼层间通道，S1 靠近 Lower，S2 靠近 Upper
type Opening struct {
	Lower models.FloorID
	Upper models.FloorID
	Pins  gpio.PassagePins
}

// OpeningFor 某个上层楼层所监控的通道（连接它与下一层）
func OpeningFor(floor models.FloorID, pinMap gpio.PinMap) (Opening, error) {
	if !floor.Valid() || floor == models.FloorGround {
		return Opening{}, fmt.Errorf("floor %s has no passage sensors", floor)
	}
	return Opening{Lower: floor - 1, Upper: floor, Pins: pinMap.Passage[floor]}, nil
}

// Sink 接收通行事件
type Sink func(ctx context.Context, ev models.PassageEvent)

// Stats 通行统计
type Stats struct {
	Up   uint64 `json:"movements_up"`
	Down uint64 `json:"movements_down"`
}

// Monitor 轮询一个通道的两个传感器并产生通行事件
type Monitor struct {
	opening  Opening
	io       gpio.Pins
	detector *Detector
	interval time.Duration
	sink     Sink
	logger   *zap.Logger
	now      func() time.Time

	up   atomic.Uint64
	down atomic.Uint64
}

// NewMonitor 创建通道监控
func NewMonitor(opening Opening, io gpio.Pins, interval, timeout time.Duration, logger *zap.Logger, sink Sink) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		opening:  opening,
		io:       io,
		detector: NewDetector(timeout),
		interval: interval,
		sink:     sink,
		logger: logger.With(
			zap.Stringer("lower", opening.Lower),
			zap.Stringer("upper", opening.Upper)),
		now: time.Now,
	}
}

// Poll 读取一次传感器；读取失败时本次跳过
func (m *Monitor) Poll(ctx context.Context) (models.PassageEvent, bool) {
	s1, err := m.io.ReadSensor(m.opening.Pins.S1)
	if err != nil {
		m.logger.Warn("Failed to read passage sensor", zap.String("sensor", "s1"), zap.Error(err))
		return models.PassageEvent{}, false
	}
	s2, err := m.io.ReadSensor(m.opening.Pins.S2)
	if err != nil {
		m.logger.Warn("Failed to read passage sensor", zap.String("sensor", "s2"), zap.Error(err))
		return models.PassageEvent{}, false
	}

	now := m.now()
	ev := models.PassageEvent{ID: uuid.NewString(), At: now}
	switch m.detector.Update(s1, s2, now) {
	case DirectionAtoB:
		ev.FromFloor, ev.ToFloor = m.opening.Lower, m.opening.Upper
		m.up.Add(1)
	case DirectionBtoA:
		ev.FromFloor, ev.ToFloor = m.opening.Upper, m.opening.Lower
		m.down.Add(1)
	case DirectionNone:
		return models.PassageEvent{}, false
	}

	m.logger.Info("Passage detected",
		zap.String("id", ev.ID),
		zap.Stringer("from", ev.FromFloor),
		zap.Stringer("to", ev.ToFloor))
	if m.sink != nil {
		m.sink(ctx, ev)
	}
	return ev, true
}

// Run 轮询循环，直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Passage monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			st := m.Stats()
			m.logger.Info("Passage monitor stopped", zap.Uint64("up", st.Up), zap.Uint64("down", st.Down))
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Stats 当前统计
func (m *Monitor) Stats() Stats {
	return Stats{Up: m.up.Load(), Down: m.down.Load()}
}

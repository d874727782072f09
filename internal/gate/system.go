package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
)

// Config 闸门子系统参数
type Config struct {
	Timeout      time.Duration
	TickInterval time.Duration
}

// System 地面层的入口和出口闸门
type System struct {
	mu        sync.RWMutex
	gates     map[models.GateID]*Controller
	tick      time.Duration
	emergency bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewSystem 按接线创建两个闸门控制器
func NewSystem(cfg Config, pinMap gpio.PinMap, io gpio.Pins, logger *zap.Logger, onTransition TransitionFunc) *System {
	s := &System{
		gates:  make(map[models.GateID]*Controller, len(models.Gates)),
		tick:   cfg.TickInterval,
		logger: logger,
	}
	for _, id := range models.Gates {
		s.gates[id] = NewController(id, pinMap.Gate(id), io, cfg.Timeout, logger, onTransition)
	}
	return s
}

// Start 为每个闸门启动控制循环
func (s *System) Start(ctx context.Context) {
	s.logger.Info("Starting gate system", zap.Int("gates", len(s.gates)))
	for _, id := range models.Gates {
		c := s.gates[id]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.Run(ctx, s.tick)
		}()
	}
}

// Wait 等待所有控制循环退出
func (s *System) Wait() {
	s.wg.Wait()
	s.logger.Info("Gate system stopped")
}

// Controller 按标识取控制器
func (s *System) Controller(id models.GateID) (*Controller, error) {
	c, ok := s.gates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGate, int(id))
	}
	return c, nil
}

// Open 打开闸门
func (s *System) Open(id models.GateID) error {
	c, err := s.Controller(id)
	if err != nil {
		return err
	}
	return c.Open()
}

// Close 关闭闸门，紧急模式下拒绝
func (s *System) Close(id models.GateID) error {
	c, err := s.Controller(id)
	if err != nil {
		return err
	}
	if s.EmergencyActive() {
		s.logger.Warn("Close rejected in emergency mode", zap.Stringer("gate", id))
		return fmt.Errorf("close %s: %w", id, ErrEmergencyMode)
	}
	return c.Close()
}

// State 闸门当前状态
func (s *System) State(id models.GateID) (models.GateState, error) {
	c, err := s.Controller(id)
	if err != nil {
		return models.GateError, err
	}
	return c.State(), nil
}

// ResetError 复位闸门错误
func (s *System) ResetError(id models.GateID) error {
	c, err := s.Controller(id)
	if err != nil {
		return err
	}
	return c.ResetError()
}

// EmergencyOpenAll 进入紧急模式并打开所有闸门；处于错误状态的闸门记录后跳过
func (s *System) EmergencyOpenAll() error {
	s.mu.Lock()
	s.emergency = true
	s.mu.Unlock()

	s.logger.Warn("EMERGENCY: opening all gates")
	var errs []error
	for _, id := range models.Gates {
		if err := s.gates[id].Open(); err != nil {
			s.logger.Error("Failed to open gate in emergency", zap.Stringer("gate", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("emergency open: %d gate(s) failed: %w", len(errs), errs[0])
	}
	return nil
}

// ClearEmergency 退出紧急模式，闸门保持当前状态
func (s *System) ClearEmergency() {
	s.mu.Lock()
	s.emergency = false
	s.mu.Unlock()
	s.logger.Info("Emergency mode cleared")
}

// EmergencyActive 是否处于紧急模式
func (s *System) EmergencyActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency
}

// Snapshots 所有闸门的快照
func (s *System) Snapshots() []models.GateSnapshot {
	out := make([]models.GateSnapshot, 0, len(models.Gates))
	for _, id := range models.Gates {
		out = append(out, s.gates[id].Snapshot())
	}
	return out
}

// TotalOperations 所有闸门完成的操作数
func (s *System) TotalOperations() uint32 {
	var n uint32
	for _, id := range models.Gates {
		n += s.gates[id].Snapshot().OperationCount
	}
	return n
}

// FormatStatus 控制台状态输出
func FormatStatus(snaps []models.GateSnapshot) string {
	active := func(b bool) string {
		if b {
			return "active"
		}
		return "inactive"
	}

	var b strings.Builder
	b.WriteString("=== GATES ===\n")
	for _, s := range snaps {
		fmt.Fprintf(&b, "%-6s %-8s operations=%d\n", strings.ToUpper(s.Name), s.State, s.OperationCount)
		fmt.Fprintf(&b, "       sensors: open=%s close=%s\n", active(s.SensorOpen), active(s.SensorClosed))
	}
	return b.String()
}

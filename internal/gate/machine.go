// Package gate 出入口闸门控制：每个闸门一个状态机和一个控制循环。
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
)

// 默认控制参数
const (
	DefaultTimeout      = 5 * time.Second
	DefaultTickInterval = 100 * time.Millisecond
)

var (
	ErrGateInError   = errors.New("gate is in error state")
	ErrEmergencyMode = errors.New("emergency mode active")
	ErrUnknownGate   = errors.New("unknown gate")
)

// 事件常量
const (
	EventOpen        = "open"
	EventOpened      = "opened"
	EventClose       = "close"
	EventClosed      = "closed"
	EventTimeout     = "timeout"
	EventResetClosed = "reset_closed"
	EventResetOpen   = "reset_open"
)

// TransitionFunc 状态变化回调，在控制器锁外调用
type TransitionFunc func(models.GateTransition)

// Controller 单个闸门的状态机
type Controller struct {
	mu      sync.Mutex
	id      models.GateID
	pins    gpio.GatePins
	io      gpio.Pins
	fsm     *fsm.FSM
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	since          time.Time // 进入当前状态的时间，超时从这里算
	lastOperation  time.Time
	operationCount uint32
	sensorOpen     bool
	sensorClosed   bool

	pending      []models.GateTransition
	onTransition TransitionFunc
}

// NewController 创建闸门控制器，初始状态为关闭
func NewController(id models.GateID, pins gpio.GatePins, io gpio.Pins, timeout time.Duration, logger *zap.Logger, onTransition TransitionFunc) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Controller{
		id:           id,
		pins:         pins,
		io:           io,
		timeout:      timeout,
		logger:       logger.With(zap.Stringer("gate", id)),
		now:          time.Now,
		onTransition: onTransition,
	}
	c.since = c.now()
	c.lastOperation = c.since

	c.fsm = fsm.NewFSM(
		string(models.GateClosed),
		fsm.Events{
			// 命令
			{Name: EventOpen, Src: []string{string(models.GateClosed), string(models.GateClosing)}, Dst: string(models.GateOpening)},
			{Name: EventClose, Src: []string{string(models.GateOpen), string(models.GateOpening)}, Dst: string(models.GateClosing)},

			// 限位到达
			{Name: EventOpened, Src: []string{string(models.GateOpening)}, Dst: string(models.GateOpen)},
			{Name: EventClosed, Src: []string{string(models.GateClosing)}, Dst: string(models.GateClosed)},

			// 超时
			{Name: EventTimeout, Src: []string{string(models.GateOpening), string(models.GateClosing)}, Dst: string(models.GateError)},

			// 从错误恢复
			{Name: EventResetClosed, Src: []string{string(models.GateError)}, Dst: string(models.GateClosed)},
			{Name: EventResetOpen, Src: []string{string(models.GateError)}, Dst: string(models.GateOpen)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if e.Src == e.Dst {
					return
				}
				c.pending = append(c.pending, models.GateTransition{
					Gate:           c.id,
					From:           models.GateState(e.Src),
					To:             models.GateState(e.Dst),
					OperationCount: c.operationCount,
					At:             c.since,
				})
			},
		},
	)

	return c
}

// ID 闸门标识
func (c *Controller) ID() models.GateID {
	return c.id
}

// State 当前状态
func (c *Controller) State() models.GateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() models.GateState {
	return models.GateState(c.fsm.Current())
}

// fire 在持锁状态下触发事件
func (c *Controller) fire(event string, now time.Time) error {
	c.since = now
	if err := c.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// flush 在锁外把累积的状态变化交给回调
func (c *Controller) flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.onTransition == nil {
		return
	}
	for _, t := range pending {
		c.onTransition(t)
	}
}

// Open 打开闸门；已打开或正在打开时直接返回
func (c *Controller) Open() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state() {
	case models.GateError:
		c.logger.Error("Gate in error state, cannot open")
		return fmt.Errorf("open %s: %w", c.id, ErrGateInError)
	case models.GateOpen, models.GateOpening:
		c.logger.Debug("Gate already open or opening")
		return nil
	}

	now := c.now()
	if err := c.fire(EventOpen, now); err != nil {
		return err
	}
	c.lastOperation = now
	c.logger.Info("Gate open command accepted")
	return nil
}

// Close 关闭闸门；已关闭或正在关闭时直接返回
func (c *Controller) Close() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state() {
	case models.GateError:
		c.logger.Error("Gate in error state, cannot close")
		return fmt.Errorf("close %s: %w", c.id, ErrGateInError)
	case models.GateClosed, models.GateClosing:
		c.logger.Debug("Gate already closed or closing")
		return nil
	}

	now := c.now()
	if err := c.fire(EventClose, now); err != nil {
		return err
	}
	c.lastOperation = now
	c.logger.Info("Gate close command accepted")
	return nil
}

// ResetError 根据当前传感器重新推导状态：关闭限位有效为关闭，
// 打开限位有效为打开，都无效时默认关闭。不在错误状态时不做任何事
func (c *Controller) ResetError() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state() != models.GateError {
		return nil
	}

	open, closed, err := c.readSensors()
	if err != nil {
		return fmt.Errorf("reset %s: %w", c.id, err)
	}

	event := EventResetClosed
	if !closed && open {
		event = EventResetOpen
	}
	now := c.now()
	if err := c.fire(event, now); err != nil {
		return err
	}
	c.lastOperation = now
	c.logger.Info("Gate error reset", zap.String("state", c.fsm.Current()))
	return nil
}

// Step 执行一次控制循环：读传感器、判断限位与超时、写电机电平
// 传感器读取失败视为瞬时故障，本次跳过，状态不变
func (c *Controller) Step() {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	open, closed, err := c.readSensors()
	if err != nil {
		c.logger.Warn("Failed to read gate sensors, skipping tick", zap.Error(err))
		return
	}

	now := c.now()
	switch c.state() {
	case models.GateOpening:
		if open {
			c.complete(EventOpened, now)
		} else if now.Sub(c.since) > c.timeout {
			c.logger.Error("Gate open timed out", zap.Duration("timeout", c.timeout))
			_ = c.fire(EventTimeout, now)
		}
	case models.GateClosing:
		if closed {
			c.complete(EventClosed, now)
		} else if now.Sub(c.since) > c.timeout {
			c.logger.Error("Gate close timed out", zap.Duration("timeout", c.timeout))
			_ = c.fire(EventTimeout, now)
		}
	case models.GateOpen, models.GateClosed, models.GateError:
	}

	c.drive(c.state())
}

// complete 到达限位：记录时间、累加操作计数
func (c *Controller) complete(event string, now time.Time) {
	c.operationCount++
	c.lastOperation = now
	if err := c.fire(event, now); err != nil {
		c.logger.Error("Failed to complete gate operation", zap.Error(err))
		return
	}
	c.logger.Info("Gate operation completed",
		zap.String("state", c.fsm.Current()),
		zap.Uint32("operation", c.operationCount))
}

// drive 电机是电平而不是脉冲，每个周期都要写
func (c *Controller) drive(state models.GateState) {
	var on, forward bool
	switch state {
	case models.GateOpening:
		on, forward = true, true
	case models.GateClosing:
		on, forward = true, false
	case models.GateOpen, models.GateClosed, models.GateError:
		on = false
	}

	if on && c.pins.Direction != gpio.NoPin {
		if err := c.io.WriteActuator(c.pins.Direction, forward); err != nil {
			c.logger.Warn("Failed to write gate direction", zap.Error(err))
		}
	}
	if err := c.io.WriteActuator(c.pins.Motor, on); err != nil {
		c.logger.Warn("Failed to write gate motor", zap.Bool("on", on), zap.Error(err))
	}
}

func (c *Controller) readSensors() (open, closed bool, err error) {
	open, err = c.io.ReadSensor(c.pins.SensorOpen)
	if err != nil {
		return false, false, fmt.Errorf("read open sensor: %w", err)
	}
	closed, err = c.io.ReadSensor(c.pins.SensorClose)
	if err != nil {
		return false, false, fmt.Errorf("read close sensor: %w", err)
	}
	c.sensorOpen, c.sensorClosed = open, closed
	return open, closed, nil
}

// Run 控制循环，ctx 取消后关闭电机并返回
func (c *Controller) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	c.logger.Info("Gate control loop started", zap.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if err := c.io.WriteActuator(c.pins.Motor, false); err != nil {
				c.logger.Warn("Failed to stop gate motor", zap.Error(err))
			}
			c.mu.Unlock()
			c.logger.Info("Gate control loop stopped")
			return
		case <-ticker.C:
			c.Step()
		}
	}
}

// Snapshot 诊断快照
func (c *Controller) Snapshot() models.GateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.GateSnapshot{
		Gate:           c.id,
		Name:           c.id.String(),
		State:          c.state(),
		OperationCount: c.operationCount,
		LastOperation:  c.lastOperation,
		SensorOpen:     c.sensorOpen,
		SensorClosed:   c.sensorClosed,
	}
}

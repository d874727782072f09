package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/config"
	"github.com/langchou/parkgate/internal/gate"
	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/modbus"
	"github.com/langchou/parkgate/internal/parking"
	"github.com/langchou/parkgate/internal/passage"
	"github.com/langchou/parkgate/internal/relay"
)

var (
	// ErrNotGroundFloor 闸门和相机只在地面层进程中存在
	ErrNotGroundFloor = errors.New("gates are only available on the ground floor")
	// ErrModbusDisabled 未配置 MODBUS 总线
	ErrModbusDisabled = errors.New("modbus bus is disabled")
	// ErrPlateUnreadable 出口相机读不到车牌且没有人工输入
	ErrPlateUnreadable = errors.New("exit plate could not be read")
)

// Stats 运行统计，停止时打印
type Stats struct {
	VehiclesEntered uint64        `json:"vehicles_entered"`
	VehiclesExited  uint64        `json:"vehicles_exited"`
	GateOperations  uint32        `json:"gate_operations"`
	Passage         passage.Stats `json:"passage"`
	Modbus          *modbus.Stats `json:"modbus,omitempty"`
}

// FacilityService 一个楼层控制进程
// 地面层: 车位扫描、两个闸门、相机与显示屏；上层: 车位扫描、楼层间通道
type FacilityService struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *parking.Store
	io        gpio.Pins
	gates     *gate.System     // 仅地面层
	monitor   *passage.Monitor // 仅上层
	bus       *modbus.Client   // 可为 nil
	publisher relay.Publisher
	fee       parking.FeeCalculator
	muxes     map[models.FloorID]*gpio.Mux

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	entered atomic.Uint64
	exited  atomic.Uint64
	tickets atomic.Uint32
	now     func() time.Time
}

// NewFacilityService 按角色组装楼层服务，bus 为 nil 表示不使用 MODBUS
func NewFacilityService(
	cfg *config.Config,
	logger *zap.Logger,
	store *parking.Store,
	io gpio.Pins,
	bus *modbus.Client,
	publisher relay.Publisher,
) (*FacilityService, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(cfg.Role))
	}
	s := &FacilityService{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		io:        io,
		bus:       bus,
		publisher: publisher,
		fee:       parking.FeeCalculator{PerMinuteCents: cfg.PricePerMinuteCents},
		muxes:     make(map[models.FloorID]*gpio.Mux),
		now:       time.Now,
	}

	floor := cfg.Role
	s.muxes[floor] = gpio.NewMux(io, floor, cfg.Pins.Floors[floor].SpotSensor, 0)

	if floor == models.FloorGround {
		s.gates = gate.NewSystem(gate.Config{
			Timeout:      cfg.GateTimeout,
			TickInterval: cfg.GateTick,
		}, cfg.Pins, io, logger.Named("gate"), s.onGateTransition)
	} else {
		opening, err := passage.OpeningFor(floor, cfg.Pins)
		if err != nil {
			return nil, err
		}
		s.monitor = passage.NewMonitor(opening, io, cfg.PassagePoll, cfg.PassageTimeout, logger.Named("passage"), s.onPassage)
	}
	return s, nil
}

// Start 启动所有循环
func (s *FacilityService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Facility service already running, skipping start")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting facility service", zap.Stringer("role", s.cfg.Role))

	// 启动时先扫描一次，保证计数与传感器一致
	s.scanOnce(ctx)

	s.goLoop(func() { s.scanLoop(ctx) })
	s.goLoop(func() { s.statusLoop(ctx) })

	if s.gates != nil {
		s.gates.Start(ctx)
	}
	if s.monitor != nil {
		s.goLoop(func() { s.monitor.Run(ctx) })
	}
	if s.bus != nil && s.cfg.Role == models.FloorGround {
		s.goLoop(func() { s.displayLoop(ctx) })
	}

	s.logger.Info("Facility service started")
	return nil
}

func (s *FacilityService) goLoop(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop 停止所有循环并打印统计
func (s *FacilityService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping facility service")
	cancel()
	s.wg.Wait()
	if s.gates != nil {
		s.gates.Wait()
	}

	st := s.Stats()
	fields := []zap.Field{
		zap.Uint64("vehicles_entered", st.VehiclesEntered),
		zap.Uint64("vehicles_exited", st.VehiclesExited),
		zap.Uint32("gate_operations", st.GateOperations),
		zap.Uint64("movements_up", st.Passage.Up),
		zap.Uint64("movements_down", st.Passage.Down),
	}
	if st.Modbus != nil {
		fields = append(fields,
			zap.Uint64("modbus_requests", st.Modbus.RequestsSent),
			zap.Uint64("modbus_errors", st.Modbus.Errors))
	}
	s.logger.Info("Facility service stopped", fields...)
}

// Role 本进程负责的楼层
func (s *FacilityService) Role() models.FloorID {
	return s.cfg.Role
}

// Store 停车场状态
func (s *FacilityService) Store() *parking.Store {
	return s.store
}

// Gates 闸门子系统，上层进程返回 nil
func (s *FacilityService) Gates() *gate.System {
	return s.gates
}

// Modbus 总线客户端，未启用时返回 nil
func (s *FacilityService) Modbus() *modbus.Client {
	return s.bus
}

// Stats 当前统计
func (s *FacilityService) Stats() Stats {
	st := Stats{
		VehiclesEntered: s.entered.Load(),
		VehiclesExited:  s.exited.Load(),
	}
	if s.gates != nil {
		st.GateOperations = s.gates.TotalOperations()
	}
	if s.monitor != nil {
		st.Passage = s.monitor.Stats()
	}
	if s.bus != nil {
		ms := s.bus.Stats()
		st.Modbus = &ms
	}
	return st
}

// GateSnapshots 闸门快照，上层进程返回空
func (s *FacilityService) GateSnapshots() []models.GateSnapshot {
	if s.gates == nil {
		return nil
	}
	return s.gates.Snapshots()
}

// SetEmergencyMode 切换紧急模式；开启时打开所有闸门并拒绝普通闸门命令
func (s *FacilityService) SetEmergencyMode(on bool) error {
	prev := s.store.SetEmergencyMode(on)
	var err error
	if s.gates != nil {
		if on {
			err = s.gates.EmergencyOpenAll()
		} else {
			s.gates.ClearEmergency()
		}
	}
	if prev != on {
		s.publishStatus(context.Background())
	}
	return err
}

// SetFloorBlocked 封闭/开放楼层，封闭后不再向该层分配车位
func (s *FacilityService) SetFloorBlocked(floor models.FloorID, blocked bool) error {
	if err := s.store.SetFloorBlocked(floor, blocked); err != nil {
		return err
	}
	s.publishStatus(context.Background())
	return nil
}

func (s *FacilityService) publish(ctx context.Context, msg relay.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Debug("Publish failed", zap.String("type", string(msg.Kind)), zap.Error(err))
	}
}

func (s *FacilityService) publishStatus(ctx context.Context) {
	s.publish(ctx, relay.StatusMessage(s.store.Snapshot(), s.now()))
}

func (s *FacilityService) onGateTransition(tr models.GateTransition) {
	s.publish(context.Background(), relay.GateMessage(tr))
}

func (s *FacilityService) onPassage(ctx context.Context, ev models.PassageEvent) {
	s.publish(ctx, relay.PassageMessage(ev))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/gate"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/modbus"
	"github.com/langchou/parkgate/internal/parking"
	"github.com/langchou/parkgate/internal/relay"
)

// EntryResult 入场结果
type EntryResult struct {
	Plate     models.Plate         `json:"plate"`
	Ticket    bool                 `json:"ticket"` // 车牌不可用，发放匿名票
	Reading   *models.PlateReading `json:"reading,omitempty"`
	Placement parking.Placement    `json:"placement"`
}

// ExitResult 出场结果
type ExitResult struct {
	Plate     models.Plate         `json:"plate"`
	Reading   *models.PlateReading `json:"reading,omitempty"`
	Placement parking.Placement    `json:"placement"`
	Minutes   int64                `json:"minutes"`
	FeeCents  int64                `json:"fee_cents"`
	ExitAt    time.Time            `json:"exit_at"`
}

// HandleEntry 入口流程: 读取车牌、分配车位、开入口闸门
// 车牌读取失败或可信度不足时发放匿名票
func (s *FacilityService) HandleEntry(ctx context.Context, preferred models.SpotType) (EntryResult, error) {
	if s.gates == nil {
		return EntryResult{}, ErrNotGroundFloor
	}
	if s.store.EmergencyMode() {
		return EntryResult{}, gate.ErrEmergencyMode
	}

	var res EntryResult
	reading, plate, err := s.readPlate(ctx, models.GateEntry)
	if err != nil && ctx.Err() != nil {
		return EntryResult{}, err
	}
	res.Reading = reading
	if plate == "" {
		plate = s.ticketPlate()
		res.Ticket = true
		s.logger.Info("Issuing anonymous ticket", zap.String("plate", plate.String()))
	}
	res.Plate = plate

	placement, err := s.store.Allocate(plate, preferred, models.FloorGround)
	if err != nil {
		return res, err
	}
	res.Placement = placement
	if reading != nil && !res.Ticket {
		_ = s.store.Update(func(status *models.ParkingStatus) error {
			return parking.AttachPlate(status, placement.Floor, placement.Spot, plate, reading.Confidence)
		})
	}

	if err := s.gates.Open(models.GateEntry); err != nil {
		// 车辆无法进入，撤销分配
		if _, ferr := s.store.Free(plate); ferr != nil {
			s.logger.Error("Failed to roll back allocation", zap.String("plate", plate.String()), zap.Error(ferr))
		}
		s.publishStatus(ctx)
		return res, fmt.Errorf("open entry gate: %w", err)
	}

	s.entered.Add(1)
	s.publishStatus(ctx)
	s.logger.Info("Vehicle entered",
		zap.String("plate", plate.String()),
		zap.Bool("ticket", res.Ticket),
		zap.Stringer("floor", placement.Floor),
		zap.Int("spot", placement.Spot))
	return res, nil
}

// HandleExit 出口流程: 读取车牌、计费、释放车位、开出口闸门
// manual 为人工输入的车牌（例如匿名票号），相机读取失败时使用
func (s *FacilityService) HandleExit(ctx context.Context, manual models.Plate) (ExitResult, error) {
	if s.gates == nil {
		return ExitResult{}, ErrNotGroundFloor
	}
	if s.store.EmergencyMode() {
		return ExitResult{}, gate.ErrEmergencyMode
	}

	var res ExitResult
	reading, plate, err := s.readPlate(ctx, models.GateExit)
	if err != nil && ctx.Err() != nil {
		return ExitResult{}, err
	}
	res.Reading = reading
	if plate != "" {
		if _, ok := s.store.Locate(plate); !ok && manual != "" {
			plate = manual
		}
	} else {
		plate = manual
	}
	if plate == "" {
		return res, ErrPlateUnreadable
	}
	res.Plate = plate

	placement, ok := s.store.Locate(plate)
	if !ok {
		return res, fmt.Errorf("%w: %s", parking.ErrPlateNotFound, plate)
	}
	res.Placement = placement
	res.ExitAt = s.now()

	minutes, err := parking.Minutes(placement.At, res.ExitAt)
	if err != nil {
		// 时钟回拨，按最低一分钟计
		s.logger.Warn("Invalid parking interval, charging minimum", zap.String("plate", plate.String()), zap.Error(err))
		minutes = 1
	}
	res.Minutes = minutes
	res.FeeCents = minutes * s.fee.PerMinuteCents

	if err := s.gates.Open(models.GateExit); err != nil {
		return res, fmt.Errorf("open exit gate: %w", err)
	}
	if _, err := s.store.Free(plate); err != nil {
		return res, err
	}

	s.exited.Add(1)
	s.publishStatus(ctx)
	s.logger.Info("Vehicle exited",
		zap.String("plate", plate.String()),
		zap.Int64("minutes", res.Minutes),
		zap.Int64("fee_cents", res.FeeCents))
	return res, nil
}

// readPlate 触发闸门对应的相机并读取车牌
// 返回的 plate 为空表示没有可用车牌，此时 err 说明原因
func (s *FacilityService) readPlate(ctx context.Context, id models.GateID) (*models.PlateReading, models.Plate, error) {
	if s.bus == nil {
		return nil, "", ErrModbusDisabled
	}
	reading, err := s.bus.CaptureAndRead(ctx, modbus.CameraFor(id))
	if err != nil {
		if modbus.IsCameraFailure(err) {
			s.logger.Warn("Camera could not read plate", zap.Stringer("gate", id), zap.Error(err))
		} else {
			s.logger.Error("Plate capture failed", zap.Stringer("gate", id), zap.Error(err))
		}
		return nil, "", err
	}
	s.publish(ctx, relay.PlateMessage(id, reading))
	if !reading.Success {
		return &reading, "", fmt.Errorf("plate %q confidence %d: %s", reading.Plate, reading.Confidence, reading.Grade())
	}
	plate, err := models.ParsePlate(reading.Plate)
	if err != nil {
		return &reading, "", err
	}
	return &reading, plate, nil
}

// ticketPlate 匿名票号 TK + 6 位数字
func (s *FacilityService) ticketPlate() models.Plate {
	n := s.tickets.Add(1) % 1000000
	return models.Plate(fmt.Sprintf("TK%06d", n))
}

// IsUnavailable 错误是否来自总线或闸门不可用
func IsUnavailable(err error) bool {
	return errors.Is(err, modbus.ErrRetriesExhausted) || errors.Is(err, ErrModbusDisabled) || errors.Is(err, ErrNotGroundFloor)
}

// CurrentFee 按当前时间计算某个车位的应付费用
func (s *FacilityService) CurrentFee(p parking.Placement) (int64, error) {
	return s.fee.Calculate(p.At, s.now())
}

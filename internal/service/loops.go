package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/modbus"
	"github.com/langchou/parkgate/internal/parking"
)

// scanOnce 扫描本层车位，有变化时广播计数
func (s *FacilityService) scanOnce(ctx context.Context) int {
	changed := 0
	for floor, mux := range s.muxes {
		var spots int
		s.store.View(func(status *models.ParkingStatus) {
			spots = len(status.Floors[floor].Spots)
		})
		changes, err := s.store.ApplyScan(floor, parking.ReadFloor(mux, spots))
		if err != nil {
			s.logger.Error("Failed to apply floor scan", zap.Stringer("floor", floor), zap.Error(err))
			continue
		}
		changed += len(changes)
	}
	if changed > 0 {
		s.publishStatus(ctx)
	}
	return changed
}

func (s *FacilityService) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// statusLoop 定期广播计数，变化时另有即时广播
func (s *FacilityService) statusLoop(ctx context.Context) {
	if s.cfg.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishStatus(ctx)
		}
	}
}

// displayLoop 定期刷新地面层显示屏
func (s *FacilityService) displayLoop(ctx context.Context) {
	if s.cfg.DisplayInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.DisplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshDisplay(ctx)
		}
	}
}

func (s *FacilityService) refreshDisplay(ctx context.Context) {
	info := modbus.DisplayInfoFrom(s.store.Snapshot())
	if err := s.bus.UpdateDisplay(ctx, info); err != nil && ctx.Err() == nil {
		s.logger.Warn("Display refresh failed", zap.Error(err))
	}
}

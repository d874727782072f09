package parking

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
)

// Store 进程内唯一的停车场状态
// 所有读写都在锁内以回调形式完成，回调不得保留状态指针，也不得在锁内做阻塞 I/O
type Store struct {
	mu     sync.Mutex
	status models.ParkingStatus
	logger *zap.Logger
	now    func() time.Time
}

// NewStore 创建状态存储
func NewStore(status models.ParkingStatus, logger *zap.Logger) *Store {
	return &Store{
		status: status,
		logger: logger,
		now:    time.Now,
	}
}

// View 只读访问
func (s *Store) View(fn func(status *models.ParkingStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

// Update 读写访问，fn 返回错误时调用方需保证未修改状态
func (s *Store) Update(fn func(status *models.ParkingStatus) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.status)
}

// Snapshot 返回深拷贝
func (s *Store) Snapshot() models.ParkingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// ApplyScan 合并一个楼层的扫描读数
func (s *Store) ApplyScan(floor models.FloorID, readings []SpotReading) ([]SpotChange, error) {
	for i, r := range readings {
		if r.Err != nil {
			s.logger.Warn("Spot sensor read failed, skipping",
				zap.Stringer("floor", floor), zap.Int("spot", i), zap.Error(r.Err))
		}
	}

	var changes []SpotChange
	err := s.Update(func(status *models.ParkingStatus) error {
		if !floor.Valid() {
			return ErrInvalidFloor
		}
		var err error
		changes, err = ApplyScan(&status.Floors[floor], floor, readings, s.now())
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			RefreshTotals(status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range changes {
		s.logger.Info("Spot occupancy changed",
			zap.Stringer("floor", c.Floor),
			zap.Int("spot", c.Spot),
			zap.Bool("occupied", c.Occupied))
	}
	return changes, nil
}

// Allocate 分配车位
func (s *Store) Allocate(plate models.Plate, preferred models.SpotType, preferredFloor models.FloorID) (Placement, error) {
	var placement Placement
	err := s.Update(func(status *models.ParkingStatus) error {
		var err error
		placement, err = Allocate(status, plate, preferred, preferredFloor, s.now())
		if err == nil && status.SystemFull {
			s.logger.Warn("Parking is now full")
		}
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to allocate spot",
			zap.String("plate", plate.String()),
			zap.Stringer("preferred_type", preferred),
			zap.Stringer("preferred_floor", preferredFloor),
			zap.Error(err))
		return Placement{}, err
	}
	s.logger.Info("Spot allocated",
		zap.String("plate", plate.String()),
		zap.Stringer("floor", placement.Floor),
		zap.Int("spot", placement.Spot),
		zap.Stringer("type", placement.Type))
	return placement, nil
}

// Free 释放车位
func (s *Store) Free(plate models.Plate) (Placement, error) {
	var placement Placement
	err := s.Update(func(status *models.ParkingStatus) error {
		var err error
		placement, err = Free(status, plate, s.now())
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to free spot", zap.String("plate", plate.String()), zap.Error(err))
		return Placement{}, err
	}
	s.logger.Info("Spot freed",
		zap.String("plate", plate.String()),
		zap.Stringer("floor", placement.Floor),
		zap.Int("spot", placement.Spot))
	return placement, nil
}

// Locate 查找车牌位置
func (s *Store) Locate(plate models.Plate) (Placement, bool) {
	var (
		placement Placement
		ok        bool
	)
	s.View(func(status *models.ParkingStatus) {
		placement, ok = Locate(status, plate)
	})
	return placement, ok
}

// SetFloorBlocked 封闭/开放楼层
func (s *Store) SetFloorBlocked(floor models.FloorID, blocked bool) error {
	err := s.Update(func(status *models.ParkingStatus) error {
		return SetFloorBlocked(status, floor, blocked)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Floor block changed", zap.Stringer("floor", floor), zap.Bool("blocked", blocked))
	return nil
}

// SetEmergencyMode 切换紧急模式，返回切换前的值
func (s *Store) SetEmergencyMode(on bool) bool {
	var prev bool
	_ = s.Update(func(status *models.ParkingStatus) error {
		prev = status.EmergencyMode
		status.EmergencyMode = on
		return nil
	})
	if on {
		s.logger.Warn("Emergency mode enabled")
	} else if prev {
		s.logger.Info("Emergency mode disabled")
	}
	return prev
}

// EmergencyMode 当前是否处于紧急模式
func (s *Store) EmergencyMode() bool {
	var on bool
	s.View(func(status *models.ParkingStatus) {
		on = status.EmergencyMode
	})
	return on
}

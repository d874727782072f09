// Package parking 维护车位占用模型：扫描、分配、释放、计费。
//
// 这里的函数都是纯数据操作，不持有锁；并发访问通过 Store 进行。
package parking

import (
	"errors"
	"fmt"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

var (
	ErrInvalidFloor    = errors.New("invalid floor")
	ErrInvalidSpot     = errors.New("invalid spot index")
	ErrInvalidSpotType = errors.New("invalid spot type")
	ErrSystemFull      = errors.New("parking is full")
	ErrNoSpot          = errors.New("no eligible spot")
	ErrPlateNotFound   = errors.New("plate not found")
	ErrInvalidInterval = errors.New("exit time must be after entry time")
)

// Layout 各楼层车位类型，按车位索引排列，初始化后不可变
type Layout struct {
	Floors [models.NumFloors][]models.SpotType `yaml:"floors" json:"floors"`
}

// DefaultLayout 地面层: PNE, 老年, 普通x2；一二层: PNE x2, 老年 x2, 普通 x4
func DefaultLayout() Layout {
	upper := []models.SpotType{
		models.SpotPNE, models.SpotPNE,
		models.SpotElderly, models.SpotElderly,
		models.SpotCommon, models.SpotCommon, models.SpotCommon, models.SpotCommon,
	}
	return Layout{
		Floors: [models.NumFloors][]models.SpotType{
			{models.SpotPNE, models.SpotElderly, models.SpotCommon, models.SpotCommon},
			append([]models.SpotType(nil), upper...),
			append([]models.SpotType(nil), upper...),
		},
	}
}

// SpotsPerFloor 每层车位数
func (l Layout) SpotsPerFloor() [models.NumFloors]int {
	var n [models.NumFloors]int
	for f := range l.Floors {
		n[f] = len(l.Floors[f])
	}
	return n
}

// Validate 校验布局
func (l Layout) Validate() error {
	for f, types := range l.Floors {
		if len(types) == 0 {
			return fmt.Errorf("floor %d has no spots", f)
		}
		for i, t := range types {
			if !t.Valid() {
				return fmt.Errorf("floor %d spot %d: %w", f, i, ErrInvalidSpotType)
			}
		}
	}
	return nil
}

// New 按布局创建全空的停车场状态
func New(layout Layout, now time.Time) models.ParkingStatus {
	var status models.ParkingStatus
	for f := range layout.Floors {
		spots := make([]models.ParkingSpot, len(layout.Floors[f]))
		for i, t := range layout.Floors[f] {
			spots[i] = models.ParkingSpot{Type: t, ChangedAt: now}
		}
		status.Floors[f].Spots = spots
		Recount(&status.Floors[f])
	}
	RefreshTotals(&status)
	return status
}

// Recount 重新计算楼层按类型的空位、总空位与车辆数
func Recount(floor *models.FloorStatus) {
	var free [models.NumSpotTypes]int
	cars := 0
	for _, spot := range floor.Spots {
		if spot.Occupied {
			cars++
			continue
		}
		switch spot.Type {
		case models.SpotPNE:
			free[models.SpotPNE]++
		case models.SpotElderly:
			free[models.SpotElderly]++
		case models.SpotCommon:
			free[models.SpotCommon]++
		}
	}
	floor.FreeByType = free
	floor.TotalFree = free[models.SpotPNE] + free[models.SpotElderly] + free[models.SpotCommon]
	floor.CarsCount = cars
}

// RefreshTotals 汇总各楼层数据并更新满位标志
func RefreshTotals(status *models.ParkingStatus) {
	var free [models.NumSpotTypes]int
	totalFree, cars := 0, 0
	for f := range status.Floors {
		floor := &status.Floors[f]
		for t := range free {
			free[t] += floor.FreeByType[t]
		}
		totalFree += floor.TotalFree
		cars += floor.CarsCount
	}
	status.TotalFreeByType = free
	status.TotalFree = totalFree
	status.TotalCars = cars
	status.SystemFull = totalFree == 0
}

// SetFloorBlocked 管理性封闭/开放某一楼层
func SetFloorBlocked(status *models.ParkingStatus, floor models.FloorID, blocked bool) error {
	if !floor.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidFloor, int(floor))
	}
	status.Floors[floor].Blocked = blocked
	RefreshTotals(status)
	return nil
}

// CheckInvariants 校验计数不变式，供测试和诊断使用
func CheckInvariants(status *models.ParkingStatus) error {
	var free [models.NumSpotTypes]int
	totalFree, cars := 0, 0
	for f := range status.Floors {
		floor := &status.Floors[f]
		var want [models.NumSpotTypes]int
		occupied := 0
		for _, spot := range floor.Spots {
			if spot.Occupied {
				occupied++
			} else {
				want[spot.Type]++
			}
		}
		if want != floor.FreeByType {
			return fmt.Errorf("floor %d: free by type %v, counted %v", f, floor.FreeByType, want)
		}
		if floor.TotalFree != want[0]+want[1]+want[2] {
			return fmt.Errorf("floor %d: total free %d != sum of types", f, floor.TotalFree)
		}
		if floor.TotalFree+floor.CarsCount != len(floor.Spots) {
			return fmt.Errorf("floor %d: free %d + cars %d != spots %d", f, floor.TotalFree, floor.CarsCount, len(floor.Spots))
		}
		if floor.CarsCount != occupied {
			return fmt.Errorf("floor %d: cars %d, occupied %d", f, floor.CarsCount, occupied)
		}
		for t := range free {
			free[t] += want[t]
		}
		totalFree += floor.TotalFree
		cars += floor.CarsCount
	}
	if free != status.TotalFreeByType || totalFree != status.TotalFree || cars != status.TotalCars {
		return fmt.Errorf("aggregates out of sync: free %v/%d cars %d", status.TotalFreeByType, status.TotalFree, status.TotalCars)
	}
	if status.SystemFull != (status.TotalFree == 0) {
		return fmt.Errorf("system_full=%v with total free %d", status.SystemFull, status.TotalFree)
	}
	return nil
}

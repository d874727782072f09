package parking

import (
	"fmt"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

// SpotSensor 按车位索引读取占用状态（通常是 gpio.Mux）
type SpotSensor interface {
	ReadSpot(index int) (bool, error)
}

// SpotReading 单个车位的一次读数，Err 非空时该车位本轮跳过
type SpotReading struct {
	Occupied bool
	Err      error
}

// SpotChange 扫描发现的一次占用翻转
type SpotChange struct {
	Floor    models.FloorID `json:"floor"`
	Spot     int            `json:"spot"`
	Occupied bool           `json:"occupied"`
	At       time.Time      `json:"at"`
}

// ReadFloor 逐个读取车位传感器，不触碰共享状态，可在锁外执行
func ReadFloor(sensor SpotSensor, spots int) []SpotReading {
	readings := make([]SpotReading, spots)
	for i := range readings {
		occupied, err := sensor.ReadSpot(i)
		readings[i] = SpotReading{Occupied: occupied, Err: err}
	}
	return readings
}

// ApplyScan 把读数合并进楼层状态，返回发生翻转的车位
// 新占用的车位清空车牌和可信度，等待相机读取后填充。
// 保留中的车位在期限内读到空闲时保持占用；读到占用时视为车辆到位，保留车牌并解除保留
func ApplyScan(floor *models.FloorStatus, id models.FloorID, readings []SpotReading, now time.Time) ([]SpotChange, error) {
	if floor == nil || !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFloor, int(id))
	}
	if len(readings) != len(floor.Spots) {
		return nil, fmt.Errorf("%w: %d readings for %d spots", ErrInvalidSpot, len(readings), len(floor.Spots))
	}

	var changes []SpotChange
	for i, r := range readings {
		if r.Err != nil {
			continue
		}
		spot := &floor.Spots[i]
		if !spot.ReservedUntil.IsZero() {
			switch {
			case r.Occupied:
				spot.ReservedUntil = time.Time{}
				if spot.Occupied {
					continue
				}
			case now.Before(spot.ReservedUntil):
				continue
			default:
				// 保留过期，车辆未到位
				spot.ReservedUntil = time.Time{}
				spot.Plate = ""
				spot.Confidence = 0
			}
		}
		if spot.Occupied == r.Occupied {
			continue
		}
		spot.Occupied = r.Occupied
		spot.ChangedAt = now
		if r.Occupied {
			spot.Plate = ""
			spot.Confidence = 0
		}
		changes = append(changes, SpotChange{Floor: id, Spot: i, Occupied: r.Occupied, At: now})
	}

	if len(changes) > 0 {
		Recount(floor)
	}
	return changes, nil
}

// ScanFloor 读取并合并一个楼层，返回翻转的车位数
func ScanFloor(floor *models.FloorStatus, id models.FloorID, sensor SpotSensor, now time.Time) (int, error) {
	if floor == nil || !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFloor, int(id))
	}
	if sensor == nil {
		return 0, fmt.Errorf("scan %s: nil sensor", id)
	}
	changes, err := ApplyScan(floor, id, ReadFloor(sensor, len(floor.Spots)), now)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

package parking

import (
	"fmt"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

// Placement 车辆所在位置
type Placement struct {
	Floor models.FloorID  `json:"floor"`
	Spot  int             `json:"spot"`
	Type  models.SpotType `json:"type"`
	Plate models.Plate    `json:"plate"`
	At    time.Time       `json:"at"`
}

// searchOrder 首选类型在前，其余两种按固定顺序
func searchOrder(preferred models.SpotType) [models.NumSpotTypes]models.SpotType {
	order := [models.NumSpotTypes]models.SpotType{preferred}
	n := 1
	for _, t := range models.SpotTypes {
		if t != preferred {
			order[n] = t
			n++
		}
	}
	return order
}

// ReservationHold 分配后车位保持占用的时长，车辆在此期间从闸口驶入车位
const ReservationHold = 5 * time.Minute

// normalizePlate 校验并返回规范化车牌（去空白、大写）
func normalizePlate(plate models.Plate) (models.Plate, error) {
	return models.ParsePlate(string(plate))
}

// Allocate 为车牌分配车位
// 从首选楼层开始轮询各层，跳过封闭楼层；每层内按类型回退顺序找第一个空位
func Allocate(status *models.ParkingStatus, plate models.Plate, preferred models.SpotType, preferredFloor models.FloorID, now time.Time) (Placement, error) {
	if status.SystemFull {
		return Placement{}, ErrSystemFull
	}
	plate, err := normalizePlate(plate)
	if err != nil {
		return Placement{}, err
	}
	if !preferred.Valid() {
		return Placement{}, fmt.Errorf("%w: %d", ErrInvalidSpotType, int(preferred))
	}
	if !preferredFloor.Valid() {
		return Placement{}, fmt.Errorf("%w: %d", ErrInvalidFloor, int(preferredFloor))
	}

	order := searchOrder(preferred)
	for offset := 0; offset < models.NumFloors; offset++ {
		id := models.FloorID((int(preferredFloor) + offset) % models.NumFloors)
		floor := &status.Floors[id]
		if floor.Blocked {
			continue
		}
		for _, t := range order {
			for i := range floor.Spots {
				spot := &floor.Spots[i]
				if spot.Occupied || spot.Type != t {
					continue
				}
				spot.Occupied = true
				spot.Plate = plate
				spot.ChangedAt = now
				spot.Confidence = 0
				spot.ReservedUntil = now.Add(ReservationHold)
				Recount(floor)
				RefreshTotals(status)
				return Placement{Floor: id, Spot: i, Type: t, Plate: plate, At: now}, nil
			}
		}
	}
	return Placement{}, ErrNoSpot
}

// Free 释放车牌所在车位
func Free(status *models.ParkingStatus, plate models.Plate, now time.Time) (Placement, error) {
	plate, err := normalizePlate(plate)
	if err != nil {
		return Placement{}, err
	}
	for f := range status.Floors {
		floor := &status.Floors[f]
		for i := range floor.Spots {
			spot := &floor.Spots[i]
			if !spot.Occupied || spot.Plate != plate {
				continue
			}
			placement := Placement{Floor: models.FloorID(f), Spot: i, Type: spot.Type, Plate: plate, At: spot.ChangedAt}
			spot.Occupied = false
			spot.Plate = ""
			spot.Confidence = 0
			spot.ReservedUntil = time.Time{}
			spot.ChangedAt = now
			Recount(floor)
			RefreshTotals(status)
			return placement, nil
		}
	}
	return Placement{}, fmt.Errorf("%w: %s", ErrPlateNotFound, plate)
}

// Locate 查找车牌所在车位，At 为入场时间
func Locate(status *models.ParkingStatus, plate models.Plate) (Placement, bool) {
	plate, err := normalizePlate(plate)
	if err != nil {
		return Placement{}, false
	}
	for f := range status.Floors {
		floor := &status.Floors[f]
		for i, spot := range floor.Spots {
			if spot.Occupied && spot.Plate == plate {
				return Placement{Floor: models.FloorID(f), Spot: i, Type: spot.Type, Plate: plate, At: spot.ChangedAt}, true
			}
		}
	}
	return Placement{}, false
}

// AttachPlate 相机读取后把车牌写入某个已占用的车位
func AttachPlate(status *models.ParkingStatus, floor models.FloorID, index int, plate models.Plate, confidence int) error {
	if !floor.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidFloor, int(floor))
	}
	spots := status.Floors[floor].Spots
	if index < 0 || index >= len(spots) {
		return fmt.Errorf("%w: %d", ErrInvalidSpot, index)
	}
	if !spots[index].Occupied {
		return fmt.Errorf("spot %d on %s is free", index, floor)
	}
	plate, err := normalizePlate(plate)
	if err != nil {
		return err
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("confidence %d out of range", confidence)
	}
	spots[index].Plate = plate
	spots[index].Confidence = confidence
	return nil
}

package models

import "time"

// ParkingSpot 单个车位，仅属于所在楼层
type ParkingSpot struct {
	Occupied   bool      `json:"occupied"`
	Type       SpotType  `json:"type"`
	Plate      Plate     `json:"plate,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
	Confidence int       `json:"confidence"` // 0-100, 车牌未知时为 0

	// ReservedUntil 分配后的保留期限，期内传感器读到空闲不释放车位
	ReservedUntil time.Time `json:"reserved_until,omitempty"`
}

// FloorStatus 楼层状态
// 不变式: TotalFree + CarsCount == len(Spots)
type FloorStatus struct {
	Spots      []ParkingSpot     `json:"spots"`
	FreeByType [NumSpotTypes]int `json:"free_by_type"`
	TotalFree  int               `json:"total_free"`
	CarsCount  int               `json:"cars_count"`
	Blocked    bool              `json:"blocked"`
}

// Clone 深拷贝
func (f FloorStatus) Clone() FloorStatus {
	c := f
	c.Spots = make([]ParkingSpot, len(f.Spots))
	copy(c.Spots, f.Spots)
	return c
}

// ParkingStatus 整个停车场状态
type ParkingStatus struct {
	Floors          [NumFloors]FloorStatus `json:"floors"`
	TotalFreeByType [NumSpotTypes]int      `json:"total_free_by_type"`
	TotalFree       int                    `json:"total_free"`
	TotalCars       int                    `json:"total_cars"`
	SystemFull      bool                   `json:"system_full"`
	EmergencyMode   bool                   `json:"emergency_mode"`
}

// Clone 深拷贝，保证快照不与原状态共享车位切片
func (s ParkingStatus) Clone() ParkingStatus {
	c := s
	for i := range s.Floors {
		c.Floors[i] = s.Floors[i].Clone()
	}
	return c
}

// TotalSpots 车位总数
func (s ParkingStatus) TotalSpots() int {
	n := 0
	for i := range s.Floors {
		n += len(s.Floors[i].Spots)
	}
	return n
}

// FloorCounts 对外广播的楼层计数
type FloorCounts struct {
	Floor      FloorID           `json:"floor"`
	FreeByType [NumSpotTypes]int `json:"free_by_type"`
	CarsCount  int               `json:"cars_count"`
	Blocked    bool              `json:"blocked"`
}

// Counts 提取某一楼层的计数
func (s ParkingStatus) Counts(floor FloorID) FloorCounts {
	f := s.Floors[floor]
	return FloorCounts{
		Floor:      floor,
		FreeByType: f.FreeByType,
		CarsCount:  f.CarsCount,
		Blocked:    f.Blocked,
	}
}

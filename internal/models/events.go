package models

import "time"

// PlateReading 单次相机读取结果，不做保留
type PlateReading struct {
	Plate      string    `json:"plate"`
	Confidence int       `json:"confidence"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
}

// Grade 可信度分级，用于日志
func (r PlateReading) Grade() string {
	switch {
	case r.Success:
		return "ok"
	case r.Confidence < LowPlateConfidence:
		return "very_low_confidence"
	default:
		return "low_confidence"
	}
}

// PassageEvent 楼层间通行事件，匿名方向事件，车牌可选
type PassageEvent struct {
	ID        string    `json:"id"`
	FromFloor FloorID   `json:"from_floor"`
	ToFloor   FloorID   `json:"to_floor"`
	Plate     Plate     `json:"plate,omitempty"`
	At        time.Time `json:"at"`
}

// GateTransition 闸门状态变化
type GateTransition struct {
	Gate           GateID    `json:"gate"`
	From           GateState `json:"from"`
	To             GateState `json:"to"`
	OperationCount uint32    `json:"operation_count"`
	At             time.Time `json:"at"`
}

// DeviceFault MODBUS 设备故障记录
type DeviceFault struct {
	Slave     uint8     `json:"slave"`
	Operation string    `json:"operation"`
	Class     string    `json:"class"` // timeout / crc / other
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Timestamped 持久化记录的写入时间
type Timestamped struct {
	RecordedAt time.Time `json:"recorded_at"`
}

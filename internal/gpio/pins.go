package gpio

import "github.com/langchou/parkgate/internal/models"

// FloorPins 楼层车位扫描引脚
type FloorPins struct {
	AddressPins []Pin `yaml:"address_pins" json:"address_pins"`
	SpotSensor  Pin   `yaml:"spot_sensor" json:"spot_sensor"`
}

// GatePins 闸门引脚
type GatePins struct {
	Motor       Pin `yaml:"motor" json:"motor"`
	Direction   Pin `yaml:"direction" json:"direction"` // NoPin 表示单线电机
	SensorOpen  Pin `yaml:"sensor_open" json:"sensor_open"`
	SensorClose Pin `yaml:"sensor_close" json:"sensor_close"`
}

// PassagePins 楼层间通道的两个传感器，S1 靠近下层
type PassagePins struct {
	S1 Pin `yaml:"s1" json:"s1"`
	S2 Pin `yaml:"s2" json:"s2"`
}

// PinMap 整个设施的接线
type PinMap struct {
	Floors  [models.NumFloors]FloorPins   `yaml:"floors" json:"floors"`
	Entry   GatePins                      `yaml:"entry" json:"entry"`
	Exit    GatePins                      `yaml:"exit" json:"exit"`
	Passage [models.NumFloors]PassagePins `yaml:"passage" json:"passage"` // 地面层不使用
}

// Gate 按闸门取引脚
func (m PinMap) Gate(id models.GateID) GatePins {
	switch id {
	case models.GateEntry:
		return m.Entry
	case models.GateExit:
		return m.Exit
	}
	return GatePins{Motor: NoPin, Direction: NoPin, SensorOpen: NoPin, SensorClose: NoPin}
}

// DefaultPinMap 树莓派默认接线
func DefaultPinMap() PinMap {
	return PinMap{
		Floors: [models.NumFloors]FloorPins{
			{AddressPins: []Pin{17, 18}, SpotSensor: 8},
			{AddressPins: []Pin{16, 20, 21}, SpotSensor: 27},
			{AddressPins: []Pin{0, 5, 6}, SpotSensor: 13},
		},
		Entry: GatePins{Motor: 23, Direction: NoPin, SensorOpen: 7, SensorClose: 1},
		Exit:  GatePins{Motor: 24, Direction: NoPin, SensorOpen: 12, SensorClose: 25},
		Passage: [models.NumFloors]PassagePins{
			{S1: NoPin, S2: NoPin},
			{S1: 22, S2: 11},
			{S1: 19, S2: 26},
		},
	}
}

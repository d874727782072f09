package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

// Simulator 内存中的电平驱动，用于测试以及没有硬件时运行
// 未写入过的引脚默认为高电平（上拉，传感器无效）
type Simulator struct {
	mu       sync.Mutex
	pinMap   PinMap
	levels   map[Pin]bool
	failures map[Pin]error
	address  [models.NumFloors]int
	spots    [models.NumFloors][]bool
	plants   []*gatePlant
	writes   map[Pin]int
	now      func() time.Time
}

// NewSimulator 按接线和每层车位数创建模拟器
func NewSimulator(pinMap PinMap, spotsPerFloor [models.NumFloors]int) *Simulator {
	s := &Simulator{
		pinMap:   pinMap,
		levels:   make(map[Pin]bool),
		failures: make(map[Pin]error),
		writes:   make(map[Pin]int),
		now:      time.Now,
	}
	for f := range s.spots {
		s.spots[f] = make([]bool, spotsPerFloor[f])
	}
	return s
}

// SetAddress 记录楼层多路复用器的当前地址
func (s *Simulator) SetAddress(floor models.FloorID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !floor.Valid() {
		return fmt.Errorf("invalid floor %d", int(floor))
	}
	width := len(s.pinMap.Floors[floor].AddressPins)
	if index < 0 || index >= 1<<width || index >= len(s.spots[floor]) {
		return fmt.Errorf("address %d out of range on %s", index, floor)
	}
	s.address[floor] = index
	for bit, pin := range s.pinMap.Floors[floor].AddressPins {
		s.levels[pin] = index&(1<<bit) != 0
	}
	return nil
}

// ReadLevel 读取电平
func (s *Simulator) ReadLevel(pin Pin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[pin]; err != nil {
		return false, err
	}
	for f := range s.pinMap.Floors {
		if s.pinMap.Floors[f].SpotSensor == pin && len(s.spots[f]) > 0 {
			return !s.spots[f][s.address[f]], nil
		}
	}
	now := s.now()
	for _, p := range s.plants {
		if level, ok := p.sensorLevel(pin, now); ok {
			return level, nil
		}
	}
	level, ok := s.levels[pin]
	if !ok {
		return true, nil
	}
	return level, nil
}

// WriteLevel 写电平
func (s *Simulator) WriteLevel(pin Pin, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[pin]; err != nil {
		return err
	}
	now := s.now()
	for _, p := range s.plants {
		p.onWrite(pin, high, now)
	}
	s.levels[pin] = high
	s.writes[pin]++
	return nil
}

// SetAsserted 直接设置传感器是否有效（低电平有效）
func (s *Simulator) SetAsserted(pin Pin, asserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[pin] = !asserted
}

// SetOccupied 设置某个车位传感器的占用状态
func (s *Simulator) SetOccupied(floor models.FloorID, index int, occupied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spots[floor][index] = occupied
}

// Fail 让某引脚的读写返回错误，err 为 nil 时恢复
func (s *Simulator) Fail(pin Pin, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, pin)
		return
	}
	s.failures[pin] = err
}

// Level 当前电平
func (s *Simulator) Level(pin Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Writes 某引脚被写入的次数
func (s *Simulator) Writes(pin Pin) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[pin]
}

// AttachGate 为闸门接入一个简单的机械模型：电机持续通电 travel 时间后到达限位
func (s *Simulator) AttachGate(pins GatePins, travel time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plants = append(s.plants, &gatePlant{pins: pins, travel: travel})
}

// gatePlant 闸门位置模型，0 为关闭，1 为打开
type gatePlant struct {
	pins    GatePins
	travel  time.Duration
	pos     float64
	motorOn bool
	forward bool
	last    time.Time
}

func (p *gatePlant) advance(now time.Time) {
	if p.motorOn && !p.last.IsZero() && p.travel > 0 {
		delta := float64(now.Sub(p.last)) / float64(p.travel)
		if p.forward {
			p.pos += delta
		} else {
			p.pos -= delta
		}
		if p.pos > 1 {
			p.pos = 1
		}
		if p.pos < 0 {
			p.pos = 0
		}
	}
	p.last = now
}

func (p *gatePlant) onWrite(pin Pin, high bool, now time.Time) {
	switch pin {
	case p.pins.Direction:
		p.advance(now)
		p.forward = high
	case p.pins.Motor:
		p.advance(now)
		if high && !p.motorOn && p.pins.Direction == NoPin {
			p.forward = p.pos < 0.5
		}
		p.motorOn = high
	}
}

func (p *gatePlant) sensorLevel(pin Pin, now time.Time) (bool, bool) {
	switch pin {
	case p.pins.SensorOpen:
		p.advance(now)
		return p.pos < 1, true
	case p.pins.SensorClose:
		p.advance(now)
		return p.pos > 0, true
	}
	return false, false
}

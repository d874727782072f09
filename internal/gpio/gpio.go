// Package gpio 定义核心逻辑使用的 GPIO 能力。
//
// 真实的引脚/多路复用驱动不在本仓库实现，核心只依赖 Pins 接口：
// 设置多路复用地址、读取传感器、写执行器。传感器为低电平有效。
package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

// Pin BCM 引脚编号
type Pin uint8

// NoPin 表示未接线
const NoPin Pin = 0xFF

// Pins 核心使用的 GPIO 能力，ReadSensor 返回的是“有效”而不是电平
type Pins interface {
	SetAddress(floor models.FloorID, index int) error
	ReadSensor(pin Pin) (bool, error)
	WriteActuator(pin Pin, on bool) error
}

// Driver 原始电平驱动
type Driver interface {
	SetAddress(floor models.FloorID, index int) error
	ReadLevel(pin Pin) (bool, error)
	WriteLevel(pin Pin, high bool) error
}

// ActiveLow 把原始电平驱动适配为 Pins：电平 0 视为有效
type ActiveLow struct {
	Driver Driver
}

// SetAddress 设置多路复用地址
func (a ActiveLow) SetAddress(floor models.FloorID, index int) error {
	return a.Driver.SetAddress(floor, index)
}

// ReadSensor 读取传感器，低电平有效
func (a ActiveLow) ReadSensor(pin Pin) (bool, error) {
	level, err := a.Driver.ReadLevel(pin)
	if err != nil {
		return false, err
	}
	return !level, nil
}

// WriteActuator 执行器高电平驱动
func (a ActiveLow) WriteActuator(pin Pin, on bool) error {
	return a.Driver.WriteLevel(pin, on)
}

// Mux 单个楼层的车位多路复用器
// 设置地址再读取是复合操作，同一物理多路复用器上必须串行
type Mux struct {
	mu     sync.Mutex
	pins   Pins
	floor  models.FloorID
	sensor Pin
	settle time.Duration
}

// NewMux 创建多路复用读取器，settle 为地址切换后的稳定时间
func NewMux(pins Pins, floor models.FloorID, sensor Pin, settle time.Duration) *Mux {
	return &Mux{
		pins:   pins,
		floor:  floor,
		sensor: sensor,
		settle: settle,
	}
}

// ReadSpot 读取某个车位是否被占用
func (m *Mux) ReadSpot(index int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pins.SetAddress(m.floor, index); err != nil {
		return false, fmt.Errorf("set address %d on %s: %w", index, m.floor, err)
	}
	if m.settle > 0 {
		time.Sleep(m.settle)
	}
	occupied, err := m.pins.ReadSensor(m.sensor)
	if err != nil {
		return false, fmt.Errorf("read spot sensor %d on %s: %w", index, m.floor, err)
	}
	return occupied, nil
}

// Package passage 楼层间通道的双传感器方向识别。
package passage

import (
	"fmt"
	"time"
)

// DefaultTimeout 最后一次激活后超过该时间，未完成的序列被丢弃
const DefaultTimeout = 5 * time.Second

// Phase 检测器阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseS1Active
	PhaseS2Active
	PhaseBothActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseS1Active:
		return "s1_active"
	case PhaseS2Active:
		return "s2_active"
	case PhaseBothActive:
		return "both_active"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Direction 通行方向，S1 靠近 A 侧，S2 靠近 B 侧
type Direction int

const (
	DirectionBtoA Direction = -1
	DirectionNone Direction = 0
	DirectionAtoB Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionAtoB:
		return "a_to_b"
	case DirectionBtoA:
		return "b_to_a"
	case DirectionNone:
		return "none"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Detector 一个通道的方向解码器，状态只属于这个实例
type Detector struct {
	timeout        time.Duration
	phase          Phase
	ledByS1        bool
	lastActivation time.Time
}

// NewDetector 创建解码器，timeout <= 0 时使用默认值
func NewDetector(timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Detector{timeout: timeout}
}

// Phase 当前阶段
func (d *Detector) Phase() Phase {
	return d.phase
}

// Reset 回到空闲
func (d *Detector) Reset() {
	d.phase = PhaseIdle
	d.ledByS1 = false
}

// Update 输入一次采样，完成一次通行时返回方向，否则返回 DirectionNone
//
// 先触发的传感器在两者都有效之后先释放，即视为朝另一侧完成通行；
// 随后进入剩余传感器的单独有效阶段，吸收尾部释放。
func (d *Detector) Update(s1, s2 bool, now time.Time) Direction {
	if d.phase != PhaseIdle && now.Sub(d.lastActivation) > d.timeout {
		d.Reset()
	}

	switch d.phase {
	case PhaseIdle:
		switch {
		case s1 && !s2:
			d.phase = PhaseS1Active
			d.ledByS1 = true
			d.lastActivation = now
		case !s1 && s2:
			d.phase = PhaseS2Active
			d.ledByS1 = false
			d.lastActivation = now
		}

	case PhaseS1Active, PhaseS2Active:
		switch {
		case s1 && s2:
			d.phase = PhaseBothActive
		case !s1 && !s2:
			d.Reset()
		}

	case PhaseBothActive:
		switch {
		case !s1 && s2 && d.ledByS1:
			d.phase = PhaseS2Active
			return DirectionAtoB
		case s1 && !s2 && !d.ledByS1:
			d.phase = PhaseS1Active
			return DirectionBtoA
		case !s1 && !s2:
			d.Reset()
		}
	}
	return DirectionNone
}

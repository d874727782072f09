package models

import (
	"errors"
	"fmt"
	"strings"
)

// 楼层数量与各层车位数
const (
	NumFloors = 3

	MinPlateLength = 7
	MaxPlateLength = 8

	// MinPlateConfidence 车牌识别可信阈值
	MinPlateConfidence = 70
	// LowPlateConfidence 低于该值视为极低可信度
	LowPlateConfidence = 60
)

// DefaultSpotsPerFloor 地面层 4 个车位，一层、二层各 8 个
var DefaultSpotsPerFloor = [NumFloors]int{4, 8, 8}

// ErrInvalidPlate 车牌格式非法
var ErrInvalidPlate = errors.New("invalid plate")

// SpotType 车位类型
type SpotType int

const (
	SpotPNE SpotType = iota
	SpotElderly
	SpotCommon

	NumSpotTypes = 3
)

// SpotTypes 固定的类型顺序，分配时用于构造回退顺序
var SpotTypes = [NumSpotTypes]SpotType{SpotPNE, SpotElderly, SpotCommon}

func (t SpotType) String() string {
	switch t {
	case SpotPNE:
		return "pne"
	case SpotElderly:
		return "elderly"
	case SpotCommon:
		return "common"
	}
	return fmt.Sprintf("spot_type(%d)", int(t))
}

// Valid 是否为已知类型
func (t SpotType) Valid() bool {
	switch t {
	case SpotPNE, SpotElderly, SpotCommon:
		return true
	}
	return false
}

// ParseSpotType 从配置/请求中解析类型
func ParseSpotType(s string) (SpotType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pne", "disabled":
		return SpotPNE, nil
	case "elderly", "idoso":
		return SpotElderly, nil
	case "common", "comum", "":
		return SpotCommon, nil
	}
	return SpotCommon, fmt.Errorf("unknown spot type %q", s)
}

// MarshalText 以字符串形式输出 JSON/YAML
func (t SpotType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown spot type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText 解析字符串形式的类型
func (t *SpotType) UnmarshalText(b []byte) error {
	v, err := ParseSpotType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// FloorID 楼层编号
type FloorID int

const (
	FloorGround FloorID = iota
	FloorFirst
	FloorSecond
)

func (f FloorID) String() string {
	switch f {
	case FloorGround:
		return "ground"
	case FloorFirst:
		return "floor1"
	case FloorSecond:
		return "floor2"
	}
	return fmt.Sprintf("floor(%d)", int(f))
}

// Valid 是否在 0..NumFloors-1 范围内
func (f FloorID) Valid() bool {
	return f >= 0 && int(f) < NumFloors
}

// Plate 车牌号，构造时校验长度 7-8 且均为可打印 ASCII
// 零值表示未知车牌
type Plate string

// ParsePlate 校验并构造车牌
func ParsePlate(s string) (Plate, error) {
	s = strings.TrimSpace(s)
	if len(s) < MinPlateLength || len(s) > MaxPlateLength {
		return "", fmt.Errorf("%w: %q must have %d-%d characters", ErrInvalidPlate, s, MinPlateLength, MaxPlateLength)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 32 || s[i] > 126 {
			return "", fmt.Errorf("%w: %q contains non-printable byte", ErrInvalidPlate, s)
		}
	}
	return Plate(strings.ToUpper(s)), nil
}

func (p Plate) String() string {
	return string(p)
}

// Known 是否已识别
func (p Plate) Known() bool {
	return p != ""
}

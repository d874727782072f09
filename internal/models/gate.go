package models

import (
	"fmt"
	"time"
)

// GateID 闸门标识
type GateID int

const (
	GateEntry GateID = iota
	GateExit
)

// Gates 所有闸门，按固定顺序
var Gates = [...]GateID{GateEntry, GateExit}

func (g GateID) String() string {
	switch g {
	case GateEntry:
		return "entry"
	case GateExit:
		return "exit"
	}
	return fmt.Sprintf("gate(%d)", int(g))
}

// ParseGateID 从路由参数解析闸门
func ParseGateID(s string) (GateID, error) {
	switch s {
	case "entry":
		return GateEntry, nil
	case "exit":
		return GateExit, nil
	}
	return 0, fmt.Errorf("unknown gate %q", s)
}

// GateState 闸门状态，字符串值直接作为状态机状态名
type GateState string

const (
	GateClosed  GateState = "closed"
	GateOpening GateState = "opening"
	GateOpen    GateState = "open"
	GateClosing GateState = "closing"
	GateError   GateState = "error"
)

// GateSnapshot 闸门诊断快照
type GateSnapshot struct {
	Gate           GateID    `json:"gate"`
	Name           string    `json:"name"`
	State          GateState `json:"state"`
	OperationCount uint32    `json:"operation_count"`
	LastOperation  time.Time `json:"last_operation"`
	SensorOpen     bool      `json:"sensor_open"`
	SensorClosed   bool      `json:"sensor_closed"`
}

package modbus

import (
	"errors"
	"sync"
)

// Stats 进程级通信统计
type Stats struct {
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	Errors            uint64 `json:"errors"`
	Timeouts          uint64 `json:"timeouts"`
	CRCErrors         uint64 `json:"crc_errors"`
}

// 失败分类
const (
	ClassTimeout = "timeout"
	ClassCRC     = "crc"
	ClassOther   = "other"
)

// Classify 把一次失败归入 timeout / crc / other
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrPollTimeout):
		return ClassTimeout
	case errors.Is(err, ErrCRC):
		return ClassCRC
	}
	return ClassOther
}

type statsCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCounter) sent() {
	c.mu.Lock()
	c.s.RequestsSent++
	c.mu.Unlock()
}

func (c *statsCounter) received() {
	c.mu.Lock()
	c.s.ResponsesReceived++
	c.mu.Unlock()
}

func (c *statsCounter) failed(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch class {
	case ClassTimeout:
		c.s.Timeouts++
	case ClassCRC:
		c.s.CRCErrors++
	default:
		c.s.Errors++
	}
}

func (c *statsCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

func (c *statsCounter) reset() {
	c.mu.Lock()
	c.s = Stats{}
	c.mu.Unlock()
}

package modbus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Transport 半双工字节通道
type Transport interface {
	// Send 写出完整的请求帧
	Send(frame []byte) error
	// Receive 读取恰好 n 个字节，超时返回 ErrTimeout
	Receive(n int) ([]byte, error)
	// Flush 丢弃输入缓冲中的残留字节
	Flush() error
	Close() error
}

// SerialConfig 串口参数，固定 8N1
type SerialConfig struct {
	Device   string
	BaudRate int
	Timeout  time.Duration
}

// SerialTransport 基于 go.bug.st/serial 的串口传输
type SerialTransport struct {
	port    serial.Port
	timeout time.Duration
}

// OpenSerial 打开串口
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Device, err)
	}
	return &SerialTransport{port: port, timeout: cfg.Timeout}, nil
}

// Send 写出请求帧
func (t *SerialTransport) Send(frame []byte) error {
	for written := 0; written < len(frame); {
		n, err := t.port.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		written += n
	}
	return nil
}

// Receive 在响应超时内读满 n 个字节
func (t *SerialTransport) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	deadline := time.Now().Add(t.timeout)
	for total < n {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("waiting for %d bytes, got %d: %w", n, total, ErrTimeout)
		}
		m, err := t.port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if m == 0 {
			// 读超时返回 0 字节
			continue
		}
		total += m
	}
	return buf, nil
}

// Flush 清空输入缓冲
func (t *SerialTransport) Flush() error {
	return t.port.ResetInputBuffer()
}

// Close 关闭串口
func (t *SerialTransport) Close() error {
	return t.port.Close()
}

package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 功能码
const (
	FuncReadHoldingRegisters   byte = 0x03
	FuncWriteSingleRegister    byte = 0x06
	FuncWriteMultipleRegisters byte = 0x10

	exceptionFlag byte = 0x80
)

// 设备地址
const (
	AddrEntryCamera byte = 0x11
	AddrExitCamera  byte = 0x12
	AddrDisplay     byte = 0x20
)

// maxRegisters 单次写多个寄存器的上限
const maxRegisters = 123

var (
	ErrTimeout          = errors.New("modbus: response timeout")
	ErrCRC              = errors.New("modbus: crc mismatch")
	ErrRetriesExhausted = errors.New("modbus: retries exhausted")
	ErrCameraError      = errors.New("modbus: camera reported error")
	ErrPollTimeout      = errors.New("modbus: camera did not finish capture in time")
	ErrClosed           = errors.New("modbus: transport closed")
)

// ExceptionError 从站返回的异常响应
type ExceptionError struct {
	Slave    byte
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: slave 0x%02X exception 0x%02X on function 0x%02X (%s)",
		e.Slave, e.Code, e.Function, exceptionText(e.Code))
}

func exceptionText(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x06:
		return "server device busy"
	}
	return "unknown"
}

// FrameDecorator 在计算 CRC 之前修改请求帧，用于固件要求的附加字段
type FrameDecorator func(frame []byte) []byte

// IdentifierTrailer 部分固件要求写请求在 CRC 前附加 4 位识别码，
// 每两位编码为一个大端 16 位字，"1234" 编码为 01 02 03 04
func IdentifierTrailer(id string) (FrameDecorator, error) {
	if len(id) < 4 {
		return nil, fmt.Errorf("identifier %q must have at least 4 digits", id)
	}
	last := id[len(id)-4:]
	trailer := make([]byte, 4)
	for i := 0; i < 4; i++ {
		if last[i] < '0' || last[i] > '9' {
			return nil, fmt.Errorf("identifier %q: %q is not a digit", id, last[i])
		}
		trailer[i] = last[i] - '0'
	}
	return func(frame []byte) []byte {
		return append(frame, trailer...)
	}, nil
}

// EncodeRequest 组装请求帧：从站 | 功能码 | 数据 | [装饰] | CRC
func EncodeRequest(slave, function byte, data []byte, decorators ...FrameDecorator) []byte {
	frame := make([]byte, 0, 2+len(data)+8)
	frame = append(frame, slave, function)
	frame = append(frame, data...)
	for _, d := range decorators {
		if d != nil {
			frame = d(frame)
		}
	}
	return AppendCRC(frame)
}

// ReadHoldingRegistersRequest 读保持寄存器
func ReadHoldingRegistersRequest(slave byte, start, quantity uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], start)
	binary.BigEndian.PutUint16(data[2:], quantity)
	return EncodeRequest(slave, FuncReadHoldingRegisters, data)
}

// WriteSingleRegisterRequest 写单个寄存器
func WriteSingleRegisterRequest(slave byte, register, value uint16, decorators ...FrameDecorator) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], register)
	binary.BigEndian.PutUint16(data[2:], value)
	return EncodeRequest(slave, FuncWriteSingleRegister, data, decorators...)
}

// WriteMultipleRegistersRequest 写多个寄存器
func WriteMultipleRegistersRequest(slave byte, start uint16, values []uint16, decorators ...FrameDecorator) ([]byte, error) {
	if len(values) == 0 || len(values) > maxRegisters {
		return nil, fmt.Errorf("modbus: register count %d out of range 1-%d", len(values), maxRegisters)
	}
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:], start)
	binary.BigEndian.PutUint16(data[2:], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return EncodeRequest(slave, FuncWriteMultipleRegisters, data, decorators...), nil
}

// DecodeResponse 校验响应帧并返回数据部分（不含从站、功能码和 CRC）
func DecodeResponse(frame []byte, slave, function byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("modbus: short response (%d bytes)", len(frame))
	}
	if !CheckCRC(frame) {
		return nil, fmt.Errorf("% X: %w", frame, ErrCRC)
	}
	if frame[0] != slave {
		return nil, fmt.Errorf("modbus: response from slave 0x%02X, expected 0x%02X", frame[0], slave)
	}
	switch frame[1] {
	case function:
		return frame[2 : len(frame)-2], nil
	case function | exceptionFlag:
		if len(frame) != 5 {
			return nil, fmt.Errorf("modbus: malformed exception response (%d bytes)", len(frame))
		}
		return nil, &ExceptionError{Slave: slave, Function: function, Code: frame[2]}
	}
	return nil, fmt.Errorf("modbus: unexpected function 0x%02X, expected 0x%02X", frame[1], function)
}

// ParseRegisters 解析读寄存器响应的数据部分：字节数 + 大端寄存器
func ParseRegisters(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) < 1 || int(data[0]) != len(data)-1 || int(data[0]) != 2*int(quantity) {
		return nil, fmt.Errorf("modbus: register payload of %d bytes, expected %d registers", len(data), quantity)
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[1+2*i:])
	}
	return regs, nil
}

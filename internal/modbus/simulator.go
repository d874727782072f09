package modbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
)

// Fault 注入到下一次请求的故障
type Fault int

const (
	FaultNone Fault = iota
	FaultNoResponse
	FaultCorruptCRC
	FaultException
)

const simRegisters = 16

type simCamera struct {
	plate      string
	confidence uint16
	fail       bool
	pending    int // 触发后还需返回多少次 processing
}

// Simulator 内存中的 RTU 总线，模拟两台相机和显示屏
// 用于测试以及没有串口时运行（MODBUS_DEVICE=sim）
type Simulator struct {
	mu       sync.Mutex
	trailer  []byte
	regs     map[byte][]uint16
	cameras  map[byte]*simCamera
	latency  int
	faults   []Fault
	out      []byte
	requests [][]byte
	closed   bool
}

// NewSimulator 创建模拟总线，identifier 非空时写请求必须携带识别码
func NewSimulator(identifier string) (*Simulator, error) {
	s := &Simulator{
		regs:    make(map[byte][]uint16),
		cameras: make(map[byte]*simCamera),
		latency: 2,
	}
	if identifier != "" {
		d, err := IdentifierTrailer(identifier)
		if err != nil {
			return nil, err
		}
		s.trailer = d(nil)
	}
	for _, addr := range []byte{AddrEntryCamera, AddrExitCamera, AddrDisplay} {
		s.regs[addr] = make([]uint16, simRegisters)
	}
	s.cameras[AddrEntryCamera] = &simCamera{}
	s.cameras[AddrExitCamera] = &simCamera{}
	return s, nil
}

// SetPlate 设置相机下一次抓拍的结果
func (s *Simulator) SetPlate(addr byte, plate string, confidence uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam, ok := s.cameras[addr]; ok {
		cam.plate = plate
		cam.confidence = confidence
		cam.fail = false
	}
}

// SetCameraFailure 让相机下一次抓拍报错
func (s *Simulator) SetCameraFailure(addr byte, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam, ok := s.cameras[addr]; ok {
		cam.fail = fail
	}
}

// SetLatency 触发后返回 processing 的查询次数，负数表示永不完成
func (s *Simulator) SetLatency(polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = polls
}

// InjectFault 依次作用于后续请求
func (s *Simulator) InjectFault(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Registers 某个从站寄存器的拷贝
func (s *Simulator) Registers(addr byte) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.regs[addr]...)
}

// Requests 收到的所有原始请求帧
func (s *Simulator) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	for i, r := range s.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Send 处理一帧请求并准备响应
func (s *Simulator) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.requests = append(s.requests, append([]byte(nil), frame...))

	fault := FaultNone
	if len(s.faults) > 0 {
		fault, s.faults = s.faults[0], s.faults[1:]
	}
	if fault == FaultNoResponse || !CheckCRC(frame) || len(frame) < 4 {
		return nil
	}

	slave, function := frame[0], frame[1]
	regs, ok := s.regs[slave]
	if !ok {
		return nil
	}
	body := frame[2 : len(frame)-2]

	var resp []byte
	if fault == FaultException {
		resp = []byte{slave, function | exceptionFlag, 0x04}
	} else {
		resp = s.handle(slave, function, body, regs)
	}
	resp = AppendCRC(resp)
	if fault == FaultCorruptCRC {
		resp[len(resp)-1] ^= 0xFF
	}
	s.out = append(s.out, resp...)
	return nil
}

func (s *Simulator) handle(slave, function byte, body []byte, regs []uint16) []byte {
	exception := func(code byte) []byte {
		return []byte{slave, function | exceptionFlag, code}
	}

	if function == FuncWriteSingleRegister || function == FuncWriteMultipleRegisters {
		if len(s.trailer) > 0 {
			if !bytes.HasSuffix(body, s.trailer) {
				return exception(0x03)
			}
			body = body[:len(body)-len(s.trailer)]
		}
	}

	switch function {
	case FuncReadHoldingRegisters:
		if len(body) != 4 {
			return exception(0x03)
		}
		start := binary.BigEndian.Uint16(body[0:])
		qty := binary.BigEndian.Uint16(body[2:])
		if int(start)+int(qty) > len(regs) {
			return exception(0x02)
		}
		if cam, ok := s.cameras[slave]; ok && start == RegCameraStatus {
			s.advanceCamera(slave, cam)
		}
		resp := []byte{slave, function, byte(2 * qty)}
		for _, v := range regs[start : start+qty] {
			resp = binary.BigEndian.AppendUint16(resp, v)
		}
		return resp

	case FuncWriteSingleRegister:
		if len(body) != 4 {
			return exception(0x03)
		}
		reg := binary.BigEndian.Uint16(body[0:])
		value := binary.BigEndian.Uint16(body[2:])
		if int(reg) >= len(regs) {
			return exception(0x02)
		}
		regs[reg] = value
		if cam, ok := s.cameras[slave]; ok && reg == RegCameraTrigger && value == 1 {
			cam.pending = s.latency
			regs[RegCameraStatus] = uint16(CameraProcessing)
		}
		return append([]byte{slave, function}, body...)

	case FuncWriteMultipleRegisters:
		if len(body) < 5 {
			return exception(0x03)
		}
		start := binary.BigEndian.Uint16(body[0:])
		qty := binary.BigEndian.Uint16(body[2:])
		if int(body[4]) != 2*int(qty) || len(body) != 5+2*int(qty) {
			return exception(0x03)
		}
		if int(start)+int(qty) > len(regs) {
			return exception(0x02)
		}
		for i := 0; i < int(qty); i++ {
			regs[int(start)+i] = binary.BigEndian.Uint16(body[5+2*i:])
		}
		return append([]byte{slave, function}, body[:4]...)
	}
	return exception(0x01)
}

// advanceCamera 每次状态查询推进一次抓拍过程
func (s *Simulator) advanceCamera(slave byte, cam *simCamera) {
	regs := s.regs[slave]
	if CameraStatus(regs[RegCameraStatus]) != CameraProcessing {
		return
	}
	if cam.pending != 0 {
		if cam.pending > 0 {
			cam.pending--
		}
		return
	}
	if cam.fail {
		regs[RegCameraStatus] = uint16(CameraFailed)
		return
	}
	copy(regs[RegCameraPlate:], EncodePlate(cam.plate))
	regs[RegCameraConfidence] = cam.confidence
	regs[RegCameraStatus] = uint16(CameraOK)
}

// Receive 读取 n 个已准备好的响应字节，不够时视为超时
func (s *Simulator) Receive(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.out) < n {
		s.out = nil
		return nil, fmt.Errorf("waiting for %d bytes: %w", n, ErrTimeout)
	}
	b := append([]byte(nil), s.out[:n]...)
	s.out = s.out[n:]
	return b, nil
}

// Flush 丢弃未读的响应
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = nil
	return nil
}

// Close 关闭总线
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
)

// 默认参数
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 50 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadTimeout  = 2000 * time.Millisecond
)

// Config 客户端参数
type Config struct {
	MaxRetries   int
	BaseDelay    time.Duration
	PollInterval time.Duration
	// Identifier 非空时写请求附加识别码
	Identifier string
}

// FaultFunc 每次最终失败的回调，在总线锁外调用
type FaultFunc func(models.DeviceFault)

// Client MODBUS 客户端，一次完整往返（含重试）期间独占总线
type Client struct {
	mu        sync.Mutex
	transport Transport
	cfg       Config
	decorate  FrameDecorator
	stats     statsCounter
	logger    *zap.Logger
	onFault   FaultFunc
	now       func() time.Time
}

// NewClient 创建客户端
func NewClient(transport Transport, cfg Config, logger *zap.Logger, onFault FaultFunc) (*Client, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	c := &Client{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		onFault:   onFault,
		now:       time.Now,
	}
	if cfg.Identifier != "" {
		d, err := IdentifierTrailer(cfg.Identifier)
		if err != nil {
			return nil, err
		}
		c.decorate = d
	}
	return c, nil
}

// Close 关闭底层传输
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.Close()
}

// Stats 统计快照
func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

// ResetStats 清零统计
func (c *Client) ResetStats() {
	c.stats.reset()
	c.logger.Info("MODBUS statistics reset")
}

// transact 发送请求并读取响应，失败时按 BaseDelay*2^attempt 退避重试
// 异常响应是从站的确定答复，不重试
func (c *Client) transact(ctx context.Context, op string, req []byte) ([]byte, error) {
	slave, function := req[0], req[1]

	c.mu.Lock()
	data, err := c.transactLocked(ctx, op, req, slave, function)
	c.mu.Unlock()

	if err != nil && c.onFault != nil && ctx.Err() == nil {
		c.onFault(models.DeviceFault{
			Slave:     slave,
			Operation: op,
			Class:     Classify(err),
			Message:   err.Error(),
			At:        c.now(),
		})
	}
	return data, err
}

func (c *Client) transactLocked(ctx context.Context, op string, req []byte, slave, function byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.roundTrip(req, slave, function)
		if err == nil {
			c.stats.received()
			return data, nil
		}

		class := Classify(err)
		c.stats.failed(class)
		c.logger.Debug("MODBUS attempt failed",
			zap.String("op", op),
			zap.Uint8("slave", slave),
			zap.Int("attempt", attempt+1),
			zap.String("class", class),
			zap.Error(err))

		var exc *ExceptionError
		if errors.As(err, &exc) {
			return nil, err
		}
		lastErr = err
	}

	c.stats.failed(ClassOther)
	c.logger.Warn("MODBUS request failed",
		zap.String("op", op),
		zap.Uint8("slave", slave),
		zap.Int("attempts", c.cfg.MaxRetries+1),
		zap.Error(lastErr))
	return nil, fmt.Errorf("%s slave 0x%02X: %w: %w", op, slave, ErrRetriesExhausted, lastErr)
}

// roundTrip 单次发送与接收
func (c *Client) roundTrip(req []byte, slave, function byte) ([]byte, error) {
	if err := c.transport.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	c.stats.sent()
	if err := c.transport.Send(req); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	frame, err := c.readResponse(function)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(frame, slave, function)
}

// readResponse 先读从站和功能码，再按功能码决定剩余长度
func (c *Client) readResponse(function byte) ([]byte, error) {
	head, err := c.transport.Receive(2)
	if err != nil {
		return nil, err
	}

	var rest []byte
	switch {
	case head[1] == function|exceptionFlag:
		rest, err = c.transport.Receive(3)
	case function == FuncReadHoldingRegisters:
		var count []byte
		if count, err = c.transport.Receive(1); err != nil {
			return nil, err
		}
		var tail []byte
		if tail, err = c.transport.Receive(int(count[0]) + 2); err != nil {
			return nil, err
		}
		rest = append(count, tail...)
	case function == FuncWriteSingleRegister, function == FuncWriteMultipleRegisters:
		rest, err = c.transport.Receive(6)
	default:
		return nil, fmt.Errorf("modbus: unsupported function 0x%02X", function)
	}
	if err != nil {
		return nil, err
	}
	return append(head, rest...), nil
}

// ReadRegisters 读保持寄存器
func (c *Client) ReadRegisters(ctx context.Context, slave byte, start, quantity uint16) ([]uint16, error) {
	data, err := c.transact(ctx, "read_registers", ReadHoldingRegistersRequest(slave, start, quantity))
	if err != nil {
		return nil, err
	}
	return ParseRegisters(data, quantity)
}

// WriteRegister 写单个寄存器，带识别码装饰
func (c *Client) WriteRegister(ctx context.Context, slave byte, register, value uint16) error {
	_, err := c.transact(ctx, "write_register", WriteSingleRegisterRequest(slave, register, value, c.decorate))
	return err
}

// WriteRegisters 写多个寄存器，带识别码装饰
func (c *Client) WriteRegisters(ctx context.Context, slave byte, start uint16, values []uint16) error {
	req, err := WriteMultipleRegistersRequest(slave, start, values, c.decorate)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, "write_registers", req)
	return err
}

// TestDevice 诊断用的单寄存器读取
func (c *Client) TestDevice(ctx context.Context, addr byte) error {
	if _, err := c.ReadRegisters(ctx, addr, 0, 1); err != nil {
		c.logger.Warn("MODBUS device not responding", zap.Uint8("slave", addr), zap.Error(err))
		return err
	}
	c.logger.Info("MODBUS device OK", zap.Uint8("slave", addr))
	return nil
}

// DeviceResult 一个设备的诊断结果
type DeviceResult struct {
	Address byte   `json:"address"`
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// TestAllDevices 依次测试两台相机和显示屏
func (c *Client) TestAllDevices(ctx context.Context) []DeviceResult {
	devices := []struct {
		addr byte
		name string
	}{
		{AddrEntryCamera, "entry_camera"},
		{AddrExitCamera, "exit_camera"},
		{AddrDisplay, "display"},
	}

	results := make([]DeviceResult, 0, len(devices))
	for _, d := range devices {
		r := DeviceResult{Address: d.addr, Name: d.name, OK: true}
		if err := c.TestDevice(ctx, d.addr); err != nil {
			r.OK = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

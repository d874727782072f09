package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
)

// 相机寄存器
const (
	RegCameraStatus     uint16 = 0
	RegCameraTrigger    uint16 = 1
	RegCameraPlate      uint16 = 2
	RegCameraConfidence uint16 = 6

	plateRegisters = 4
)

// CameraStatus 相机状态寄存器取值
type CameraStatus uint16

const (
	CameraReady      CameraStatus = 0
	CameraProcessing CameraStatus = 1
	CameraOK         CameraStatus = 2
	CameraFailed     CameraStatus = 3
)

// Camera 车牌识别相机
type Camera int

const (
	CameraEntry Camera = iota
	CameraExit
)

// Address 从站地址
func (c Camera) Address() byte {
	switch c {
	case CameraEntry:
		return AddrEntryCamera
	case CameraExit:
		return AddrExitCamera
	}
	panic(fmt.Sprintf("modbus: unknown camera %d", int(c)))
}

func (c Camera) String() string {
	switch c {
	case CameraEntry:
		return "entry"
	case CameraExit:
		return "exit"
	}
	return fmt.Sprintf("camera(%d)", int(c))
}

// CameraFor 闸门对应的相机
func CameraFor(gate models.GateID) Camera {
	switch gate {
	case models.GateEntry:
		return CameraEntry
	case models.GateExit:
		return CameraExit
	}
	panic(fmt.Sprintf("modbus: no camera for gate %d", int(gate)))
}

// Trigger 触发一次抓拍
func (c *Client) Trigger(ctx context.Context, cam Camera) error {
	if err := c.WriteRegister(ctx, cam.Address(), RegCameraTrigger, 1); err != nil {
		c.logger.Error("Failed to trigger camera", zap.Stringer("camera", cam), zap.Error(err))
		return fmt.Errorf("trigger %s camera: %w", cam, err)
	}
	c.logger.Info("Camera triggered", zap.Stringer("camera", cam))
	return nil
}

// ReadPlate 每 PollInterval 查询一次状态，直到识别完成、相机报错或超时
// timeout <= 0 时使用 2000ms
func (c *Client) ReadPlate(ctx context.Context, cam Camera, timeout time.Duration) (models.PlateReading, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	addr := cam.Address()
	deadline := c.now().Add(timeout)

	for {
		regs, err := c.ReadRegisters(ctx, addr, RegCameraStatus, 1)
		if err != nil {
			if ctx.Err() != nil {
				return models.PlateReading{}, ctx.Err()
			}
			c.logger.Debug("Failed to read camera status", zap.Stringer("camera", cam), zap.Error(err))
		} else {
			switch CameraStatus(regs[0]) {
			case CameraOK:
				return c.readResult(ctx, cam)
			case CameraFailed:
				c.logger.Error("Camera reported error", zap.Stringer("camera", cam))
				return models.PlateReading{}, fmt.Errorf("%s camera: %w", cam, ErrCameraError)
			case CameraReady, CameraProcessing:
			}
		}

		if !c.now().Add(c.cfg.PollInterval).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return models.PlateReading{}, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}

	c.stats.failed(ClassTimeout)
	c.logger.Error("Timed out waiting for camera", zap.Stringer("camera", cam), zap.Duration("timeout", timeout))
	return models.PlateReading{}, fmt.Errorf("%s camera after %s: %w", cam, timeout, ErrPollTimeout)
}

// readResult 读取车牌和可信度；可信度读取失败记为 0
func (c *Client) readResult(ctx context.Context, cam Camera) (models.PlateReading, error) {
	addr := cam.Address()
	reading := models.PlateReading{Timestamp: c.now()}

	regs, err := c.ReadRegisters(ctx, addr, RegCameraPlate, plateRegisters)
	if err != nil {
		c.logger.Error("Failed to read plate registers", zap.Stringer("camera", cam), zap.Error(err))
		return models.PlateReading{}, fmt.Errorf("read %s plate: %w", cam, err)
	}
	reading.Plate = DecodePlate(regs)

	conf, err := c.ReadRegisters(ctx, addr, RegCameraConfidence, 1)
	if err != nil {
		c.logger.Warn("Failed to read plate confidence", zap.Stringer("camera", cam), zap.Error(err))
	} else {
		reading.Confidence = int(conf[0])
	}

	reading.Success = reading.Confidence >= models.MinPlateConfidence && len(reading.Plate) >= models.MinPlateLength
	c.logger.Info("Plate read",
		zap.Stringer("camera", cam),
		zap.String("plate", reading.Plate),
		zap.Int("confidence", reading.Confidence),
		zap.String("grade", reading.Grade()))
	return reading, nil
}

// CaptureAndRead 触发后读取车牌
func (c *Client) CaptureAndRead(ctx context.Context, cam Camera) (models.PlateReading, error) {
	if err := c.Trigger(ctx, cam); err != nil {
		return models.PlateReading{}, err
	}
	return c.ReadPlate(ctx, cam, DefaultReadTimeout)
}

// DecodePlate 大端寄存器转 ASCII，遇到不可打印字节截断，再去掉尾部空格
func DecodePlate(regs []uint16) string {
	buf := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		buf = append(buf, byte(r>>8), byte(r))
	}
	for i, b := range buf {
		if b < 32 || b > 126 {
			buf = buf[:i]
			break
		}
	}
	return strings.TrimRight(string(buf), " ")
}

// EncodePlate DecodePlate 的逆操作，不足 8 字节补空格
func EncodePlate(plate string) []uint16 {
	buf := []byte(plate)
	if len(buf) > 2*plateRegisters {
		buf = buf[:2*plateRegisters]
	}
	for len(buf) < 2*plateRegisters {
		buf = append(buf, ' ')
	}
	regs := make([]uint16, plateRegisters)
	for i := range regs {
		regs[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return regs
}

// IsCameraFailure 是否为相机侧的确定失败（报错或超时）
func IsCameraFailure(err error) bool {
	return errors.Is(err, ErrCameraError) || errors.Is(err, ErrPollTimeout)
}

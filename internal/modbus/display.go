package modbus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
)

// 显示屏标志位
const (
	FlagFacilityFull uint16 = 1 << 0
	FlagFloor1Full   uint16 = 1 << 1
	FlagFloor2Full   uint16 = 1 << 2
)

// DisplayRegisters 显示屏寄存器数量
const DisplayRegisters = 13

// DisplayInfo 显示屏内容
// 寄存器 0-8: 各层 PNE/老年/普通空位；9-11: 各层车辆数；12: 标志位
type DisplayInfo struct {
	FreeByType [models.NumFloors][models.NumSpotTypes]uint16 `json:"free_by_type"`
	Cars       [models.NumFloors]uint16                      `json:"cars"`
	Flags      uint16                                        `json:"flags"`
}

// DisplayInfoFrom 从停车场状态生成显示内容
// 楼层封闭或没有空位时置该层满位标志
func DisplayInfoFrom(status models.ParkingStatus) DisplayInfo {
	var info DisplayInfo
	for f := range status.Floors {
		floor := status.Floors[f]
		for _, t := range models.SpotTypes {
			info.FreeByType[f][t] = uint16(floor.FreeByType[t])
		}
		info.Cars[f] = uint16(floor.CarsCount)
	}
	if status.SystemFull {
		info.Flags |= FlagFacilityFull
	}
	if floorFull(status.Floors[models.FloorFirst]) {
		info.Flags |= FlagFloor1Full
	}
	if floorFull(status.Floors[models.FloorSecond]) {
		info.Flags |= FlagFloor2Full
	}
	return info
}

func floorFull(f models.FloorStatus) bool {
	return f.Blocked || f.TotalFree == 0
}

// Registers 按寄存器顺序展开
func (d DisplayInfo) Registers() []uint16 {
	regs := make([]uint16, 0, DisplayRegisters)
	for f := range d.FreeByType {
		regs = append(regs, d.FreeByType[f][:]...)
	}
	regs = append(regs, d.Cars[:]...)
	return append(regs, d.Flags)
}

// UpdateDisplay 一次写入全部显示寄存器
func (c *Client) UpdateDisplay(ctx context.Context, info DisplayInfo) error {
	regs := info.Registers()
	if err := c.WriteRegisters(ctx, AddrDisplay, 0, regs); err != nil {
		c.logger.Error("Failed to update display", zap.Error(err))
		return fmt.Errorf("update display: %w", err)
	}
	c.logger.Debug("Display updated",
		zap.Uint16s("free", regs[:9]),
		zap.Uint16s("cars", regs[9:12]),
		zap.Uint16("flags", regs[12]))
	return nil
}

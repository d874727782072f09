package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/parking"
)

// layoutFile 布局文件格式
//
//	floors:
//	  - [pne, elderly, common, common]
//	  - [pne, pne, elderly, elderly, common, common, common, common]
//	  - [pne, pne, elderly, elderly, common, common, common, common]
//	pins:
//	  entry: {motor: 23, direction: 255, sensor_open: 7, sensor_close: 1}
type layoutFile struct {
	Floors [][]models.SpotType `yaml:"floors"`
	Pins   gpio.PinMap         `yaml:"pins"`
}

// LoadLayout 读取布局文件；未给出的接线沿用 pins
func LoadLayout(path string, pins gpio.PinMap) (parking.Layout, gpio.PinMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parking.Layout{}, pins, fmt.Errorf("cannot read layout %s: %w", path, err)
	}
	return ParseLayout(data, pins)
}

// ParseLayout 解析布局 YAML
func ParseLayout(data []byte, pins gpio.PinMap) (parking.Layout, gpio.PinMap, error) {
	file := layoutFile{Pins: pins}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return parking.Layout{}, pins, fmt.Errorf("cannot parse layout: %w", err)
	}

	layout := parking.DefaultLayout()
	if len(file.Floors) > 0 {
		if len(file.Floors) != models.NumFloors {
			return parking.Layout{}, pins, fmt.Errorf("layout must describe %d floors, got %d", models.NumFloors, len(file.Floors))
		}
		for f := range layout.Floors {
			layout.Floors[f] = file.Floors[f]
		}
	}
	if err := layout.Validate(); err != nil {
		return parking.Layout{}, pins, err
	}
	for f, types := range layout.Floors {
		if limit := 1 << len(file.Pins.Floors[f].AddressPins); len(types) > limit {
			return parking.Layout{}, pins, fmt.Errorf("floor %d has %d spots but only %d address pins", f, len(types), len(file.Pins.Floors[f].AddressPins))
		}
	}
	return layout, file.Pins, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/parking"
)

// ModbusConfig 串口总线
type ModbusConfig struct {
	Enabled    bool
	Device     string // 串口设备，"sim" 使用内存模拟总线
	BaudRate   int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Identifier string
}

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// 本进程负责的楼层：地面层拥有闸门和 MODBUS 总线，上层负责通道检测
	Role models.FloorID

	// Database，为空时不记录事件日志
	DatabaseURL string

	// GPIO 后端，目前只有 sim
	GPIOBackend string

	Modbus ModbusConfig

	// 控制周期
	GateTimeout     time.Duration
	GateTick        time.Duration
	ScanInterval    time.Duration
	PassagePoll     time.Duration
	PassageTimeout  time.Duration
	DisplayInterval time.Duration
	StatusInterval  time.Duration

	PricePerMinuteCents int64

	// 设施布局文件（YAML），为空时使用默认布局和接线
	LayoutFile string
	Layout     parking.Layout
	Pins       gpio.PinMap
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	role, err := ParseRole(getEnv("ROLE", "ground"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:  getEnv("PORT", "4000"),
		Debug:       getEnvBool("DEBUG", false),
		Role:        role,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		GPIOBackend: getEnv("GPIO_BACKEND", "sim"),
		Modbus: ModbusConfig{
			Enabled:    getEnvBool("MODBUS_ENABLED", true),
			Device:     getEnv("MODBUS_DEVICE", "/dev/ttyUSB0"),
			BaudRate:   getEnvInt("MODBUS_BAUDRATE", 115200),
			Timeout:    getEnvDuration("MODBUS_TIMEOUT", 500*time.Millisecond),
			MaxRetries: getEnvInt("MODBUS_MAX_RETRIES", 3),
			RetryDelay: getEnvDuration("MODBUS_RETRY_DELAY", 50*time.Millisecond),
			Identifier: getEnv("MODBUS_IDENTIFIER", ""),
		},
		GateTimeout:         getEnvDuration("GATE_TIMEOUT", 5*time.Second),
		GateTick:            getEnvDuration("GATE_TICK", 100*time.Millisecond),
		ScanInterval:        getEnvDuration("SCAN_INTERVAL", 100*time.Millisecond),
		PassagePoll:         getEnvDuration("PASSAGE_POLL", 50*time.Millisecond),
		PassageTimeout:      getEnvDuration("PASSAGE_TIMEOUT", 5*time.Second),
		DisplayInterval:     getEnvDuration("DISPLAY_INTERVAL", time.Second),
		StatusInterval:      getEnvDuration("STATUS_INTERVAL", 2*time.Second),
		PricePerMinuteCents: int64(getEnvInt("PRICE_PER_MINUTE_CENTS", parking.DefaultPricePerMinuteCents)),
		LayoutFile:          getEnv("LAYOUT_FILE", ""),
		Layout:              parking.DefaultLayout(),
		Pins:                gpio.DefaultPinMap(),
	}

	if cfg.LayoutFile != "" {
		layout, pins, err := LoadLayout(cfg.LayoutFile, cfg.Pins)
		if err != nil {
			return nil, err
		}
		cfg.Layout, cfg.Pins = layout, pins
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if c.GPIOBackend != "sim" {
		return fmt.Errorf("unsupported GPIO_BACKEND %q", c.GPIOBackend)
	}
	if c.PricePerMinuteCents <= 0 {
		return fmt.Errorf("PRICE_PER_MINUTE_CENTS must be positive, got %d", c.PricePerMinuteCents)
	}
	if c.Modbus.Enabled && c.Modbus.BaudRate <= 0 {
		return fmt.Errorf("MODBUS_BAUDRATE must be positive, got %d", c.Modbus.BaudRate)
	}
	if c.Modbus.MaxRetries < 0 {
		return fmt.Errorf("MODBUS_MAX_RETRIES must not be negative")
	}
	if c.GateTick <= 0 || c.ScanInterval <= 0 || c.PassagePoll <= 0 {
		return fmt.Errorf("loop intervals must be positive")
	}
	return c.Layout.Validate()
}

// ParseRole 解析 ROLE
func ParseRole(s string) (models.FloorID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ground", "terreo", "0":
		return models.FloorGround, nil
	case "floor1", "1":
		return models.FloorFirst, nil
	case "floor2", "2":
		return models.FloorSecond, nil
	}
	return models.FloorGround, fmt.Errorf("unknown ROLE %q (want ground, floor1 or floor2)", s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

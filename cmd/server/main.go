package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/parkgate/internal/api/handlers"
	"github.com/langchou/parkgate/internal/config"
	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/modbus"
	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/parking"
	"github.com/langchou/parkgate/internal/relay"
	"github.com/langchou/parkgate/internal/repository"
	"github.com/langchou/parkgate/internal/service"
	"github.com/langchou/parkgate/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting parkgate",
		zap.String("port", cfg.ServerPort),
		zap.Stringer("role", cfg.Role))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			fn(ctx)
		}()
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger.Named("ws"))
	fanout := relay.NewFanout(logger.Named("relay"), relay.HubPublisher{Hub: wsHub})

	// 事件日志（可选）
	var events handlers.EventLister
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")

		eventRepo := repository.NewEventRepository(db)
		journal := repository.NewJournal(eventRepo, 256, logger.Named("journal"))
		fanout.Add(journal)
		goRun(journal.Run)
		events = eventRepo
	} else {
		logger.Info("DATABASE_URL not set, event journal disabled")
	}

	// GPIO
	sim := gpio.NewSimulator(cfg.Pins, cfg.Layout.SpotsPerFloor())
	if cfg.Role == models.FloorGround {
		sim.AttachGate(cfg.Pins.Entry, 2*time.Second)
		sim.AttachGate(cfg.Pins.Exit, 2*time.Second)
	}
	io := gpio.ActiveLow{Driver: sim}
	logger.Info("GPIO backend ready", zap.String("backend", cfg.GPIOBackend))

	// MODBUS 总线只在地面层使用
	var bus *modbus.Client
	if cfg.Modbus.Enabled && cfg.Role == models.FloorGround {
		transport, err := openTransport(cfg.Modbus)
		if err != nil {
			logger.Fatal("Failed to open modbus transport", zap.String("device", cfg.Modbus.Device), zap.Error(err))
		}
		bus, err = modbus.NewClient(transport, modbus.Config{
			MaxRetries: cfg.Modbus.MaxRetries,
			BaseDelay:  cfg.Modbus.RetryDelay,
			Identifier: cfg.Modbus.Identifier,
		}, logger.Named("modbus"), func(f models.DeviceFault) {
			_ = fanout.Publish(ctx, relay.FaultMessage(f))
		})
		if err != nil {
			logger.Fatal("Failed to create modbus client", zap.Error(err))
		}
		defer bus.Close()

		for _, res := range bus.TestAllDevices(ctx) {
			if !res.OK {
				logger.Warn("MODBUS device not responding", zap.String("device", res.Name), zap.String("error", res.Error))
			}
		}
	}

	// 停车场状态
	store := parking.NewStore(parking.New(cfg.Layout, time.Now()), logger.Named("parking"))

	facility, err := service.NewFacilityService(cfg, logger.Named("facility"), store, io, bus, fanout)
	if err != nil {
		logger.Fatal("Failed to create facility service", zap.Error(err))
	}

	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Status: relay.StatusMessage(store.Snapshot(), time.Now()).Data,
			Gates:  facility.GateSnapshots(),
		}
	})
	goRun(wsHub.Run)

	if err := facility.Start(ctx); err != nil {
		logger.Fatal("Failed to start facility service", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger.Named("api"), facility, events, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 先停控制循环，再停 hub 和日志
	facility.Stop()
	cancel()
	bg.Wait()

	status := store.Snapshot()
	fmt.Print(parking.FormatStatus(&status))
	logger.Info("Server exited")
}

// openTransport 打开串口，MODBUS_DEVICE=sim 时使用内存总线
func openTransport(cfg config.ModbusConfig) (modbus.Transport, error) {
	if cfg.Device == "sim" {
		return modbus.NewSimulator(cfg.Identifier)
	}
	return modbus.OpenSerial(modbus.SerialConfig{
		Device:   cfg.Device,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	})
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/chargegazer/internal/api/handlers"
	"github.com/langchou/chargegazer/internal/cache"
	"github.com/langchou/chargegazer/internal/config"
	"github.com/langchou/chargegazer/internal/ingest"
	"github.com/langchou/chargegazer/internal/metrics"
	"github.com/langchou/chargegazer/internal/repository"
	"github.com/langchou/chargegazer/internal/service"
	"github.com/langchou/chargegazer/pkg/ws"
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

	logger.Info("Starting Chargegazer",
		zap.String("port", cfg.ServerPort),
		zap.String("current_update_policy", cfg.CurrentUpdatePolicy))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	meterRepo := repository.NewMeterRepository(db)
	vehicleRepo := repository.NewVehicleRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	pairingRepo := repository.NewPairingRepository(db)

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 车队汇总缓存（可选）
	var fleetCache service.FleetCache
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("Redis unavailable, fleet summary cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			fleetCache = cache.NewFleetCache(client, cfg.FleetCacheTTL)
			logger.Info("Fleet summary cache enabled", zap.String("redis", cfg.RedisAddr))
		}
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 创建服务
	ingestionService := service.NewIngestionService(
		logger,
		db,
		wsHub,
		m,
		cfg.SkipStaleCurrent(),
		cfg.BatchConcurrency,
	)
	analyticsService := service.NewAnalyticsService(
		logger,
		analyticsRepo,
		vehicleRepo,
		meterRepo,
		pairingRepo,
		fleetCache,
		m,
		cfg.AnalyticsWindow,
	)
	pairingService := service.NewPairingService(logger, pairingRepo)

	// Kafka 流式接入（可选）
	var consumer *ingest.Consumer
	if cfg.KafkaEnabled() {
		consumer, err = ingest.NewConsumer(ingest.Config{
			Brokers:        cfg.KafkaBrokers,
			GroupID:        cfg.KafkaGroupID,
			MeterTopic:     cfg.KafkaMeterTopic,
			VehicleTopic:   cfg.KafkaVehicleTopic,
			MessageTimeout: cfg.RequestTimeout,
		}, ingestionService, logger)
		if err != nil {
			logger.Fatal("Failed to create kafka consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Kafka consumer stopped with error", zap.Error(err))
			}
		}()
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		ingestionService,
		analyticsService,
		pairingService,
		db,
		wsHub,
		m,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestID())
	router.Use(handlers.RequestLogger(logger, m))
	router.Use(handlers.CORS())
	router.Use(handlers.Timeout(cfg.RequestTimeout))

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

	// 停止 Kafka 消费与 WebSocket
	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("Failed to close kafka consumer", zap.Error(err))
		}
	}

	logger.Info("Server exited")
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

// Package main 报价聚合服务入口
// 组装配置、适配器、报价引擎和HTTP服务，支持优雅关闭
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-wallet/quote-engine/internal/adapters"
	"crypto-wallet/quote-engine/internal/handlers"
	"crypto-wallet/quote-engine/internal/services"
	"crypto-wallet/quote-engine/internal/types"
	"crypto-wallet/quote-engine/pkg/config"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Application 应用程序结构
type Application struct {
	config *types.Config
	logger *logrus.Logger
	engine *services.QuoteEngine
	server *http.Server
}

func main() {
	app, err := initApplication()
	if err != nil {
		logrus.Fatalf("❌ 应用初始化失败: %v", err)
	}

	app.logger.Infof("🚀 报价聚合服务启动: port=%d, env=%s",
		app.config.Server.Port, app.config.Server.Environment)

	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatalf("❌ HTTP服务启动失败: %v", err)
		}
	}()

	waitForShutdown(app)
}

// ========================================
// 应用初始化
// ========================================

// initApplication 初始化应用程序
func initApplication() (*Application, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger := initLogger(cfg)

	providerAdapters := buildAdapters(cfg, logger)
	logger.Infof("✅ 已注册%d个提供商适配器", len(providerAdapters))

	engine := services.NewQuoteEngine(cfg, providerAdapters, clock.New(), logger)

	router := setupRouter(cfg, engine, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &Application{
		config: cfg,
		logger: logger,
		engine: engine,
		server: server,
	}, nil
}

// initLogger 初始化日志记录器
// 生产环境用JSON格式便于采集，其余环境用文本格式便于阅读
func initLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Server.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

// buildAdapters 按配置表构建启用的适配器
func buildAdapters(cfg *types.Config, logger *logrus.Logger) []adapters.ProviderAdapter {
	var providerAdapters []adapters.ProviderAdapter
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		if !pc.IsActive {
			logger.Infof("提供商%s已禁用，跳过", pc.Name)
			continue
		}

		switch pc.Name {
		case types.ProviderOneInch:
			providerAdapters = append(providerAdapters, adapters.NewOneInchAdapter(pc, logger))
		case types.Provider0x:
			providerAdapters = append(providerAdapters, adapters.NewZrxAdapter(pc, logger))
		case types.ProviderStargate:
			providerAdapters = append(providerAdapters, adapters.NewStargateAdapter(pc, logger))
		case types.ProviderLayerZero:
			providerAdapters = append(providerAdapters, adapters.NewLayerZeroAdapter(pc, logger))
		default:
			logger.Warnf("⚠️ 未知的提供商配置: %s", pc.Name)
		}
	}
	return providerAdapters
}

// setupRouter 配置HTTP路由
func setupRouter(cfg *types.Config, engine *services.QuoteEngine, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	handler := handlers.NewQuoteHandler(engine, logger)

	router.GET(cfg.Monitoring.HealthCheckPath, handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/quote", handler.GetQuotes)
		v1.POST("/cpfp", handler.CalculateCPFP)
		v1.DELETE("/cache", handler.ClearCache)
		if cfg.Monitoring.MetricsEnabled {
			v1.GET("/metrics", handler.Metrics)
		}
	}

	return router
}

// ========================================
// 优雅关闭
// ========================================

// waitForShutdown 等待退出信号并优雅关闭
func waitForShutdown(app *Application) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info("🛑 收到退出信号，开始优雅关闭...")

	// 撤销全部定时器，避免关闭期间触发刷新
	app.engine.ClearCache()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Errorf("❌ HTTP服务关闭异常: %v", err)
	}

	app.logger.Info("👋 报价聚合服务已退出")
}

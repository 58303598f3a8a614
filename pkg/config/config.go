// Package config 报价聚合服务配置管理
// 从环境变量和.env文件加载配置，提供默认值和校验
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crypto-wallet/quote-engine/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// evmChains 同链兑换提供商支持的EVM链集合
var evmChains = []types.Chain{
	types.ChainEthereum, types.ChainPolygon, types.ChainArbitrum,
	types.ChainOptimism, types.ChainBase, types.ChainAvalanche, types.ChainBnb,
}

// bridgeChains 跨链桥提供商支持的链集合
var bridgeChains = []types.Chain{
	types.ChainEthereum, types.ChainPolygon, types.ChainArbitrum,
	types.ChainOptimism, types.ChainBase, types.ChainAvalanche, types.ChainBnb,
}

// LoadConfig 加载服务配置
// 优先读取环境变量，.env文件作为本地开发兜底
func LoadConfig() (*types.Config, error) {
	// .env不存在不是错误，生产环境直接用环境变量
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("未找到.env文件，使用环境变量: %v", err)
	}

	config := &types.Config{
		Server: types.ServerConfig{
			Port:        getEnvInt("SERVER_PORT", 8084),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Providers: loadProviderConfigs(),
		Cache: types.CacheConfig{
			DefaultTTL: getEnvDuration("QUOTE_DEFAULT_TTL", 30*time.Second),
		},
		Monitoring: types.MonitoringConfig{
			MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
			HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	return config, nil
}

// ========================================
// 提供商配置表
// ========================================

// loadProviderConfigs 加载所有提供商配置
// 每个提供商一个配置块，优先级用于同价决胜
func loadProviderConfigs() []types.ProviderConfig {
	return []types.ProviderConfig{
		{
			Name:            types.ProviderOneInch,
			DisplayName:     "1inch",
			BaseURL:         getEnv("ONEINCH_BASE_URL", "https://api.1inch.dev"),
			APIKey:          getEnv("ONEINCH_API_KEY", ""),
			Timeout:         getEnvDuration("ONEINCH_TIMEOUT", 5*time.Second),
			RetryCount:      getEnvInt("ONEINCH_RETRY_COUNT", 2),
			Priority:        1,
			IsActive:        getEnvBool("ONEINCH_ENABLED", true),
			CrossChain:      false,
			SupportedChains: evmChains,
		},
		{
			Name:            types.Provider0x,
			DisplayName:     "0x Protocol",
			BaseURL:         getEnv("ZRX_BASE_URL", "https://api.0x.org"),
			APIKey:          getEnv("ZRX_API_KEY", ""),
			Timeout:         getEnvDuration("ZRX_TIMEOUT", 5*time.Second),
			RetryCount:      getEnvInt("ZRX_RETRY_COUNT", 2),
			Priority:        2,
			IsActive:        getEnvBool("ZRX_ENABLED", true),
			CrossChain:      false,
			SupportedChains: evmChains,
		},
		{
			Name:            types.ProviderStargate,
			DisplayName:     "Stargate Finance",
			BaseURL:         getEnv("STARGATE_BASE_URL", "https://stargate.finance/api"),
			APIKey:          getEnv("STARGATE_API_KEY", ""),
			Timeout:         getEnvDuration("STARGATE_TIMEOUT", 8*time.Second),
			RetryCount:      getEnvInt("STARGATE_RETRY_COUNT", 2),
			Priority:        3,
			IsActive:        getEnvBool("STARGATE_ENABLED", true),
			CrossChain:      true,
			SupportedChains: bridgeChains,
		},
		{
			Name:            types.ProviderLayerZero,
			DisplayName:     "LayerZero OFT",
			BaseURL:         getEnv("LAYERZERO_BASE_URL", "https://scan.layerzero-api.com"),
			APIKey:          getEnv("LAYERZERO_API_KEY", ""),
			Timeout:         getEnvDuration("LAYERZERO_TIMEOUT", 8*time.Second),
			RetryCount:      getEnvInt("LAYERZERO_RETRY_COUNT", 2),
			Priority:        4,
			IsActive:        getEnvBool("LAYERZERO_ENABLED", true),
			CrossChain:      true,
			SupportedChains: bridgeChains,
		},
	}
}

// ========================================
// 配置校验
// ========================================

// validateConfig 校验配置合法性
func validateConfig(config *types.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", config.Server.Port)
	}

	if config.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("缓存默认TTL必须为正: %v", config.Cache.DefaultTTL)
	}

	activeCount := 0
	for i := range config.Providers {
		p := &config.Providers[i]
		if !p.IsActive {
			continue
		}
		activeCount++
		if p.BaseURL == "" {
			return fmt.Errorf("提供商%s缺少BaseURL", p.Name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("提供商%s的超时时间必须为正: %v", p.Name, p.Timeout)
		}
		if p.RetryCount < 0 {
			return fmt.Errorf("提供商%s的重试次数不能为负: %d", p.Name, p.RetryCount)
		}
		if len(p.SupportedChains) == 0 {
			return fmt.Errorf("提供商%s未配置支持的链", p.Name)
		}
	}
	if activeCount == 0 {
		return fmt.Errorf("至少需要启用一个提供商")
	}

	return nil
}

// ========================================
// 环境变量辅助函数
// ========================================

// getEnv 获取字符串环境变量
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("环境变量%s不是合法整数: %s，使用默认值%d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool 获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
		logrus.Warnf("环境变量%s不是合法布尔值: %s，使用默认值%v", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration 获取时长环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("环境变量%s不是合法时长: %s，使用默认值%v", key, value, defaultValue)
	}
	return defaultValue
}

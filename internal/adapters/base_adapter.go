// Package adapters 第三方提供商适配器
// 提供统一的提供商接口，封装不同流动性来源的API差异
// 实现适配器模式，支持新提供商的热插拔
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crypto-wallet/quote-engine/internal/types"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BaseAdapter 基础适配器结构
// 提供所有适配器的通用功能和配置
type BaseAdapter struct {
	config     *types.ProviderConfig // 提供商配置
	httpClient *http.Client          // 带重试的HTTP客户端
	logger     *logrus.Logger        // 日志记录器
}

// NewBaseAdapter 创建基础适配器
// 初始化带重试能力的HTTP客户端
func NewBaseAdapter(config *types.ProviderConfig, logger *logrus.Logger) *BaseAdapter {
	return &BaseAdapter{
		config:     config,
		httpClient: newRetryClient(config),
		logger:     logger,
	}
}

// newRetryClient 创建带重试能力的HTTP客户端
// 5xx和连接错误自动重试，4xx不重试
func newRetryClient(config *types.ProviderConfig) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = config.RetryCount
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = config.Timeout
	c.Logger = nil
	return c.StandardClient()
}

// ========================================
// 通用HTTP请求方法
// ========================================

// makeHTTPRequest 发送HTTP请求
// 统一的HTTP请求方法，将传输层失败归一化为提供商错误分类
// 参数:
//   - ctx: 上下文，用于超时控制
//   - method: HTTP方法
//   - url: 请求URL
//   - body: 请求体
//   - headers: 请求头
//
// 返回:
//   - []byte: 响应体
//   - error: *types.ProviderError
func (b *BaseAdapter) makeHTTPRequest(ctx context.Context, method, url string, body io.Reader, headers map[string]string) ([]byte, error) {
	startTime := time.Now()

	b.logger.Debugf("[%s] 开始请求: %s %s", b.config.Name, method, url)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, types.NewProviderError(b.config.Name, types.ProviderInvalidResponse, "创建HTTP请求失败: %v", err)
	}

	// 设置请求头
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Wallet-Quote-Engine/1.0")

	// 添加API密钥(如果存在)
	if b.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.config.APIKey))
	}

	// 添加自定义请求头
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// 超时和取消归为Timeout，其余归为Unavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewProviderError(b.config.Name, types.ProviderTimeout,
				"请求超时(%v): %v", time.Since(startTime), err)
		}
		return nil, types.NewProviderError(b.config.Name, types.ProviderUnavailable, "HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewProviderError(b.config.Name, types.ProviderInvalidResponse, "读取响应体失败: %v", err)
	}

	// 检查HTTP状态码
	if resp.StatusCode >= 500 {
		return nil, types.NewProviderError(b.config.Name, types.ProviderUnavailable,
			"服务端错误: status=%d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// 部分提供商用4xx表达流动性不足
		if isLiquidityError(responseBody) {
			return nil, types.NewProviderError(b.config.Name, types.ProviderInsufficientLiquidity,
				"流动性不足: status=%d", resp.StatusCode)
		}
		return nil, types.NewProviderError(b.config.Name, types.ProviderInvalidResponse,
			"HTTP错误: status=%d, body=%s", resp.StatusCode, truncate(string(responseBody), 256))
	}

	b.logger.Debugf("[%s] 请求完成: duration=%v, status=%d",
		b.config.Name, time.Since(startTime), resp.StatusCode)

	return responseBody, nil
}

// isLiquidityError 从错误响应体中识别流动性不足
func isLiquidityError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "insufficient liquidity") ||
		strings.Contains(lower, "not enough liquidity") ||
		strings.Contains(lower, "no routes found")
}

// truncate 截断过长的日志字符串
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ========================================
// 通用数据处理方法
// ========================================

// parseJSONResponse 解析JSON响应
// 统一的JSON解析方法，解析失败归类为InvalidResponse
func (b *BaseAdapter) parseJSONResponse(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		b.logger.Errorf("[%s] JSON解析失败: %v, data=%s", b.config.Name, err, truncate(string(data), 256))
		return types.NewProviderError(b.config.Name, types.ProviderInvalidResponse, "JSON解析失败: %v", err)
	}
	return nil
}

// parseAmount 解析最小单位金额字符串
func (b *BaseAdapter) parseAmount(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, types.NewProviderError(b.config.Name, types.ProviderInvalidResponse,
			"解析金额失败: %q", amount)
	}
	return d, nil
}

// minAmountAfterSlippage 按滑点计算最小输出
func minAmountAfterSlippage(amountOut decimal.Decimal, slippagePercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(slippagePercent.Div(decimal.NewFromInt(100)))
	return amountOut.Mul(factor).Floor()
}

// ========================================
// 配置与能力
// ========================================

// GetConfig 获取当前配置
func (b *BaseAdapter) GetConfig() *types.ProviderConfig {
	return b.config
}

// GetName 获取提供商名称
func (b *BaseAdapter) GetName() string {
	return b.config.Name
}

// GetDisplayName 获取显示名称
func (b *BaseAdapter) GetDisplayName() string {
	return b.config.DisplayName
}

// Priority 固定优先级
func (b *BaseAdapter) Priority() int {
	return b.config.Priority
}

// SupportsRoute 检查是否支持指定链路
// 同链提供商要求源链==目标链；跨链桥要求两条链不同且都在支持列表中
func (b *BaseAdapter) SupportsRoute(source, dest types.Chain) bool {
	if b.config.CrossChain {
		return source != dest && b.config.SupportsChain(source) && b.config.SupportsChain(dest)
	}
	return source == dest && b.config.SupportsChain(source)
}

// Package adapters 1inch聚合器适配器实现
// 实现1inch Swap API v6的标准化接口，处理API格式转换和错误处理
package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"crypto-wallet/quote-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// oneInchQuoteValidity 1inch报价的有效时长
// 1inch API不返回过期时间，按行情波动窗口取30秒
const oneInchQuoteValidity = 30 * time.Second

// OneInchAdapter 1inch聚合器适配器
// 封装1inch API调用，提供标准化的报价接口
type OneInchAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewOneInchAdapter 创建1inch适配器实例
func NewOneInchAdapter(config *types.ProviderConfig, logger *logrus.Logger) ProviderAdapter {
	return &OneInchAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
}

// ========================================
// 1inch API响应结构定义
// ========================================

// OneInchQuoteResponse 1inch报价API响应
type OneInchQuoteResponse struct {
	DstAmount string `json:"dstAmount"` // 输出数量(最小单位)
	Gas       int64  `json:"gas"`       // Gas估算
	Protocols [][][]struct {
		Name             string  `json:"name"`             // 协议名称
		Part             float64 `json:"part"`             // 该协议承担的比例
		FromTokenAddress string  `json:"fromTokenAddress"` // 输入代币
		ToTokenAddress   string  `json:"toTokenAddress"`   // 输出代币
	} `json:"protocols"` // 路由信息
}

// OneInchErrorResponse 1inch错误响应
type OneInchErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	StatusCode  int    `json:"statusCode"`
}

// ========================================
// 1inch适配器接口实现
// ========================================

// GetQuote 获取1inch报价
// 调用1inch Swap API获取同链兑换报价
func (a *OneInchAdapter) GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) {
	startTime := time.Now()

	apiURL, err := a.buildQuoteURL(req)
	if err != nil {
		return nil, err
	}

	a.logger.Debugf("[1inch] 请求URL: %s", apiURL)

	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var quoteResp OneInchQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, err
	}

	if quoteResp.DstAmount == "" {
		// 尝试解析错误响应
		var errResp OneInchErrorResponse
		if jsonErr := a.parseJSONResponse(responseBody, &errResp); jsonErr == nil && errResp.Description != "" {
			if strings.Contains(strings.ToLower(errResp.Description), "liquidity") {
				return nil, types.NewProviderError(types.ProviderOneInch, types.ProviderInsufficientLiquidity,
					"1inch: %s", errResp.Description)
			}
			return nil, types.NewProviderError(types.ProviderOneInch, types.ProviderInvalidResponse,
				"1inch API错误: %s", errResp.Description)
		}
		return nil, types.NewProviderError(types.ProviderOneInch, types.ProviderInvalidResponse,
			"响应缺少dstAmount字段")
	}

	quote, err := a.convertToStandardQuote(&quoteResp, req, startTime)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("✅ [1inch] 报价获取成功: amountOut=%s, 耗时=%v",
		quote.AmountOut.String(), quote.ResponseTime)
	return quote, nil
}

// ========================================
// 1inch URL构建和数据转换
// ========================================

// buildQuoteURL 构建1inch报价请求URL
func (a *OneInchAdapter) buildQuoteURL(req *types.QuoteRequest) (string, error) {
	chainID, ok := req.SourceChain.EVMChainID()
	if !ok {
		return "", types.NewProviderError(types.ProviderOneInch, types.ProviderUnavailable,
			"1inch不支持链: %s", req.SourceChain)
	}

	params := url.Values{}
	params.Set("src", req.TokenIn)
	params.Set("dst", req.TokenOut)
	params.Set("amount", req.AmountIn.String())
	params.Set("includeGas", "true")
	params.Set("includeProtocols", "true")

	return fmt.Sprintf("%s/swap/v6.0/%d/quote?%s",
		strings.TrimSuffix(a.config.BaseURL, "/"), chainID, params.Encode()), nil
}

// convertToStandardQuote 将1inch响应转换为标准报价格式
func (a *OneInchAdapter) convertToStandardQuote(resp *OneInchQuoteResponse, req *types.QuoteRequest, startTime time.Time) (*types.Quote, error) {
	amountOut, err := a.parseAmount(resp.DstAmount)
	if err != nil {
		return nil, err
	}
	if amountOut.IsNegative() {
		return nil, types.NewProviderError(types.ProviderOneInch, types.ProviderInvalidResponse,
			"负的输出数量: %s", resp.DstAmount)
	}

	// 展平1inch的三层路由结构
	var route []types.RouteStep
	for _, hop := range resp.Protocols {
		for _, split := range hop {
			for _, step := range split {
				route = append(route, types.RouteStep{
					Protocol:   step.Name,
					Percentage: decimal.NewFromFloat(step.Part),
				})
			}
		}
	}

	return &types.Quote{
		Provider:         types.ProviderOneInch,
		TokenOut:         strings.ToLower(req.TokenOut),
		AmountIn:         req.AmountIn,
		AmountOut:        amountOut,
		AmountOutMin:     minAmountAfterSlippage(amountOut, req.SlippagePercent),
		EstimatedSeconds: 30, // 同链兑换按一个确认窗口估算
		ExpiresAt:        time.Now().Add(oneInchQuoteValidity),
		Route:            route,
		ResponseTime:     time.Since(startTime),
	}, nil
}

// ========================================
// 健康检查实现
// ========================================

// HealthCheck 检查1inch服务健康状态
func (a *OneInchAdapter) HealthCheck(ctx context.Context) error {
	healthURL := fmt.Sprintf("%s/healthcheck", strings.TrimSuffix(a.config.BaseURL, "/"))

	if _, err := a.makeHTTPRequest(ctx, "GET", healthURL, nil, nil); err != nil {
		return fmt.Errorf("1inch健康检查失败: %w", err)
	}

	a.logger.Debugf("[1inch] 健康检查通过")
	return nil
}

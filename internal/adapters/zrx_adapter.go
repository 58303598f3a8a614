// Package adapters 0x Protocol适配器实现
// 实现0x API v2 (permit2)的标准化接口
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

// zrxQuoteValidity 0x报价的有效时长
const zrxQuoteValidity = 30 * time.Second

// ZrxAdapter 0x Protocol适配器
type ZrxAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewZrxAdapter 创建0x适配器实例
func NewZrxAdapter(config *types.ProviderConfig, logger *logrus.Logger) ProviderAdapter {
	return &ZrxAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
}

// ========================================
// 0x API响应结构定义
// ========================================

// ZrxQuoteResponse 0x报价API响应(v2 permit2格式)
type ZrxQuoteResponse struct {
	BuyAmount          string `json:"buyAmount"`          // 输出数量(最小单位)
	MinBuyAmount       string `json:"minBuyAmount"`       // 滑点保护后的最小输出
	SellAmount         string `json:"sellAmount"`         // 输入数量
	LiquidityAvailable bool   `json:"liquidityAvailable"` // 流动性是否可用
	TotalNetworkFee    string `json:"totalNetworkFee"`    // 网络费用(wei)
	Route              struct {
		Fills []struct {
			Source         string `json:"source"`         // 流动性来源
			ProportionBps  string `json:"proportionBps"`  // 比例(基点)
		} `json:"fills"` // 路由分片
	} `json:"route"` // 路由信息
}

// ========================================
// 0x适配器接口实现
// ========================================

// GetQuote 获取0x报价
func (a *ZrxAdapter) GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) {
	startTime := time.Now()

	apiURL, err := a.buildQuoteURL(req)
	if err != nil {
		return nil, err
	}

	a.logger.Debugf("[0x] 请求URL: %s", apiURL)

	// 0x v2要求专用的认证头
	headers := map[string]string{
		"0x-api-key": a.config.APIKey,
		"0x-version": "v2",
	}

	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, headers)
	if err != nil {
		return nil, err
	}

	var quoteResp ZrxQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, err
	}

	// 0x用liquidityAvailable=false表达流动性不足，HTTP状态仍是200
	if !quoteResp.LiquidityAvailable {
		return nil, types.NewProviderError(types.Provider0x, types.ProviderInsufficientLiquidity,
			"0x: 该代币对无可用流动性")
	}

	quote, err := a.convertToStandardQuote(&quoteResp, req, startTime)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("✅ [0x] 报价获取成功: amountOut=%s, 耗时=%v",
		quote.AmountOut.String(), quote.ResponseTime)
	return quote, nil
}

// ========================================
// 0x URL构建和数据转换
// ========================================

// buildQuoteURL 构建0x报价请求URL
func (a *ZrxAdapter) buildQuoteURL(req *types.QuoteRequest) (string, error) {
	chainID, ok := req.SourceChain.EVMChainID()
	if !ok {
		return "", types.NewProviderError(types.Provider0x, types.ProviderUnavailable,
			"0x不支持链: %s", req.SourceChain)
	}

	params := url.Values{}
	params.Set("chainId", fmt.Sprintf("%d", chainID))
	params.Set("sellToken", req.TokenIn)
	params.Set("buyToken", req.TokenOut)
	params.Set("sellAmount", req.AmountIn.String())
	if req.SenderAddress != "" {
		params.Set("taker", req.SenderAddress)
	}
	// 0x接受基点形式的滑点参数
	params.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps()))

	return fmt.Sprintf("%s/swap/permit2/quote?%s",
		strings.TrimSuffix(a.config.BaseURL, "/"), params.Encode()), nil
}

// convertToStandardQuote 将0x响应转换为标准报价格式
func (a *ZrxAdapter) convertToStandardQuote(resp *ZrxQuoteResponse, req *types.QuoteRequest, startTime time.Time) (*types.Quote, error) {
	amountOut, err := a.parseAmount(resp.BuyAmount)
	if err != nil {
		return nil, err
	}

	// 优先采用提供商给出的最小输出，缺失时按请求滑点本地计算
	amountOutMin := minAmountAfterSlippage(amountOut, req.SlippagePercent)
	if resp.MinBuyAmount != "" {
		if min, err := a.parseAmount(resp.MinBuyAmount); err == nil {
			amountOutMin = min
		}
	}

	var route []types.RouteStep
	for _, fill := range resp.Route.Fills {
		bps, err := decimal.NewFromString(fill.ProportionBps)
		if err != nil {
			continue
		}
		route = append(route, types.RouteStep{
			Protocol:   fill.Source,
			Percentage: bps.Div(decimal.NewFromInt(100)),
		})
	}

	return &types.Quote{
		Provider:         types.Provider0x,
		TokenOut:         strings.ToLower(req.TokenOut),
		AmountIn:         req.AmountIn,
		AmountOut:        amountOut,
		AmountOutMin:     amountOutMin,
		EstimatedSeconds: 30, // 同链兑换按一个确认窗口估算
		ExpiresAt:        time.Now().Add(zrxQuoteValidity),
		Route:            route,
		ResponseTime:     time.Since(startTime),
	}, nil
}

// ========================================
// 健康检查实现
// ========================================

// HealthCheck 检查0x服务健康状态
// 0x没有专用健康检查端点，用轻量的sources查询代替
func (a *ZrxAdapter) HealthCheck(ctx context.Context) error {
	healthURL := fmt.Sprintf("%s/sources?chainId=1", strings.TrimSuffix(a.config.BaseURL, "/"))

	headers := map[string]string{
		"0x-api-key": a.config.APIKey,
		"0x-version": "v2",
	}

	if _, err := a.makeHTTPRequest(ctx, "GET", healthURL, nil, headers); err != nil {
		return fmt.Errorf("0x健康检查失败: %w", err)
	}

	a.logger.Debugf("[0x] 健康检查通过")
	return nil
}

// Package adapters Stargate跨链桥适配器实现
// 实现Stargate Finance报价API的标准化接口
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

// stargateQuoteValidity Stargate报价的有效时长
// 跨链桥费率波动比同链兑换慢，取60秒
const stargateQuoteValidity = 60 * time.Second

// stargateDefaultETA 默认跨链完成时间(秒)
const stargateDefaultETA = 120

// StargateAdapter Stargate Finance跨链桥适配器
type StargateAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewStargateAdapter 创建Stargate适配器实例
func NewStargateAdapter(config *types.ProviderConfig, logger *logrus.Logger) ProviderAdapter {
	return &StargateAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
}

// ========================================
// Stargate API响应结构定义
// ========================================

// StargateQuoteResponse Stargate报价API响应
type StargateQuoteResponse struct {
	Quotes []StargateRouteQuote `json:"quotes"` // 候选路由报价
}

// StargateRouteQuote 单条Stargate路由报价
type StargateRouteQuote struct {
	Route        string `json:"route"`        // 路由标识(taxi/bus)
	SrcAmount    string `json:"srcAmount"`    // 输入数量(最小单位)
	DstAmount    string `json:"dstAmount"`    // 输出数量(最小单位)
	DstAmountMin string `json:"dstAmountMin"` // 滑点保护后的最小输出
	Duration     struct {
		Estimated float64 `json:"estimated"` // 预估完成时间(秒)
	} `json:"duration"`
	Fees []StargateFee `json:"fees"` // 费用明细
}

// StargateFee Stargate费用条目
type StargateFee struct {
	Type   string `json:"type"`   // 费用类型(protocol/messaging)
	Token  string `json:"token"`  // 计费代币
	Amount string `json:"amount"` // 费用数量(最小单位)
}

// ========================================
// Stargate适配器接口实现
// ========================================

// GetQuote 获取Stargate跨链报价
// Stargate返回多条候选路由，取输出最大的一条
func (a *StargateAdapter) GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) {
	startTime := time.Now()

	apiURL := a.buildQuoteURL(req)
	a.logger.Debugf("[stargate] 请求URL: %s", apiURL)

	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var quoteResp StargateQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, err
	}

	if len(quoteResp.Quotes) == 0 {
		return nil, types.NewProviderError(types.ProviderStargate, types.ProviderInsufficientLiquidity,
			"stargate: 该链路无可用路由")
	}

	quote, err := a.convertToStandardQuote(&quoteResp, req, startTime)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("✅ [stargate] 报价获取成功: amountOut=%s, eta=%ds, 耗时=%v",
		quote.AmountOut.String(), quote.EstimatedSeconds, quote.ResponseTime)
	return quote, nil
}

// ========================================
// Stargate URL构建和数据转换
// ========================================

// buildQuoteURL 构建Stargate报价请求URL
// Stargate用链名作chainKey，与内部链标识一致
func (a *StargateAdapter) buildQuoteURL(req *types.QuoteRequest) string {
	params := url.Values{}
	params.Set("srcToken", req.TokenIn)
	params.Set("dstToken", req.TokenOut)
	params.Set("srcChainKey", string(req.SourceChain))
	params.Set("dstChainKey", string(req.DestChain))
	params.Set("srcAmount", req.AmountIn.String())
	params.Set("dstAmountMin", minAmountAfterSlippage(req.AmountIn, req.SlippagePercent).String())
	if req.SenderAddress != "" {
		params.Set("srcAddress", req.SenderAddress)
		params.Set("dstAddress", req.SenderAddress)
	}

	return fmt.Sprintf("%s/v1/quotes?%s", strings.TrimSuffix(a.config.BaseURL, "/"), params.Encode())
}

// convertToStandardQuote 将Stargate响应转换为标准报价格式
// 在候选路由中选择输出最大的一条
func (a *StargateAdapter) convertToStandardQuote(resp *StargateQuoteResponse, req *types.QuoteRequest, startTime time.Time) (*types.Quote, error) {
	var best *StargateRouteQuote
	var bestOut decimal.Decimal
	for i := range resp.Quotes {
		out, err := a.parseAmount(resp.Quotes[i].DstAmount)
		if err != nil {
			continue
		}
		if best == nil || out.GreaterThan(bestOut) {
			best = &resp.Quotes[i]
			bestOut = out
		}
	}
	if best == nil {
		return nil, types.NewProviderError(types.ProviderStargate, types.ProviderInvalidResponse,
			"所有候选路由的dstAmount均无法解析")
	}

	amountOutMin := minAmountAfterSlippage(bestOut, req.SlippagePercent)
	if best.DstAmountMin != "" {
		if min, err := a.parseAmount(best.DstAmountMin); err == nil {
			amountOutMin = min
		}
	}

	eta := stargateDefaultETA
	if best.Duration.Estimated > 0 {
		eta = int(best.Duration.Estimated)
	}

	return &types.Quote{
		Provider:         types.ProviderStargate,
		TokenOut:         strings.ToLower(req.TokenOut),
		AmountIn:         req.AmountIn,
		AmountOut:        bestOut,
		AmountOutMin:     amountOutMin,
		GasCostUSD:       a.sumFeesUSD(best.Fees, req.TokenInDecimals),
		EstimatedSeconds: eta,
		ExpiresAt:        time.Now().Add(stargateQuoteValidity),
		Route: []types.RouteStep{
			{Protocol: fmt.Sprintf("STARGATE_%s", strings.ToUpper(best.Route)), Percentage: decimal.NewFromInt(100)},
		},
		ResponseTime: time.Since(startTime),
	}, nil
}

// sumFeesUSD 汇总费用明细并粗略折算为USD
// 稳定币链路按1:1折算，其余代币缺少现货价格时返回nil
func (a *StargateAdapter) sumFeesUSD(fees []StargateFee, tokenDecimals int32) *decimal.Decimal {
	if len(fees) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, fee := range fees {
		amount, err := decimal.NewFromString(fee.Amount)
		if err != nil {
			return nil
		}
		total = total.Add(amount)
	}
	usd := total.Shift(-tokenDecimals)
	return &usd
}

// ========================================
// 健康检查实现
// ========================================

// HealthCheck 检查Stargate服务健康状态
func (a *StargateAdapter) HealthCheck(ctx context.Context) error {
	healthURL := fmt.Sprintf("%s/v1/health", strings.TrimSuffix(a.config.BaseURL, "/"))

	if _, err := a.makeHTTPRequest(ctx, "GET", healthURL, nil, nil); err != nil {
		return fmt.Errorf("stargate健康检查失败: %w", err)
	}

	a.logger.Debugf("[stargate] 健康检查通过")
	return nil
}

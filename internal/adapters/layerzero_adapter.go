// Package adapters LayerZero OFT跨链适配器实现
// 实现LayerZero OFT quoteSend报价的标准化接口
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crypto-wallet/quote-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// layerZeroQuoteValidity LayerZero报价的有效时长
const layerZeroQuoteValidity = 60 * time.Second

// lzEndpointIDs LayerZero V2端点ID映射表
var lzEndpointIDs = map[types.Chain]uint32{
	types.ChainEthereum:  30101,
	types.ChainBnb:       30102,
	types.ChainAvalanche: 30106,
	types.ChainPolygon:   30109,
	types.ChainArbitrum:  30110,
	types.ChainOptimism:  30111,
	types.ChainBase:      30184,
}

// lzSourceChainETA 按源链估算的跨链完成时间(秒)
// 以太坊出块和最终性慢，其余L2/侧链明显更快
var lzSourceChainETA = map[types.Chain]int{
	types.ChainEthereum:  600,
	types.ChainPolygon:   300,
	types.ChainArbitrum:  180,
	types.ChainOptimism:  180,
	types.ChainBase:      180,
	types.ChainAvalanche: 120,
	types.ChainBnb:       180,
}

// LayerZeroAdapter LayerZero OFT跨链适配器
type LayerZeroAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewLayerZeroAdapter 创建LayerZero适配器实例
func NewLayerZeroAdapter(config *types.ProviderConfig, logger *logrus.Logger) ProviderAdapter {
	return &LayerZeroAdapter{
		BaseAdapter: NewBaseAdapter(config, logger),
	}
}

// ========================================
// LayerZero API请求/响应结构定义
// ========================================

// LayerZeroQuoteRequest LayerZero报价请求体
type LayerZeroQuoteRequest struct {
	SrcEid    uint32 `json:"srcEid"`    // 源链端点ID
	DstEid    uint32 `json:"dstEid"`    // 目标链端点ID
	Token     string `json:"token"`     // OFT代币地址
	Amount    string `json:"amountLD"`  // 发送数量(最小单位)
	MinAmount string `json:"minAmountLD"` // 最小接收数量
	Sender    string `json:"sender,omitempty"` // 发送方地址
}

// LayerZeroQuoteResponse LayerZero报价API响应
type LayerZeroQuoteResponse struct {
	AmountReceivedLD string `json:"amountReceivedLD"` // 目标链实际接收数量
	NativeFee        string `json:"nativeFee"`        // 原生代币消息费(wei)
	NativeFeeUSD     string `json:"nativeFeeUsd"`     // 消息费的USD估值
	EstimatedTime    int    `json:"estimatedTime"`    // 预估完成时间(秒)
}

// ========================================
// LayerZero适配器接口实现
// ========================================

// GetQuote 获取LayerZero OFT跨链报价
func (a *LayerZeroAdapter) GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) {
	startTime := time.Now()

	srcEid, ok := lzEndpointIDs[req.SourceChain]
	if !ok {
		return nil, types.NewProviderError(types.ProviderLayerZero, types.ProviderUnavailable,
			"layerzero不支持源链: %s", req.SourceChain)
	}
	dstEid, ok := lzEndpointIDs[req.DestChain]
	if !ok {
		return nil, types.NewProviderError(types.ProviderLayerZero, types.ProviderUnavailable,
			"layerzero不支持目标链: %s", req.DestChain)
	}

	body, err := json.Marshal(&LayerZeroQuoteRequest{
		SrcEid:    srcEid,
		DstEid:    dstEid,
		Token:     req.TokenIn,
		Amount:    req.AmountIn.String(),
		MinAmount: minAmountAfterSlippage(req.AmountIn, req.SlippagePercent).String(),
		Sender:    req.SenderAddress,
	})
	if err != nil {
		return nil, types.NewProviderError(types.ProviderLayerZero, types.ProviderInvalidResponse,
			"构建请求体失败: %v", err)
	}

	apiURL := fmt.Sprintf("%s/v1/oft/quote", strings.TrimSuffix(a.config.BaseURL, "/"))
	a.logger.Debugf("[layerzero] 请求URL: %s", apiURL)

	responseBody, err := a.makeHTTPRequest(ctx, "POST", apiURL, bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}

	var quoteResp LayerZeroQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, err
	}

	if quoteResp.AmountReceivedLD == "" {
		return nil, types.NewProviderError(types.ProviderLayerZero, types.ProviderInvalidResponse,
			"响应缺少amountReceivedLD字段")
	}

	quote, err := a.convertToStandardQuote(&quoteResp, req, startTime)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("✅ [layerzero] 报价获取成功: amountOut=%s, eta=%ds, 耗时=%v",
		quote.AmountOut.String(), quote.EstimatedSeconds, quote.ResponseTime)
	return quote, nil
}

// ========================================
// LayerZero数据转换
// ========================================

// convertToStandardQuote 将LayerZero响应转换为标准报价格式
func (a *LayerZeroAdapter) convertToStandardQuote(resp *LayerZeroQuoteResponse, req *types.QuoteRequest, startTime time.Time) (*types.Quote, error) {
	amountOut, err := a.parseAmount(resp.AmountReceivedLD)
	if err != nil {
		return nil, err
	}

	// OFT是1:1传输，接收数量为零意味着池子没有可用容量
	if amountOut.IsZero() {
		return nil, types.NewProviderError(types.ProviderLayerZero, types.ProviderInsufficientLiquidity,
			"layerzero: 目标链无可用容量")
	}

	var gasCostUSD *decimal.Decimal
	if resp.NativeFeeUSD != "" {
		if usd, err := decimal.NewFromString(resp.NativeFeeUSD); err == nil {
			gasCostUSD = &usd
		}
	}

	eta := resp.EstimatedTime
	if eta <= 0 {
		eta = lzSourceChainETA[req.SourceChain]
	}

	return &types.Quote{
		Provider:         types.ProviderLayerZero,
		TokenOut:         strings.ToLower(req.TokenOut),
		AmountIn:         req.AmountIn,
		AmountOut:        amountOut,
		AmountOutMin:     minAmountAfterSlippage(amountOut, req.SlippagePercent),
		GasCostUSD:       gasCostUSD,
		EstimatedSeconds: eta,
		ExpiresAt:        time.Now().Add(layerZeroQuoteValidity),
		Route: []types.RouteStep{
			{Protocol: "LAYERZERO_OFT", Percentage: decimal.NewFromInt(100)},
		},
		ResponseTime: time.Since(startTime),
	}, nil
}

// ========================================
// 健康检查实现
// ========================================

// HealthCheck 检查LayerZero服务健康状态
func (a *LayerZeroAdapter) HealthCheck(ctx context.Context) error {
	healthURL := fmt.Sprintf("%s/v1/health", strings.TrimSuffix(a.config.BaseURL, "/"))

	if _, err := a.makeHTTPRequest(ctx, "GET", healthURL, nil, nil); err != nil {
		return fmt.Errorf("layerzero健康检查失败: %w", err)
	}

	a.logger.Debugf("[layerzero] 健康检查通过")
	return nil
}

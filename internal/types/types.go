// Package types 定义报价聚合引擎中使用的所有数据类型
// 包含跨链报价请求响应、请求签名、错误分类等
// 遵循领域驱动设计原则，确保类型安全和业务语义清晰
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ========================================
// 链标识定义
// ========================================

// Chain 区块链网络标识
// 统一的链标识符，避免在调用点散落的链判断分支
type Chain string

// 支持的区块链网络
const (
	ChainEthereum  Chain = "ethereum"  // 以太坊主网
	ChainPolygon   Chain = "polygon"   // Polygon
	ChainArbitrum  Chain = "arbitrum"  // Arbitrum One
	ChainOptimism  Chain = "optimism"  // Optimism
	ChainBase      Chain = "base"      // Base
	ChainAvalanche Chain = "avalanche" // Avalanche C-Chain
	ChainBnb       Chain = "bnb"       // BNB Smart Chain
	ChainBitcoin   Chain = "bitcoin"   // 比特币(仅用于CPFP加速)
)

// evmChainIDs EVM链的数字ID映射表
var evmChainIDs = map[Chain]uint64{
	ChainEthereum:  1,
	ChainPolygon:   137,
	ChainArbitrum:  42161,
	ChainOptimism:  10,
	ChainBase:      8453,
	ChainAvalanche: 43114,
	ChainBnb:       56,
}

// EVMChainID 返回链对应的EVM数字ID
// 非EVM链返回false
func (c Chain) EVMChainID() (uint64, bool) {
	id, ok := evmChainIDs[c]
	return id, ok
}

// ========================================
// 核心业务类型定义
// ========================================

// QuoteRequest 报价请求
// 表示层发送给聚合引擎的报价请求，金额为人类可读单位
type QuoteRequest struct {
	RequestID        string          `json:"request_id"`                          // 唯一请求ID
	SourceChain      Chain           `json:"source_chain" binding:"required"`     // 源链
	DestChain        Chain           `json:"dest_chain" binding:"required"`       // 目标链
	TokenIn          string          `json:"token_in" binding:"required"`         // 源代币合约地址
	TokenOut         string          `json:"token_out" binding:"required"`        // 目标代币合约地址
	TokenInDecimals  int32           `json:"token_in_decimals"`                   // 源代币精度
	TokenOutDecimals int32           `json:"token_out_decimals"`                  // 目标代币精度
	Amount           string          `json:"amount" binding:"required"`           // 输入数量(人类可读单位)
	AmountIn         decimal.Decimal `json:"amount_in"`                           // 输入数量(最小单位，由引擎归一化)
	SlippagePercent  decimal.Decimal `json:"slippage_percent" binding:"required"` // 滑点容忍度(0.1-50.0)
	SenderAddress    string          `json:"sender_address"`                      // 发送方钱包地址
}

// IsCrossChain 是否为跨链请求
func (r *QuoteRequest) IsCrossChain() bool {
	return r.SourceChain != r.DestChain
}

// SlippageBps 滑点的基点表示(0.5% -> 50)
// 用于请求签名的滑点分桶，保证逻辑等价的请求签名相等
func (r *QuoteRequest) SlippageBps() int64 {
	return r.SlippagePercent.Mul(decimal.NewFromInt(100)).IntPart()
}

// Signature 生成请求的规范化签名
// 两个逻辑上等价的请求必须产生相等的签名
func (r *QuoteRequest) Signature() RequestSignature {
	return RequestSignature{
		SourceChain: r.SourceChain,
		DestChain:   r.DestChain,
		TokenIn:     strings.ToLower(r.TokenIn),
		TokenOut:    strings.ToLower(r.TokenOut),
		Amount:      r.AmountIn.String(),
		SlippageBps: r.SlippageBps(),
	}
}

// RequestSignature 请求签名
// 缓存键结构，按(源链,目标链,代币对,归一化数量,滑点分桶)唯一标识一次报价
type RequestSignature struct {
	SourceChain Chain  `json:"source_chain"` // 源链
	DestChain   Chain  `json:"dest_chain"`   // 目标链
	TokenIn     string `json:"token_in"`     // 源代币(小写归一化)
	TokenOut    string `json:"token_out"`    // 目标代币(小写归一化)
	Amount      string `json:"amount"`       // 归一化数量(最小单位)
	SlippageBps int64  `json:"slippage_bps"` // 滑点分桶(基点)
}

// Key 返回签名的规范化字符串形式
func (s RequestSignature) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d",
		s.SourceChain, s.DestChain, s.TokenIn, s.TokenOut, s.Amount, s.SlippageBps)
}

// RouteStep 交易路径步骤
// 描述单个交易路径的协议和比例
type RouteStep struct {
	Protocol   string          `json:"protocol"`   // 协议名称 (UNISWAP_V3, STARGATE_POOL等)
	Percentage decimal.Decimal `json:"percentage"` // 在该协议上的交易比例(0-100)
}

// Quote 单个提供商的标准化报价
// 所有适配器的响应都被归一化为该结构
type Quote struct {
	Provider         string           `json:"provider"`               // 提供商名称
	TokenOut         string           `json:"token_out"`              // 输出代币(小写归一化)
	AmountIn         decimal.Decimal  `json:"amount_in"`              // 输入数量(最小单位)
	AmountOut        decimal.Decimal  `json:"amount_out"`             // 输出数量(最小单位)
	AmountOutMin     decimal.Decimal  `json:"amount_out_min"`         // 滑点保护后的最小输出
	PriceImpact      *decimal.Decimal `json:"price_impact,omitempty"` // 价格冲击百分比(有符号，可能缺失)
	GasCostUSD       *decimal.Decimal `json:"gas_cost_usd,omitempty"` // 预估网络费用(USD，可能缺失)
	EstimatedSeconds int              `json:"estimated_seconds"`      // 预估完成时间(秒)
	ExpiresAt        time.Time        `json:"expires_at"`             // 报价绝对过期时间
	Route            []RouteStep      `json:"route,omitempty"`        // 交易路径
	ResponseTime     time.Duration    `json:"response_time"`          // 提供商响应耗时
}

// IsExpired 报价是否已过期
func (q *Quote) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// AggregatedQuotes 聚合报价结果
// 一次请求的完整报价集合及派生视图
type AggregatedQuotes struct {
	RequestID        string          `json:"request_id"`        // 请求ID
	Quotes           []*Quote        `json:"quotes"`            // 所有成功的报价
	Best             *Quote          `json:"best"`              // 最优报价(最大输出)
	Fastest          *Quote          `json:"fastest"`           // 最快报价(最小预估时间)
	Cheapest         *Quote          `json:"cheapest"`          // 最省报价(最低网络费用)
	SpreadPercent    decimal.Decimal `json:"spread_percent"`    // 最优与最差报价的价差百分比
	ProvidersQueried int             `json:"providers_queried"` // 查询的提供商数量
	ProvidersFailed  int             `json:"providers_failed"`  // 失败的提供商数量
	FetchedAt        time.Time       `json:"fetched_at"`        // 聚合完成时间
	ExpiresAt        time.Time       `json:"expires_at"`        // 报价集合的最早过期时间
	CacheHit         bool            `json:"cache_hit"`         // 是否命中缓存
}

// TTL 报价集合剩余有效时长
func (a *AggregatedQuotes) TTL(now time.Time) time.Duration {
	if a.ExpiresAt.IsZero() || !now.Before(a.ExpiresAt) {
		return 0
	}
	return a.ExpiresAt.Sub(now)
}

// ========================================
// 错误类型定义
// ========================================

// ProviderErrorKind 提供商错误分类
type ProviderErrorKind string

// 提供商级别错误，由聚合器逐个恢复，不影响其余提供商
const (
	ProviderUnavailable           ProviderErrorKind = "UNAVAILABLE"            // 服务不可用
	ProviderInsufficientLiquidity ProviderErrorKind = "INSUFFICIENT_LIQUIDITY" // 流动性不足
	ProviderTimeout               ProviderErrorKind = "TIMEOUT"                // 请求超时
	ProviderInvalidResponse       ProviderErrorKind = "INVALID_RESPONSE"       // 响应格式无效
)

// ProviderError 单个提供商的调用错误
// 聚合器内部记录，仅以聚合形式("2/5提供商不可用")暴露给调用方
type ProviderError struct {
	Provider string            `json:"provider"` // 提供商名称
	Kind     ProviderErrorKind `json:"kind"`     // 错误分类
	Message  string            `json:"message"`  // 错误详情
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: [%s] %s", e.Provider, e.Kind, e.Message)
}

// NewProviderError 创建提供商错误
func NewProviderError(provider string, kind ProviderErrorKind, format string, args ...interface{}) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	}
}

// EngineError 聚合引擎错误
// 面向调用方的类型化错误，始终可安全渲染
type EngineError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 错误详情
}

func (e *EngineError) Error() string {
	return e.Message
}

// 预定义错误代码
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"     // 无效请求
	ErrCodeUnsupportedRoute  = "UNSUPPORTED_ROUTE"   // 不支持的链路
	ErrCodeNoQuotesAvailable = "NO_QUOTES_AVAILABLE" // 所有提供商均失败
	ErrCodeInternalError     = "INTERNAL_ERROR"      // 内部错误
)

// ========================================
// 提供商常量
// ========================================

// 支持的提供商列表
const (
	ProviderOneInch   = "1inch"     // 1inch聚合器(同链兑换)
	Provider0x        = "0x"        // 0x Protocol(同链兑换)
	ProviderStargate  = "stargate"  // Stargate Finance(跨链桥)
	ProviderLayerZero = "layerzero" // LayerZero OFT(跨链桥)
)

// ========================================
// 配置类型
// ========================================

// Config 报价聚合服务配置
type Config struct {
	Server     ServerConfig     `json:"server"`     // 服务器配置
	Providers  []ProviderConfig `json:"providers"`  // 提供商配置
	Cache      CacheConfig      `json:"cache"`      // 缓存配置
	Monitoring MonitoringConfig `json:"monitoring"` // 监控配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port"`        // 监听端口
	Environment string `json:"environment"` // 运行环境
	LogLevel    string `json:"log_level"`   // 日志级别
}

// ProviderConfig 提供商配置
// 定义每个流动性来源/跨链桥的连接和行为配置
// 每个(链,提供商)组合通过SupportedChains表注册，取代调用点的链判断分支
type ProviderConfig struct {
	Name            string        `json:"name"`             // 提供商名称
	DisplayName     string        `json:"display_name"`     // 显示名称
	BaseURL         string        `json:"base_url"`         // API基础URL
	APIKey          string        `json:"api_key"`          // API密钥
	Timeout         time.Duration `json:"timeout"`          // 单次请求超时时间
	RetryCount      int           `json:"retry_count"`      // 重试次数
	Priority        int           `json:"priority"`         // 优先级(1最高，用于同价决胜)
	IsActive        bool          `json:"is_active"`        // 是否启用
	CrossChain      bool          `json:"cross_chain"`      // 是否为跨链桥提供商
	SupportedChains []Chain       `json:"supported_chains"` // 支持的链列表
}

// SupportsChain 检查是否支持指定链
func (c *ProviderConfig) SupportsChain(chain Chain) bool {
	for _, supported := range c.SupportedChains {
		if supported == chain {
			return true
		}
	}
	return false
}

// CacheConfig 缓存配置
type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"` // 提供商未给出过期时间时的默认TTL
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	MetricsEnabled  bool   `json:"metrics_enabled"`   // 是否启用指标
	HealthCheckPath string `json:"health_check_path"` // 健康检查路径
}

// ========================================
// HTTP响应类型
// ========================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`         // 是否成功
	Data      interface{} `json:"data,omitempty"`  // 响应数据
	Error     *APIError   `json:"error,omitempty"` // 错误信息
	Meta      interface{} `json:"meta,omitempty"`  // 元数据
	Timestamp int64       `json:"timestamp"`       // 时间戳
	RequestID string      `json:"request_id"`      // 请求ID
}

// APIError API错误信息
type APIError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 详细信息
}

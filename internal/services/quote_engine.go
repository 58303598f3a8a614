// Package services 报价引擎门面
// 组合聚合器、缓存、过期调度器和CPFP计算器，对外提供统一的核心API
package services

import (
	"context"
	"sync"
	"time"

	"crypto-wallet/quote-engine/internal/adapters"
	"crypto-wallet/quote-engine/internal/cpfp"
	"crypto-wallet/quote-engine/internal/scheduler"
	"crypto-wallet/quote-engine/internal/types"
	"crypto-wallet/quote-engine/pkg/cache"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 滑点容忍度的合法区间(百分比)
var (
	minSlippagePercent = decimal.NewFromFloat(0.1)
	maxSlippagePercent = decimal.NewFromFloat(50.0)
)

// refreshTimeout 自动刷新的总超时预算
const refreshTimeout = 15 * time.Second

// EngineMetrics 引擎运行指标
type EngineMetrics struct {
	mu             sync.Mutex
	TotalRequests  int64         `json:"total_requests"`  // 总请求数
	CacheHits      int64         `json:"cache_hits"`      // 缓存命中数
	FailedRequests int64         `json:"failed_requests"` // 失败请求数
	RefreshCount   int64         `json:"refresh_count"`   // 自动刷新次数
	TotalLatency   time.Duration `json:"-"`               // 累计延迟
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	CacheHits      int64   `json:"cache_hits"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	FailedRequests int64   `json:"failed_requests"`
	RefreshCount   int64   `json:"refresh_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	CachedEntries  int     `json:"cached_entries"`
	ArmedTimers    int     `json:"armed_timers"`
}

// QuoteEngine 报价引擎
// 核心API的唯一入口，可作为库直接使用，也被HTTP层包装
type QuoteEngine struct {
	aggregator *AggregatorService
	cache      *cache.QuoteCache
	scheduler  *scheduler.ExpiryScheduler
	cpfpCalc   *cpfp.Calculator
	metrics    *EngineMetrics
	logger     *logrus.Logger
}

// NewQuoteEngine 创建报价引擎
// 时钟注入给过期调度器，生产环境传clock.New()
func NewQuoteEngine(cfg *types.Config, providerAdapters []adapters.ProviderAdapter, clk clock.Clock, logger *logrus.Logger) *QuoteEngine {
	engine := &QuoteEngine{
		aggregator: NewAggregatorService(providerAdapters, cfg.Cache.DefaultTTL, logger),
		cache:      cache.NewQuoteCache(logger),
		cpfpCalc:   cpfp.NewCalculator(),
		metrics:    &EngineMetrics{},
		logger:     logger,
	}

	// 到期自动刷新，刷新结果落盘时经写入钩子重新武装定时器
	engine.scheduler = scheduler.NewExpiryScheduler(clk, engine.refreshKey, logger)
	engine.cache.SetOnStore(func(key string, result *types.AggregatedQuotes) {
		engine.scheduler.Arm(key, result.TTL(time.Now()))
	})

	return engine
}

// ========================================
// 核心API
// ========================================

// GetQuotes 获取聚合报价
// 归一化并校验请求，经缓存(singleflight)获取聚合结果
// 新鲜命中不触发任何网络活动
func (e *QuoteEngine) GetQuotes(ctx context.Context, req *types.QuoteRequest) (*types.AggregatedQuotes, error) {
	startTime := time.Now()
	e.metrics.mu.Lock()
	e.metrics.TotalRequests++
	e.metrics.mu.Unlock()

	if err := e.normalizeRequest(req); err != nil {
		e.recordFailure(startTime)
		return nil, err
	}

	result, cacheHit, err := e.cache.GetOrFetch(ctx, req, e.aggregator.Aggregate)
	if err != nil {
		e.recordFailure(startTime)
		return nil, err
	}

	e.metrics.mu.Lock()
	if cacheHit {
		e.metrics.CacheHits++
	}
	e.metrics.TotalLatency += time.Since(startTime)
	e.metrics.mu.Unlock()

	return result, nil
}

// ClearCache 清空全部缓存并撤销所有定时器
// 清空后飞行中的聚合结果不会落盘，也不会武装新定时器
func (e *QuoteEngine) ClearCache() {
	e.cache.Clear()
	e.scheduler.CancelAll()
}

// CalculateCPFP 计算CPFP加速计划
// 纯计算，不触网、不签名、不广播
func (e *QuoteEngine) CalculateCPFP(parent *cpfp.StuckTransaction, targetFeeRate float64, childVSize uint64) cpfp.CPFPPlan {
	return e.cpfpCalc.Calculate(parent, targetFeeRate, childVSize)
}

// NewBoostSession 创建加速会话状态机
func (e *QuoteEngine) NewBoostSession() *cpfp.BoostSession {
	return cpfp.NewBoostSession(e.cpfpCalc)
}

// QuoteTTL 某个请求签名的剩余有效时长
func (e *QuoteEngine) QuoteTTL(sig types.RequestSignature) (time.Duration, bool) {
	return e.scheduler.Remaining(sig.Key())
}

// Metrics 当前指标快照
func (e *QuoteEngine) Metrics() MetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()

	snapshot := MetricsSnapshot{
		TotalRequests:  e.metrics.TotalRequests,
		CacheHits:      e.metrics.CacheHits,
		FailedRequests: e.metrics.FailedRequests,
		RefreshCount:   e.metrics.RefreshCount,
		CachedEntries:  e.cache.Len(),
		ArmedTimers:    e.scheduler.Armed(),
	}
	if e.metrics.TotalRequests > 0 {
		snapshot.CacheHitRate = float64(e.metrics.CacheHits) / float64(e.metrics.TotalRequests)
		snapshot.AvgLatencyMs = float64(e.metrics.TotalLatency.Milliseconds()) / float64(e.metrics.TotalRequests)
	}
	return snapshot
}

// ========================================
// 自动刷新
// ========================================

// refreshKey 过期定时器的回调
// 复用缓存的原始请求重新聚合；刷新失败则移除条目，下次请求重新回源
// 读取条目时记下缓存代数，刷新期间发生过清空则结果作废
func (e *QuoteEngine) refreshKey(key string) {
	req, gen, ok := e.cache.RequestFor(key)
	if !ok {
		// 条目已被清空，无需刷新
		return
	}

	e.metrics.mu.Lock()
	e.metrics.RefreshCount++
	e.metrics.mu.Unlock()

	e.logger.Infof("🔄 自动刷新过期报价: %s", key)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	result, err := e.aggregator.Aggregate(ctx, req)
	if err != nil {
		e.logger.Warnf("⚠️ 自动刷新失败，移除缓存条目: %s, err=%v", key, err)
		e.cache.Remove(key)
		return
	}

	// 落盘触发写入钩子，定时器随之重新武装
	// 刷新飞行中缓存被清空时结果被丢弃，不落盘也不武装定时器
	if !e.cache.Store(key, req, result, gen) {
		e.logger.Debugf("刷新期间缓存已清空，丢弃结果: %s", key)
	}
}

// ========================================
// 请求归一化与校验
// ========================================

// normalizeRequest 校验请求并把人类可读金额归一化为最小单位
// 两个逻辑等价的请求归一化后产生相等的签名
func (e *QuoteEngine) normalizeRequest(req *types.QuoteRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if req.SourceChain == "" || req.DestChain == "" || req.TokenIn == "" || req.TokenOut == "" {
		return &types.EngineError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "链和代币地址不能为空",
		}
	}
	if req.SourceChain == types.ChainBitcoin || req.DestChain == types.ChainBitcoin {
		return &types.EngineError{
			Code:    types.ErrCodeUnsupportedRoute,
			Message: "比特币链不支持兑换报价",
		}
	}

	if req.SlippagePercent.LessThan(minSlippagePercent) || req.SlippagePercent.GreaterThan(maxSlippagePercent) {
		return &types.EngineError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "滑点容忍度必须在0.1-50.0之间",
			Details: map[string]interface{}{"slippage_percent": req.SlippagePercent.String()},
		}
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return &types.EngineError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "输入数量必须为正数",
			Details: map[string]interface{}{"amount": req.Amount},
		}
	}

	// 按源代币精度放大到最小单位，精度溢出的尾数视为非法输入
	amountIn := amount.Shift(req.TokenInDecimals)
	if !amountIn.Equal(amountIn.Truncate(0)) {
		return &types.EngineError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "输入数量的小数位超出代币精度",
			Details: map[string]interface{}{
				"amount":   req.Amount,
				"decimals": req.TokenInDecimals,
			},
		}
	}
	req.AmountIn = amountIn

	return nil
}

// recordFailure 记录失败请求
func (e *QuoteEngine) recordFailure(startTime time.Time) {
	e.metrics.mu.Lock()
	e.metrics.FailedRequests++
	e.metrics.TotalLatency += time.Since(startTime)
	e.metrics.mu.Unlock()
}

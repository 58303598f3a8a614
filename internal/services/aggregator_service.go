// Package services 报价聚合引擎核心业务逻辑
// 实现多提供商并行报价、排序择优、价差计算
package services

import (
	"context"
	"sort"
	"time"

	"crypto-wallet/quote-engine/internal/adapters"
	"crypto-wallet/quote-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AggregatorService 报价聚合服务
// 持有适配器注册表，按能力筛选后并行获取报价并排序
type AggregatorService struct {
	adapters   []adapters.ProviderAdapter // 已注册的提供商适配器
	defaultTTL time.Duration              // 提供商未给出过期时间时的默认TTL
	logger     *logrus.Logger             // 日志记录器
}

// NewAggregatorService 创建报价聚合服务
func NewAggregatorService(providerAdapters []adapters.ProviderAdapter, defaultTTL time.Duration, logger *logrus.Logger) *AggregatorService {
	return &AggregatorService{
		adapters:   providerAdapters,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// quoteResult 单个提供商的聚合结果
// 通过channel从工作goroutine回传
type quoteResult struct {
	provider string
	quote    *types.Quote
	err      error
}

// ========================================
// 核心聚合逻辑
// ========================================

// Aggregate 聚合多个提供商的报价
// 按能力筛选适配器，并行获取报价，失败的提供商逐个恢复
// 延迟上界为最慢适配器的超时时间，与提供商数量无关
func (s *AggregatorService) Aggregate(ctx context.Context, req *types.QuoteRequest) (*types.AggregatedQuotes, error) {
	startTime := time.Now()

	capable := s.capableAdapters(req)
	if len(capable) == 0 {
		return nil, &types.EngineError{
			Code:    types.ErrCodeUnsupportedRoute,
			Message: "没有提供商支持该链路",
			Details: map[string]interface{}{
				"source_chain": req.SourceChain,
				"dest_chain":   req.DestChain,
			},
		}
	}

	s.logger.Infof("🚀 [%s] 开始并行聚合: %d个提供商, %s->%s",
		req.RequestID, len(capable), req.SourceChain, req.DestChain)

	results := s.fanOut(ctx, capable, req)

	var quotes []*types.Quote
	var failures []*types.ProviderError
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, asProviderError(r.provider, r.err))
			s.logger.Warnf("⚠️ [%s] 提供商%s失败: %v", req.RequestID, r.provider, r.err)
			continue
		}
		quotes = append(quotes, r.quote)
	}

	if len(quotes) == 0 {
		return nil, &types.EngineError{
			Code:    types.ErrCodeNoQuotesAvailable,
			Message: "所有提供商均未返回报价",
			Details: map[string]interface{}{
				"providers_queried": len(capable),
				"failures":          failures,
			},
		}
	}

	aggregated := s.rank(req, quotes)
	aggregated.ProvidersQueried = len(capable)
	aggregated.ProvidersFailed = len(failures)

	s.logger.Infof("🎉 [%s] 聚合完成: %d/%d成功, best=%s, spread=%s%%, 耗时=%v",
		req.RequestID, len(quotes), len(capable),
		aggregated.Best.Provider, aggregated.SpreadPercent.StringFixed(4), time.Since(startTime))

	return aggregated, nil
}

// capableAdapters 筛选支持该链路且已启用的适配器
// 能力判断走注册表，不在调用点写链分支
func (s *AggregatorService) capableAdapters(req *types.QuoteRequest) []adapters.ProviderAdapter {
	var capable []adapters.ProviderAdapter
	for _, adapter := range s.adapters {
		if !adapter.GetConfig().IsActive {
			continue
		}
		if adapter.SupportsRoute(req.SourceChain, req.DestChain) {
			capable = append(capable, adapter)
		}
	}
	return capable
}

// fanOut 并行调用所有适配器并收集结果
// 每个适配器一个goroutine，结果经带缓冲channel汇聚
// 单个适配器的panic被就地恢复，降级为提供商错误
func (s *AggregatorService) fanOut(ctx context.Context, capable []adapters.ProviderAdapter, req *types.QuoteRequest) []quoteResult {
	resultChan := make(chan quoteResult, len(capable))

	for _, adapter := range capable {
		go func(a adapters.ProviderAdapter) {
			defer func() {
				if r := recover(); r != nil {
					resultChan <- quoteResult{
						provider: a.GetName(),
						err: types.NewProviderError(a.GetName(), types.ProviderInvalidResponse,
							"适配器panic: %v", r),
					}
				}
			}()

			// 每个适配器独立的超时预算
			adapterCtx, cancel := context.WithTimeout(ctx, a.GetConfig().Timeout)
			defer cancel()

			quote, err := a.GetQuote(adapterCtx, req)
			resultChan <- quoteResult{provider: a.GetName(), quote: quote, err: err}
		}(adapter)
	}

	results := make([]quoteResult, 0, len(capable))
	for i := 0; i < len(capable); i++ {
		results = append(results, <-resultChan)
	}
	return results
}

// asProviderError 归一化适配器返回的错误
func asProviderError(provider string, err error) *types.ProviderError {
	if pe, ok := err.(*types.ProviderError); ok {
		return pe
	}
	return types.NewProviderError(provider, types.ProviderUnavailable, "%v", err)
}

// ========================================
// 排序与派生视图
// ========================================

// rank 对报价排序并构建派生视图
// 排序只依赖报价内容和固定优先级，与goroutine完成顺序无关
func (s *AggregatorService) rank(req *types.QuoteRequest, quotes []*types.Quote) *types.AggregatedQuotes {
	priority := s.priorityTable()

	// 主排序: 输出数量降序 -> 预估时间升序 -> 提供商优先级升序
	sorted := make([]*types.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].AmountOut.Equal(sorted[j].AmountOut) {
			return sorted[i].AmountOut.GreaterThan(sorted[j].AmountOut)
		}
		if sorted[i].EstimatedSeconds != sorted[j].EstimatedSeconds {
			return sorted[i].EstimatedSeconds < sorted[j].EstimatedSeconds
		}
		return priority[sorted[i].Provider] < priority[sorted[j].Provider]
	})

	fetchedAt := time.Now()
	aggregated := &types.AggregatedQuotes{
		RequestID:     req.RequestID,
		Quotes:        sorted,
		Best:          sorted[0],
		Fastest:       fastestQuote(sorted),
		Cheapest:      cheapestQuote(sorted),
		SpreadPercent: spreadPercent(sorted, req),
		FetchedAt:     fetchedAt,
		ExpiresAt:     earliestExpiry(sorted, fetchedAt, s.defaultTTL),
	}
	return aggregated
}

// priorityTable 构建提供商名->优先级映射
func (s *AggregatorService) priorityTable() map[string]int {
	table := make(map[string]int, len(s.adapters))
	for _, adapter := range s.adapters {
		table[adapter.GetName()] = adapter.Priority()
	}
	return table
}

// fastestQuote 预估完成时间最小的报价
// 输入已按主排序排好，同一时间下自然取输出更大的那个
func fastestQuote(sorted []*types.Quote) *types.Quote {
	fastest := sorted[0]
	for _, q := range sorted[1:] {
		if q.EstimatedSeconds < fastest.EstimatedSeconds {
			fastest = q
		}
	}
	return fastest
}

// cheapestQuote 网络费用最低的报价
// 所有提供商都未报费用时回退到最优报价
func cheapestQuote(sorted []*types.Quote) *types.Quote {
	var cheapest *types.Quote
	for _, q := range sorted {
		if q.GasCostUSD == nil {
			continue
		}
		if cheapest == nil || q.GasCostUSD.LessThan(*cheapest.GasCostUSD) {
			cheapest = q
		}
	}
	if cheapest == nil {
		return sorted[0]
	}
	return cheapest
}

// spreadPercent 计算最优与最差报价的价差百分比
// 只比较以请求目标代币计价的报价；单一报价时价差为0
func spreadPercent(sorted []*types.Quote, req *types.QuoteRequest) decimal.Decimal {
	tokenOut := req.Signature().TokenOut
	var comparable []*types.Quote
	for _, q := range sorted {
		if q.TokenOut == tokenOut {
			comparable = append(comparable, q)
		}
	}
	if len(comparable) < 2 {
		return decimal.Zero
	}

	best := comparable[0].AmountOut
	worst := comparable[len(comparable)-1].AmountOut
	if worst.IsZero() {
		return decimal.Zero
	}
	return best.Sub(worst).Div(worst).Mul(decimal.NewFromInt(100))
}

// earliestExpiry 报价集合的最早过期时间
// 所有报价都没有过期时间时使用默认TTL
func earliestExpiry(quotes []*types.Quote, fetchedAt time.Time, defaultTTL time.Duration) time.Time {
	var earliest time.Time
	for _, q := range quotes {
		if q.ExpiresAt.IsZero() {
			continue
		}
		if earliest.IsZero() || q.ExpiresAt.Before(earliest) {
			earliest = q.ExpiresAt
		}
	}
	if earliest.IsZero() {
		return fetchedAt.Add(defaultTTL)
	}
	return earliest
}

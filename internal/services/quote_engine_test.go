package services

import (
	"context"
	"testing"
	"time"

	"crypto-wallet/quote-engine/internal/adapters"
	"crypto-wallet/quote-engine/internal/types"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineConfig() *types.Config {
	return &types.Config{
		Cache: types.CacheConfig{DefaultTTL: 30 * time.Second},
	}
}

func newTestEngine(clk clock.Clock, adapterList ...adapters.ProviderAdapter) *QuoteEngine {
	return NewQuoteEngine(engineConfig(), adapterList, clk, silentLogger())
}

func humanRequest(amount string) *types.QuoteRequest {
	return &types.QuoteRequest{
		SourceChain:     types.ChainEthereum,
		DestChain:       types.ChainEthereum,
		TokenIn:         "0xIN",
		TokenOut:        "0xOUT",
		TokenInDecimals: 6,
		Amount:          amount,
		SlippagePercent: decimal.NewFromFloat(0.5),
	}
}

// ========================================
// 请求归一化
// ========================================

func TestGetQuotes_NormalizesAmount(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	engine := newTestEngine(clock.New(), adapter)

	req := humanRequest("1.5")
	_, err := engine.GetQuotes(context.Background(), req)
	require.NoError(t, err)

	// 1.5按6位精度放大为最小单位
	assert.True(t, req.AmountIn.Equal(decimal.NewFromInt(1500000)))
	assert.NotEmpty(t, req.RequestID)
}

func TestGetQuotes_EquivalentRequestsShareSignature(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	engine := newTestEngine(clock.New(), adapter)

	// 代币地址大小写和金额写法不同，但逻辑等价
	reqA := humanRequest("1.5")
	reqB := humanRequest("1.50")
	reqB.TokenIn = "0xin"
	reqB.TokenOut = "0xOut"

	_, err := engine.GetQuotes(context.Background(), reqA)
	require.NoError(t, err)
	resultB, err := engine.GetQuotes(context.Background(), reqB)
	require.NoError(t, err)

	assert.Equal(t, reqA.Signature(), reqB.Signature())
	// 等价请求命中同一缓存条目，只回源一次
	assert.True(t, resultB.CacheHit)
	assert.Equal(t, int32(1), adapter.callCount())
}

func TestGetQuotes_ValidationErrors(t *testing.T) {
	engine := newTestEngine(clock.New(), newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)))

	tests := []struct {
		name     string
		mutate   func(*types.QuoteRequest)
		wantCode string
	}{
		{"滑点过低", func(r *types.QuoteRequest) {
			r.SlippagePercent = decimal.NewFromFloat(0.05)
		}, types.ErrCodeInvalidRequest},
		{"滑点过高", func(r *types.QuoteRequest) {
			r.SlippagePercent = decimal.NewFromFloat(50.1)
		}, types.ErrCodeInvalidRequest},
		{"金额为零", func(r *types.QuoteRequest) {
			r.Amount = "0"
		}, types.ErrCodeInvalidRequest},
		{"金额非法", func(r *types.QuoteRequest) {
			r.Amount = "abc"
		}, types.ErrCodeInvalidRequest},
		{"精度溢出", func(r *types.QuoteRequest) {
			r.Amount = "1.0000001" // 7位小数超出6位精度
		}, types.ErrCodeInvalidRequest},
		{"缺少代币地址", func(r *types.QuoteRequest) {
			r.TokenOut = ""
		}, types.ErrCodeInvalidRequest},
		{"比特币链", func(r *types.QuoteRequest) {
			r.SourceChain = types.ChainBitcoin
		}, types.ErrCodeUnsupportedRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := humanRequest("1.5")
			tt.mutate(req)

			_, err := engine.GetQuotes(context.Background(), req)
			require.Error(t, err)

			var engineErr *types.EngineError
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, tt.wantCode, engineErr.Code)
		})
	}
}

// ========================================
// 缓存与清空
// ========================================

func TestGetQuotes_CacheHitSkipsAggregation(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	engine := newTestEngine(clock.New(), adapter)

	first, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), adapter.callCount())

	metrics := engine.Metrics()
	assert.Equal(t, int64(2), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, 1, metrics.CachedEntries)
	assert.Equal(t, 1, metrics.ArmedTimers)
}

func TestClearCache_ForcesRefetchAndDisarmsTimers(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	engine := newTestEngine(clock.New(), adapter)

	_, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)
	require.Equal(t, 1, engine.Metrics().ArmedTimers)

	engine.ClearCache()
	metrics := engine.Metrics()
	assert.Equal(t, 0, metrics.CachedEntries)
	assert.Equal(t, 0, metrics.ArmedTimers)

	// 清空后同一请求重新回源
	result, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, int32(2), adapter.callCount())
}

func TestQuoteTTL_CountdownQueryable(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	engine := newTestEngine(clock.New(), adapter)

	req := humanRequest("1.5")
	_, err := engine.GetQuotes(context.Background(), req)
	require.NoError(t, err)

	remaining, ok := engine.QuoteTTL(req.Signature())
	require.True(t, ok)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 30*time.Second)
}

// ========================================
// 自动刷新
// ========================================

func TestAutoRefresh_ExpiryTriggersReaggregation(t *testing.T) {
	mock := clock.NewMock()
	// 报价不带过期时间，走默认TTL(30秒)
	quote := swapQuote(1000, 30)
	quote.ExpiresAt = time.Time{}
	adapter := newFakeAdapter("alpha", 1, false, quote)
	engine := newTestEngine(mock, adapter)

	req := humanRequest("1.5")
	_, err := engine.GetQuotes(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int32(1), adapter.callCount())
	require.Equal(t, 1, engine.Metrics().ArmedTimers)

	// 快进过TTL，到期回调自动重新聚合并续期定时器
	mock.Add(31 * time.Second)

	require.Eventually(t, func() bool {
		return adapter.callCount() == 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		m := engine.Metrics()
		return m.RefreshCount == 1 && m.ArmedTimers == 1 && m.CachedEntries == 1
	}, time.Second, 5*time.Millisecond)

	// 刷新后的结果对调用方是缓存命中
	result, err := engine.GetQuotes(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, int32(2), adapter.callCount())
}

func TestAutoRefresh_FailureEvictsEntry(t *testing.T) {
	mock := clock.NewMock()
	quote := swapQuote(1000, 30)
	quote.ExpiresAt = time.Time{}
	adapter := newFakeAdapter("alpha", 1, false, quote)
	engine := newTestEngine(mock, adapter)

	_, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)

	// 刷新时提供商开始报错
	adapter.err = types.NewProviderError("alpha", types.ProviderUnavailable, "维护中")
	mock.Add(31 * time.Second)

	require.Eventually(t, func() bool {
		m := engine.Metrics()
		return m.RefreshCount == 1 && m.CachedEntries == 0
	}, time.Second, 5*time.Millisecond)

	// 条目被移除后，下一次请求重新回源并拿到错误
	_, err = engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.Error(t, err)
}

func TestClearCache_DuringRefreshDiscardsResult(t *testing.T) {
	mock := clock.NewMock()
	quote := swapQuote(1000, 30)
	quote.ExpiresAt = time.Time{}
	adapter := newFakeAdapter("alpha", 1, false, quote)
	engine := newTestEngine(mock, adapter)

	_, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
	require.NoError(t, err)

	// 刷新时适配器变慢，留出清空缓存的窗口
	adapter.delay = 100 * time.Millisecond

	go mock.Add(31 * time.Second)

	// 等自动刷新进入飞行状态后清空缓存
	require.Eventually(t, func() bool { return adapter.callCount() == 2 },
		time.Second, 5*time.Millisecond)
	engine.ClearCache()

	// 刷新完成后被清空的键不得复活: 不落盘、不武装定时器
	require.Never(t, func() bool {
		m := engine.Metrics()
		return m.CachedEntries != 0 || m.ArmedTimers != 0
	}, 500*time.Millisecond, 10*time.Millisecond)

	assert.Equal(t, int64(1), engine.Metrics().RefreshCount)
}

func TestClearCache_DuringFlightDoesNotArmTimer(t *testing.T) {
	adapter := newFakeAdapter("alpha", 1, false, swapQuote(1000, 30))
	adapter.delay = 100 * time.Millisecond
	engine := newTestEngine(clock.New(), adapter)

	done := make(chan error, 1)
	go func() {
		_, err := engine.GetQuotes(context.Background(), humanRequest("1.5"))
		done <- err
	}()

	// 等聚合进入飞行状态后清空缓存
	require.Eventually(t, func() bool { return adapter.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	engine.ClearCache()

	require.NoError(t, <-done)

	// 飞行中的结果被作废: 不落盘、不武装定时器
	metrics := engine.Metrics()
	assert.Equal(t, 0, metrics.CachedEntries)
	assert.Equal(t, 0, metrics.ArmedTimers)
}

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"crypto-wallet/quote-engine/internal/adapters"
	"crypto-wallet/quote-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter 测试用的内存适配器
type fakeAdapter struct {
	cfg    *types.ProviderConfig
	quote  types.Quote
	err    error
	panics bool
	delay  time.Duration
	calls  int32
}

func newFakeAdapter(name string, priority int, crossChain bool, quote types.Quote) *fakeAdapter {
	return &fakeAdapter{
		cfg: &types.ProviderConfig{
			Name:       name,
			Priority:   priority,
			Timeout:    time.Second,
			IsActive:   true,
			CrossChain: crossChain,
			SupportedChains: []types.Chain{
				types.ChainEthereum, types.ChainPolygon, types.ChainArbitrum,
			},
		},
		quote: quote,
	}
}

func (f *fakeAdapter) GetName() string                 { return f.cfg.Name }
func (f *fakeAdapter) GetDisplayName() string          { return f.cfg.Name }
func (f *fakeAdapter) Priority() int                   { return f.cfg.Priority }
func (f *fakeAdapter) GetConfig() *types.ProviderConfig { return f.cfg }
func (f *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeAdapter) SupportsRoute(source, dest types.Chain) bool {
	if f.cfg.CrossChain {
		return source != dest && f.cfg.SupportsChain(source) && f.cfg.SupportsChain(dest)
	}
	return source == dest && f.cfg.SupportsChain(source)
}

func (f *fakeAdapter) GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("适配器内部错误")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, types.NewProviderError(f.cfg.Name, types.ProviderTimeout, "超时")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	q := f.quote
	q.Provider = f.cfg.Name
	return &q, nil
}

func (f *fakeAdapter) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func swapRequest() *types.QuoteRequest {
	return &types.QuoteRequest{
		RequestID:       "req-agg",
		SourceChain:     types.ChainEthereum,
		DestChain:       types.ChainEthereum,
		TokenIn:         "0xIN",
		TokenOut:        "0xOUT",
		AmountIn:        decimal.NewFromInt(1000000),
		SlippagePercent: decimal.NewFromFloat(0.5),
	}
}

func swapQuote(amountOut int64, eta int) types.Quote {
	return types.Quote{
		TokenOut:         "0xout",
		AmountOut:        decimal.NewFromInt(amountOut),
		EstimatedSeconds: eta,
		ExpiresAt:        time.Now().Add(30 * time.Second),
	}
}

func newService(adapterList ...adapters.ProviderAdapter) *AggregatorService {
	return NewAggregatorService(adapterList, 30*time.Second, silentLogger())
}

func TestAggregate_BestIsMaxAmountOut(t *testing.T) {
	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(900, 30)),
		newFakeAdapter("beta", 2, false, swapQuote(1100, 30)),
		newFakeAdapter("gamma", 3, false, swapQuote(1000, 30)),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)

	assert.Equal(t, "beta", result.Best.Provider)
	assert.True(t, result.Best.AmountOut.Equal(decimal.NewFromInt(1100)))
	assert.Len(t, result.Quotes, 3)
	assert.Equal(t, 3, result.ProvidersQueried)
	assert.Equal(t, 0, result.ProvidersFailed)

	// 报价按输出数量降序排列
	for i := 1; i < len(result.Quotes); i++ {
		assert.True(t, result.Quotes[i-1].AmountOut.GreaterThanOrEqual(result.Quotes[i].AmountOut))
	}
}

func TestAggregate_TieBreakDeterministic(t *testing.T) {
	// 输出相同: 预估时间更短的胜出
	s := newService(
		newFakeAdapter("slow", 1, false, swapQuote(1000, 60)),
		newFakeAdapter("fast", 2, false, swapQuote(1000, 30)),
	)
	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)
	assert.Equal(t, "fast", result.Best.Provider)

	// 输出和时间都相同: 优先级更高(数值更小)的胜出
	s = newService(
		newFakeAdapter("second", 2, false, swapQuote(1000, 30)),
		newFakeAdapter("first", 1, false, swapQuote(1000, 30)),
	)

	// 多次聚合结果必须一致，与goroutine完成顺序无关
	for i := 0; i < 10; i++ {
		result, err := s.Aggregate(context.Background(), swapRequest())
		require.NoError(t, err)
		assert.Equal(t, "first", result.Best.Provider)
	}
}

func TestAggregate_FastestAndCheapest(t *testing.T) {
	cheapGas := decimal.NewFromFloat(1.2)
	expensiveGas := decimal.NewFromFloat(8.5)

	bigSlow := swapQuote(1200, 300)
	bigSlow.GasCostUSD = &expensiveGas
	smallFast := swapQuote(1000, 20)
	smallFast.GasCostUSD = &cheapGas

	s := newService(
		newFakeAdapter("big-slow", 1, false, bigSlow),
		newFakeAdapter("small-fast", 2, false, smallFast),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)

	assert.Equal(t, "big-slow", result.Best.Provider)
	assert.Equal(t, "small-fast", result.Fastest.Provider)
	assert.Equal(t, "small-fast", result.Cheapest.Provider)
}

func TestAggregate_CheapestFallsBackToBest(t *testing.T) {
	// 所有提供商都没报网络费用时，最省视图回退到最优报价
	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(900, 30)),
		newFakeAdapter("beta", 2, false, swapQuote(1100, 30)),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)
	assert.Equal(t, result.Best.Provider, result.Cheapest.Provider)
}

func TestAggregate_SpreadPercent(t *testing.T) {
	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(1100, 30)),
		newFakeAdapter("beta", 2, false, swapQuote(1000, 30)),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)

	// (1100-1000)/1000*100 = 10%
	expected := decimal.NewFromInt(10)
	assert.True(t, result.SpreadPercent.Equal(expected),
		"期望10%%, 实际%s", result.SpreadPercent.String())
	assert.True(t, result.SpreadPercent.GreaterThanOrEqual(decimal.Zero))
}

func TestAggregate_SpreadZeroWithSingleQuote(t *testing.T) {
	s := newService(newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)))

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)
	assert.True(t, result.SpreadPercent.IsZero())
}

func TestAggregate_SpreadIgnoresOtherTokens(t *testing.T) {
	// 以其他代币计价的报价不参与价差比较
	otherToken := swapQuote(1, 30)
	otherToken.TokenOut = "0xother"

	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(1100, 30)),
		newFakeAdapter("beta", 2, false, swapQuote(1000, 30)),
		newFakeAdapter("gamma", 3, false, otherToken),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)
	assert.True(t, result.SpreadPercent.Equal(decimal.NewFromInt(10)))
}

func TestAggregate_PartialFailureRecovered(t *testing.T) {
	failing := newFakeAdapter("broken", 2, false, types.Quote{})
	failing.err = types.NewProviderError("broken", types.ProviderUnavailable, "维护中")

	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)),
		failing,
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)

	assert.Len(t, result.Quotes, 1)
	assert.Equal(t, 2, result.ProvidersQueried)
	assert.Equal(t, 1, result.ProvidersFailed)
	assert.Equal(t, "alpha", result.Best.Provider)
}

func TestAggregate_PanicRecovered(t *testing.T) {
	panicking := newFakeAdapter("panicky", 2, false, types.Quote{})
	panicking.panics = true

	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)),
		panicking,
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProvidersFailed)
	assert.Equal(t, "alpha", result.Best.Provider)
}

func TestAggregate_AllFailed(t *testing.T) {
	a := newFakeAdapter("alpha", 1, false, types.Quote{})
	a.err = types.NewProviderError("alpha", types.ProviderTimeout, "超时")
	b := newFakeAdapter("beta", 2, false, types.Quote{})
	b.err = errors.New("未分类错误")

	s := newService(a, b)

	_, err := s.Aggregate(context.Background(), swapRequest())
	require.Error(t, err)

	var engineErr *types.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, types.ErrCodeNoQuotesAvailable, engineErr.Code)
}

func TestAggregate_UnsupportedRoute(t *testing.T) {
	// 只有同链适配器，跨链请求无人能接
	s := newService(newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)))

	req := swapRequest()
	req.DestChain = types.ChainPolygon

	_, err := s.Aggregate(context.Background(), req)
	require.Error(t, err)

	var engineErr *types.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, types.ErrCodeUnsupportedRoute, engineErr.Code)
}

func TestAggregate_CrossChainRouting(t *testing.T) {
	swap := newFakeAdapter("swap", 1, false, swapQuote(1000, 30))
	bridge := newFakeAdapter("bridge", 3, true, swapQuote(990, 120))

	s := newService(swap, bridge)

	req := swapRequest()
	req.DestChain = types.ChainPolygon

	result, err := s.Aggregate(context.Background(), req)
	require.NoError(t, err)

	// 跨链请求只分发给跨链桥适配器
	assert.Equal(t, int32(0), swap.callCount())
	assert.Equal(t, int32(1), bridge.callCount())
	assert.Equal(t, "bridge", result.Best.Provider)
}

func TestAggregate_InactiveAdapterSkipped(t *testing.T) {
	disabled := newFakeAdapter("disabled", 1, false, swapQuote(9999, 1))
	disabled.cfg.IsActive = false

	s := newService(
		disabled,
		newFakeAdapter("alpha", 2, false, swapQuote(1000, 30)),
	)

	result, err := s.Aggregate(context.Background(), swapRequest())
	require.NoError(t, err)

	assert.Equal(t, int32(0), disabled.callCount())
	assert.Equal(t, 1, result.ProvidersQueried)
	assert.Equal(t, "alpha", result.Best.Provider)
}

func TestAggregate_SlowAdapterTimesOut(t *testing.T) {
	slow := newFakeAdapter("slow", 2, false, swapQuote(9999, 1))
	slow.cfg.Timeout = 30 * time.Millisecond
	slow.delay = 500 * time.Millisecond

	s := newService(
		newFakeAdapter("alpha", 1, false, swapQuote(1000, 30)),
		slow,
	)

	start := time.Now()
	result, err := s.Aggregate(context.Background(), swapRequest())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ProvidersFailed)
	assert.Equal(t, "alpha", result.Best.Provider)
	// 延迟以最慢适配器的超时为上界，而不是其实际耗时
	assert.Less(t, elapsed, 400*time.Millisecond)
}

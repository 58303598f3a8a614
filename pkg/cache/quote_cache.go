// Package cache 报价结果的内存缓存
// 以请求签名为键，singleflight保证并发等价请求只触发一次网络聚合
package cache

import (
	"context"
	"sync"
	"time"

	"crypto-wallet/quote-engine/internal/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// FetchFunc 缓存未命中时的回源函数
type FetchFunc func(ctx context.Context, req *types.QuoteRequest) (*types.AggregatedQuotes, error)

// entry 单个缓存条目
type entry struct {
	result     *types.AggregatedQuotes // 聚合结果
	request    *types.QuoteRequest     // 原始请求(自动刷新时复用)
	generation uint64                  // 写入时的缓存代数
}

// fetchOutcome singleflight回源的返回值
type fetchOutcome struct {
	result *types.AggregatedQuotes
	stored bool // 是否写入了缓存(Clear后飞行中的结果不写入)
}

// QuoteCache 报价缓存
// 全部状态在内存中，进程重启即失效
// Clear通过代数递增使飞行中的回源结果作废，不会复活已清空的键
type QuoteCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	group      singleflight.Group
	generation uint64 // 当前代数，Clear时递增
	onStore    func(key string, result *types.AggregatedQuotes)
	logger     *logrus.Logger
}

// NewQuoteCache 创建报价缓存
func NewQuoteCache(logger *logrus.Logger) *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetOnStore 注册写入钩子
// 仅在结果真正落盘时触发(被Clear作废的飞行结果不触发)，调用方借此武装过期定时器
func (c *QuoteCache) SetOnStore(fn func(key string, result *types.AggregatedQuotes)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStore = fn
}

// ========================================
// 读取路径
// ========================================

// GetFresh 查询未过期的缓存条目
// 命中时返回打上缓存标记的副本，不触发任何网络活动
func (c *QuoteCache) GetFresh(key string, now time.Time) (*types.AggregatedQuotes, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.result.ExpiresAt) {
		return nil, false
	}

	hit := *e.result
	hit.CacheHit = true
	return &hit, true
}

// GetOrFetch 读取缓存，未命中时经singleflight回源
// 并发的等价请求只有一个执行fetch，其余等待并共享同一结果
// 返回值cacheHit表示本次调用是否未触发网络聚合
func (c *QuoteCache) GetOrFetch(ctx context.Context, req *types.QuoteRequest, fetch FetchFunc) (*types.AggregatedQuotes, bool, error) {
	key := req.Signature().Key()

	if hit, ok := c.GetFresh(key, time.Now()); ok {
		c.logger.Debugf("💾 [%s] 缓存命中: %s", req.RequestID, key)
		return hit, true, nil
	}

	// executed仅在本调用的闭包真正执行时置位，用于区分领队和搭车方
	// singleflight的shared标记对领队同样为真，不能用来判断
	executed := false
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		executed = true

		// 进入singleflight后再查一次，排队期间可能已有结果落盘
		if hit, ok := c.GetFresh(key, time.Now()); ok {
			return &fetchOutcome{result: hit, stored: false}, nil
		}

		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		result, err := fetch(ctx, req)
		if err != nil {
			return nil, err
		}

		stored := c.storeIfCurrent(key, req, result, gen)
		return &fetchOutcome{result: result, stored: stored}, nil
	})
	if err != nil {
		return nil, false, err
	}

	outcome := v.(*fetchOutcome)
	result := outcome.result
	// 搭车方共享领队的结果，对它们而言等同缓存命中
	if !executed && !result.CacheHit {
		followed := *result
		followed.CacheHit = true
		return &followed, true, nil
	}
	return result, result.CacheHit, nil
}

// ========================================
// 写入与失效
// ========================================

// storeIfCurrent 仅当代数未变时写入缓存
// fetch启动后发生过Clear则丢弃结果，调用方据此决定是否武装过期定时器
func (c *QuoteCache) storeIfCurrent(key string, req *types.QuoteRequest, result *types.AggregatedQuotes, gen uint64) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.logger.Debugf("缓存已清空，丢弃飞行中的结果: %s", key)
		return false
	}
	c.entries[key] = &entry{result: result, request: req, generation: gen}
	onStore := c.onStore
	c.mu.Unlock()

	if onStore != nil {
		onStore(key, result)
	}
	return true
}

// Store 在代数未变时写入缓存
// 自动刷新路径使用: gen是读取条目时观察到的代数，期间发生过Clear则丢弃结果
// 返回是否落盘
func (c *QuoteCache) Store(key string, req *types.QuoteRequest, result *types.AggregatedQuotes, gen uint64) bool {
	return c.storeIfCurrent(key, req, result, gen)
}

// Remove 移除单个缓存条目
func (c *QuoteCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear 清空全部缓存
// 递增代数，使所有飞行中的回源结果作废；返回被清除的键供调用方撤销定时器
func (c *QuoteCache) Clear() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.entries = make(map[string]*entry)
	c.generation++

	c.logger.Infof("🧹 缓存已清空: %d个条目", len(keys))
	return keys
}

// ========================================
// 查询辅助
// ========================================

// RequestFor 返回缓存键对应的原始请求和读取时刻的代数
// 自动刷新时复用原请求重新聚合，代数交还给Store做清空检测
func (c *QuoteCache) RequestFor(key string) (*types.QuoteRequest, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, c.generation, false
	}
	return e.request, c.generation, true
}

// Generation 当前缓存代数
func (c *QuoteCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len 当前缓存条目数
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

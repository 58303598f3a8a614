// Package scheduler 报价过期调度器
// 管理每个缓存键的TTL倒计时，到期触发自动刷新回调
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ExpireFunc 到期回调
// 在定时器goroutine上执行，回调内允许再次Arm
type ExpireFunc func(key string)

// armedTimer 单个键的在役定时器
type armedTimer struct {
	seq       uint64       // 武装序号，旧定时器触发时据此作废
	timer     *clock.Timer // 底层定时器
	expiresAt time.Time    // 到期时刻
}

// ExpiryScheduler 过期调度器
// 每个键至多一个在役定时器；重新武装原子地替换旧定时器
// 时钟可注入，测试用mock时钟快进
type ExpiryScheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	timers   map[string]*armedTimer
	seq      uint64 // 全局武装序号
	onExpire ExpireFunc
	logger   *logrus.Logger
}

// NewExpiryScheduler 创建过期调度器
func NewExpiryScheduler(clk clock.Clock, onExpire ExpireFunc, logger *logrus.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		clock:    clk,
		timers:   make(map[string]*armedTimer),
		onExpire: onExpire,
		logger:   logger,
	}
}

// ========================================
// 武装与撤销
// ========================================

// Arm 为键武装TTL定时器
// 已有定时器被原子替换：旧定时器即使已经触发，其回调也因序号不匹配而作废
// ttl<=0时立即视为过期，不武装定时器
func (s *ExpiryScheduler) Arm(key string, ttl time.Duration) {
	if ttl <= 0 {
		s.logger.Warnf("⏰ TTL已耗尽，跳过武装: %s", key)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	s.seq++
	seq := s.seq
	s.timers[key] = &armedTimer{
		seq:       seq,
		timer:     s.clock.AfterFunc(ttl, func() { s.fire(key, seq) }),
		expiresAt: s.clock.Now().Add(ttl),
	}

	s.logger.Debugf("⏰ 定时器已武装: key=%s, ttl=%v", key, ttl)
}

// fire 定时器到期入口
// 序号不匹配说明定时器已被替换或撤销，直接作废
func (s *ExpiryScheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	current, ok := s.timers[key]
	if !ok || current.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	s.logger.Debugf("⏰ 报价到期: %s", key)

	// 回调在锁外执行，允许回调内重新武装
	if s.onExpire != nil {
		s.onExpire(key)
	}
}

// Cancel 撤销键的定时器
// 对不存在的键为空操作
func (s *ExpiryScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// CancelAll 撤销全部定时器
func (s *ExpiryScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// ========================================
// 查询
// ========================================

// Remaining 键的剩余有效时长
// 没有在役定时器时返回0和false
func (s *ExpiryScheduler) Remaining(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return 0, false
	}
	remaining := t.expiresAt.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Armed 当前在役定时器数量
func (s *ExpiryScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expireRecorder 记录到期回调的线程安全计数器
type expireRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *expireRecorder) record(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, key)
}

func (r *expireRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.fired {
		if k == key {
			n++
		}
	}
	return n
}

func newTestScheduler() (*ExpiryScheduler, *clock.Mock, *expireRecorder) {
	mock := clock.NewMock()
	recorder := &expireRecorder{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewExpiryScheduler(mock, recorder.record, logger), mock, recorder
}

func TestArm_FiresOnceAfterTTL(t *testing.T) {
	s, mock, recorder := newTestScheduler()

	s.Arm("key-a", 30*time.Second)
	assert.Equal(t, 1, s.Armed())

	mock.Add(29 * time.Second)
	assert.Equal(t, 0, recorder.count("key-a"))

	mock.Add(1 * time.Second)
	require.Eventually(t, func() bool { return recorder.count("key-a") == 1 },
		time.Second, 5*time.Millisecond)

	// 触发后定时器出役，不会重复触发
	mock.Add(time.Minute)
	assert.Equal(t, 1, recorder.count("key-a"))
	assert.Equal(t, 0, s.Armed())
}

func TestArm_RearmReplacesOldTimer(t *testing.T) {
	s, mock, recorder := newTestScheduler()

	s.Arm("key-a", 10*time.Second)
	// 重新武装: 旧定时器被替换，总触发次数仍为1
	s.Arm("key-a", 30*time.Second)
	assert.Equal(t, 1, s.Armed())

	mock.Add(10 * time.Second)
	assert.Equal(t, 0, recorder.count("key-a"))

	mock.Add(20 * time.Second)
	require.Eventually(t, func() bool { return recorder.count("key-a") == 1 },
		time.Second, 5*time.Millisecond)
}

func TestCancel_PreventsFiring(t *testing.T) {
	s, mock, recorder := newTestScheduler()

	s.Arm("key-a", 10*time.Second)
	s.Cancel("key-a")
	assert.Equal(t, 0, s.Armed())

	mock.Add(time.Minute)
	assert.Equal(t, 0, recorder.count("key-a"))

	// 撤销不存在的键是空操作
	s.Cancel("missing")
}

func TestCancelAll(t *testing.T) {
	s, mock, recorder := newTestScheduler()

	s.Arm("key-a", 10*time.Second)
	s.Arm("key-b", 20*time.Second)
	require.Equal(t, 2, s.Armed())

	s.CancelAll()
	assert.Equal(t, 0, s.Armed())

	mock.Add(time.Minute)
	assert.Equal(t, 0, recorder.count("key-a"))
	assert.Equal(t, 0, recorder.count("key-b"))
}

func TestRemaining(t *testing.T) {
	s, mock, _ := newTestScheduler()

	_, ok := s.Remaining("key-a")
	assert.False(t, ok)

	s.Arm("key-a", 30*time.Second)
	remaining, ok := s.Remaining("key-a")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, remaining)

	mock.Add(12 * time.Second)
	remaining, ok = s.Remaining("key-a")
	require.True(t, ok)
	assert.Equal(t, 18*time.Second, remaining)
}

func TestArm_ZeroTTLSkipped(t *testing.T) {
	s, mock, recorder := newTestScheduler()

	s.Arm("key-a", 0)
	s.Arm("key-b", -time.Second)
	assert.Equal(t, 0, s.Armed())

	mock.Add(time.Minute)
	assert.Equal(t, 0, recorder.count("key-a"))
	assert.Equal(t, 0, recorder.count("key-b"))
}

func TestFire_CallbackMayRearm(t *testing.T) {
	mock := clock.NewMock()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	var mu sync.Mutex
	fired := 0
	var s *ExpiryScheduler
	s = NewExpiryScheduler(mock, func(key string) {
		mu.Lock()
		fired++
		n := fired
		mu.Unlock()
		// 回调内重新武装，模拟自动刷新后的续期
		if n < 3 {
			s.Arm(key, 10*time.Second)
		}
	}, logger)

	s.Arm("key-a", 10*time.Second)

	for i := 0; i < 3; i++ {
		mock.Add(10 * time.Second)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Armed())
}

// Package cpfp 加速会话状态机
// 管理单次加速操作的生命周期，计算与提交分离
package cpfp

import (
	"fmt"
	"sync"
)

// BoostState 加速会话状态
type BoostState string

// 状态机: Idle -> Calculating -> {Ready|Invalid} -> Submitting -> {Success|Failed}
// Failed可经Retry回到Ready，保留原有计算结果
const (
	StateIdle        BoostState = "idle"        // 初始状态
	StateCalculating BoostState = "calculating" // 计算中
	StateReady       BoostState = "ready"       // 计划可行，等待提交
	StateInvalid     BoostState = "invalid"     // 计划不可行
	StateSubmitting  BoostState = "submitting"  // 提交中
	StateSuccess     BoostState = "success"     // 提交成功(终态)
	StateFailed      BoostState = "failed"      // 提交失败，可重试
)

// StateListener 状态变更监听器
// 在触发变更的调用栈上同步执行，锁外调用
type StateListener func(from, to BoostState)

// ErrInvalidTransition 非法状态迁移错误
type ErrInvalidTransition struct {
	From BoostState
	To   BoostState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("非法状态迁移: %s -> %s", e.From, e.To)
}

// BoostSession 加速会话
// 持有一次加速操作的输入、计算结果和当前状态
type BoostSession struct {
	mu       sync.Mutex
	state    BoostState
	parent   *StuckTransaction
	plan     CPFPPlan
	lastErr  string // 最近一次提交失败的原因
	calc     *Calculator
	listener StateListener
}

// NewBoostSession 创建加速会话
func NewBoostSession(calc *Calculator) *BoostSession {
	return &BoostSession{
		state: StateIdle,
		calc:  calc,
	}
}

// SetListener 注册状态变更监听器
func (s *BoostSession) SetListener(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// ========================================
// 状态迁移
// ========================================

// Calculate 计算加速计划并迁移状态
// 允许从Idle/Ready/Invalid/Failed重新计算；提交中和已成功的会话拒绝
func (s *BoostSession) Calculate(parent *StuckTransaction, targetFeeRate float64, childVSize uint64) (CPFPPlan, error) {
	s.mu.Lock()

	switch s.state {
	case StateIdle, StateReady, StateInvalid, StateFailed:
	default:
		from := s.state
		s.mu.Unlock()
		return CPFPPlan{}, &ErrInvalidTransition{From: from, To: StateCalculating}
	}

	transitions := s.setStateLocked(StateCalculating)

	s.parent = parent
	s.plan = s.calc.Calculate(parent, targetFeeRate, childVSize)

	if s.plan.Valid {
		transitions = append(transitions, s.setStateLocked(StateReady)...)
	} else {
		transitions = append(transitions, s.setStateLocked(StateInvalid)...)
	}
	plan := s.plan
	s.mu.Unlock()

	s.notify(transitions)
	return plan, nil
}

// BeginSubmit 进入提交状态
// 仅允许从Ready进入，防止提交不可行或未计算的计划
func (s *BoostSession) BeginSubmit() error {
	return s.transition(StateReady, StateSubmitting)
}

// CompleteSubmit 标记提交成功(终态)
func (s *BoostSession) CompleteSubmit() error {
	return s.transition(StateSubmitting, StateSuccess)
}

// FailSubmit 标记提交失败并记录原因
func (s *BoostSession) FailSubmit(reason string) error {
	s.mu.Lock()
	if s.state != StateSubmitting {
		cur := s.state
		s.mu.Unlock()
		return &ErrInvalidTransition{From: cur, To: StateFailed}
	}
	s.lastErr = reason
	transitions := s.setStateLocked(StateFailed)
	s.mu.Unlock()
	s.notify(transitions)
	return nil
}

// Retry 失败后重试
// 回到Ready并保留原有的父交易和计算结果
func (s *BoostSession) Retry() error {
	return s.transition(StateFailed, StateReady)
}

// Reset 重置会话到初始状态
func (s *BoostSession) Reset() {
	s.mu.Lock()
	s.parent = nil
	s.plan = CPFPPlan{}
	s.lastErr = ""
	transitions := s.setStateLocked(StateIdle)
	s.mu.Unlock()
	s.notify(transitions)
}

// transition 受保护的单步迁移
func (s *BoostSession) transition(from, to BoostState) error {
	s.mu.Lock()
	if s.state != from {
		cur := s.state
		s.mu.Unlock()
		return &ErrInvalidTransition{From: cur, To: to}
	}
	transitions := s.setStateLocked(to)
	s.mu.Unlock()
	s.notify(transitions)
	return nil
}

// setStateLocked 更新状态并记录待通知的变更
// 调用方必须持有锁
func (s *BoostSession) setStateLocked(to BoostState) [][2]BoostState {
	from := s.state
	s.state = to
	if s.listener == nil || from == to {
		return nil
	}
	return [][2]BoostState{{from, to}}
}

// notify 锁外通知监听器
func (s *BoostSession) notify(transitions [][2]BoostState) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return
	}
	for _, t := range transitions {
		l(t[0], t[1])
	}
}

// ========================================
// 查询
// ========================================

// State 当前状态
func (s *BoostSession) State() BoostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Plan 最近一次的计算结果
func (s *BoostSession) Plan() CPFPPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Parent 当前会话的父交易
func (s *BoostSession) Parent() *StuckTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parent
}

// LastError 最近一次提交失败的原因
func (s *BoostSession) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

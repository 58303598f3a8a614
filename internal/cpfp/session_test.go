package cpfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParent() *StuckTransaction {
	return &StuckTransaction{
		TxID:                 "deadbeef",
		FeePaid:              1000,
		VSize:                200,
		SpendableOutputValue: 50000,
	}
}

func TestBoostSession_HappyPath(t *testing.T) {
	session := NewBoostSession(NewCalculator())
	assert.Equal(t, StateIdle, session.State())

	plan, err := session.Calculate(newTestParent(), 20.0, 141)
	require.NoError(t, err)
	require.True(t, plan.Valid)
	assert.Equal(t, StateReady, session.State())

	require.NoError(t, session.BeginSubmit())
	assert.Equal(t, StateSubmitting, session.State())

	require.NoError(t, session.CompleteSubmit())
	assert.Equal(t, StateSuccess, session.State())
}

func TestBoostSession_InvalidPlan(t *testing.T) {
	session := NewBoostSession(NewCalculator())

	// 可花费输出不足，计划不可行
	parent := &StuckTransaction{FeePaid: 1000, VSize: 200, SpendableOutputValue: 100}
	plan, err := session.Calculate(parent, 20.0, 141)
	require.NoError(t, err)
	assert.False(t, plan.Valid)
	assert.Equal(t, StateInvalid, session.State())

	// 不可行的计划不允许提交
	err = session.BeginSubmit()
	require.Error(t, err)
	var transErr *ErrInvalidTransition
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, StateInvalid, transErr.From)

	// 换参数重新计算后可进入Ready
	plan, err = session.Calculate(newTestParent(), 20.0, 141)
	require.NoError(t, err)
	assert.True(t, plan.Valid)
	assert.Equal(t, StateReady, session.State())
}

func TestBoostSession_FailedRetryPreservesInputs(t *testing.T) {
	session := NewBoostSession(NewCalculator())

	parent := newTestParent()
	plan, err := session.Calculate(parent, 20.0, 141)
	require.NoError(t, err)

	require.NoError(t, session.BeginSubmit())
	require.NoError(t, session.FailSubmit("广播被节点拒绝"))
	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, "广播被节点拒绝", session.LastError())

	// 重试回到Ready，保留原有计算结果和父交易
	require.NoError(t, session.Retry())
	assert.Equal(t, StateReady, session.State())
	assert.Equal(t, plan, session.Plan())
	assert.Equal(t, parent, session.Parent())

	// 重试后可以再次提交
	require.NoError(t, session.BeginSubmit())
	require.NoError(t, session.CompleteSubmit())
}

func TestBoostSession_IllegalTransitions(t *testing.T) {
	session := NewBoostSession(NewCalculator())

	// Idle不能直接提交
	assert.Error(t, session.BeginSubmit())
	assert.Error(t, session.CompleteSubmit())
	assert.Error(t, session.Retry())

	_, err := session.Calculate(newTestParent(), 20.0, 141)
	require.NoError(t, err)
	require.NoError(t, session.BeginSubmit())

	// 提交中不允许重新计算
	_, err = session.Calculate(newTestParent(), 30.0, 141)
	assert.Error(t, err)

	// 成功是终态
	require.NoError(t, session.CompleteSubmit())
	_, err = session.Calculate(newTestParent(), 30.0, 141)
	assert.Error(t, err)
	assert.Error(t, session.BeginSubmit())
}

func TestBoostSession_ListenerObservesTransitions(t *testing.T) {
	session := NewBoostSession(NewCalculator())

	var transitions [][2]BoostState
	session.SetListener(func(from, to BoostState) {
		transitions = append(transitions, [2]BoostState{from, to})
	})

	_, err := session.Calculate(newTestParent(), 20.0, 141)
	require.NoError(t, err)

	require.Equal(t, [][2]BoostState{
		{StateIdle, StateCalculating},
		{StateCalculating, StateReady},
	}, transitions)

	transitions = nil
	require.NoError(t, session.BeginSubmit())
	require.NoError(t, session.FailSubmit("超时"))
	require.NoError(t, session.Retry())

	require.Equal(t, [][2]BoostState{
		{StateReady, StateSubmitting},
		{StateSubmitting, StateFailed},
		{StateFailed, StateReady},
	}, transitions)
}

func TestBoostSession_Reset(t *testing.T) {
	session := NewBoostSession(NewCalculator())

	_, err := session.Calculate(newTestParent(), 20.0, 141)
	require.NoError(t, err)

	session.Reset()
	assert.Equal(t, StateIdle, session.State())
	assert.Nil(t, session.Parent())
	assert.Equal(t, CPFPPlan{}, session.Plan())
}

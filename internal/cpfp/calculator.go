// Package cpfp 比特币交易加速计算器
// 实现CPFP(子付父费)的费用计算，纯算术、无副作用
package cpfp

import (
	"math"
)

// ========================================
// 虚拟大小(vByte)常量表
// ========================================

// ScriptType 比特币脚本类型
type ScriptType string

// 支持的脚本类型
const (
	ScriptP2WPKH     ScriptType = "p2wpkh"       // 原生隔离见证
	ScriptP2PKH      ScriptType = "p2pkh"        // 传统地址
	ScriptP2TR       ScriptType = "p2tr"         // Taproot
	ScriptP2SHP2WPKH ScriptType = "p2sh-p2wpkh"  // 嵌套隔离见证
)

// TxOverheadVBytes 交易固定开销(版本号+输入输出计数+locktime)
const TxOverheadVBytes uint64 = 10

// inputVBytes 各脚本类型的输入虚拟大小
var inputVBytes = map[ScriptType]uint64{
	ScriptP2WPKH:     68,
	ScriptP2PKH:      148,
	ScriptP2TR:       58,
	ScriptP2SHP2WPKH: 91,
}

// outputVBytes 各脚本类型的输出虚拟大小
var outputVBytes = map[ScriptType]uint64{
	ScriptP2WPKH: 31,
	ScriptP2PKH:  34,
	ScriptP2TR:   43,
}

// DefaultChildVBytes 默认子交易大小估算
// 一个P2WPKH输入 + 一个P2WPKH找零输出
const DefaultChildVBytes = TxOverheadVBytes + 68 + 31 // = 109

// DustLimitP2WPKH P2WPKH输出的尘埃限制(聪)
const DustLimitP2WPKH uint64 = 294

// ========================================
// 数据类型
// ========================================

// StuckTransaction 待加速的卡住交易
// 金额单位为聪，大小单位为vByte
type StuckTransaction struct {
	TxID                 string `json:"txid"`                   // 交易ID
	FeePaid              uint64 `json:"fee_paid"`               // 已支付费用(聪)
	VSize                uint64 `json:"vsize"`                  // 虚拟大小(vByte)
	SpendableOutputIndex uint32 `json:"spendable_output_index"` // 可花费输出的索引
	SpendableOutputValue uint64 `json:"spendable_output_value"` // 可花费输出的数量(聪)
}

// FeeRate 父交易当前的费率(聪/vByte)
func (t *StuckTransaction) FeeRate() float64 {
	if t.VSize == 0 {
		return 0
	}
	return float64(t.FeePaid) / float64(t.VSize)
}

// 计划无效原因
const (
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS" // 可花费输出不足以支付子交易费用
	ReasonInvalidParent     = "INVALID_PARENT"     // 父交易参数无效
	ReasonInvalidTargetRate = "INVALID_TARGET_RATE" // 目标费率无效
)

// CPFPPlan CPFP加速计划
// 计算结果，描述子交易需要支付的费用及组合后的费率
type CPFPPlan struct {
	TargetFeeRate    float64 `json:"target_fee_rate"`    // 目标费率(聪/vByte)
	ParentFeeRate    float64 `json:"parent_fee_rate"`    // 父交易当前费率
	ChildVSize       uint64  `json:"child_vsize"`        // 子交易大小估算(vByte)
	CombinedVSize    uint64  `json:"combined_vsize"`     // 父子组合大小(vByte)
	RequiredChildFee uint64  `json:"required_child_fee"` // 子交易需支付的费用(聪)
	ChildFeeRate     float64 `json:"child_fee_rate"`     // 子交易的实际费率
	PackageFeeRate   float64 `json:"package_fee_rate"`   // 组合后的包费率
	OutputAfterFee   uint64  `json:"output_after_fee"`   // 扣除费用后的剩余输出(聪)
	Valid            bool    `json:"valid"`              // 计划是否可行
	Reason           string  `json:"reason,omitempty"`   // 不可行原因
}

// ========================================
// 核心计算
// ========================================

// Calculator CPFP计算器
// 无内部状态，所有方法纯函数
type Calculator struct{}

// NewCalculator 创建CPFP计算器
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate 计算CPFP加速计划
// childVSize为0时使用默认估算(一进一出P2WPKH)
// 相同输入必然产生相同输出，可重复调用
func (c *Calculator) Calculate(parent *StuckTransaction, targetFeeRate float64, childVSize uint64) CPFPPlan {
	if childVSize == 0 {
		childVSize = DefaultChildVBytes
	}

	plan := CPFPPlan{
		TargetFeeRate: targetFeeRate,
		ParentFeeRate: parent.FeeRate(),
		ChildVSize:    childVSize,
	}

	if parent.VSize == 0 {
		plan.Reason = ReasonInvalidParent
		return plan
	}
	if targetFeeRate <= 0 || math.IsNaN(targetFeeRate) || math.IsInf(targetFeeRate, 0) {
		plan.Reason = ReasonInvalidTargetRate
		return plan
	}

	// 组合费率必须覆盖父子两笔交易的总大小
	combinedVSize := parent.VSize + childVSize
	totalFeeNeeded := uint64(math.Ceil(targetFeeRate * float64(combinedVSize)))

	// 父交易已付的部分从子交易应付中扣除，不会为负
	var requiredChildFee uint64
	if totalFeeNeeded > parent.FeePaid {
		requiredChildFee = totalFeeNeeded - parent.FeePaid
	}

	plan.CombinedVSize = combinedVSize
	plan.RequiredChildFee = requiredChildFee
	plan.ChildFeeRate = float64(requiredChildFee) / float64(childVSize)
	plan.PackageFeeRate = float64(parent.FeePaid+requiredChildFee) / float64(combinedVSize)

	// 可行性检查: 子交易费用必须由可花费输出承担，且找零不低于尘埃限制
	if requiredChildFee > parent.SpendableOutputValue {
		plan.Reason = ReasonInsufficientFunds
		return plan
	}
	change := parent.SpendableOutputValue - requiredChildFee
	if change < DustLimitP2WPKH {
		plan.Reason = ReasonInsufficientFunds
		return plan
	}

	plan.OutputAfterFee = change
	plan.Valid = true
	return plan
}

// EstimateChildVSize 按输入输出构成估算子交易大小
// 未知脚本类型按最保守的P2PKH计
func EstimateChildVSize(numInputs int, inputType ScriptType, numOutputs int, outputType ScriptType) uint64 {
	in, ok := inputVBytes[inputType]
	if !ok {
		in = inputVBytes[ScriptP2PKH]
	}
	out, ok := outputVBytes[outputType]
	if !ok {
		out = outputVBytes[ScriptP2PKH]
	}
	return TxOverheadVBytes + uint64(numInputs)*in + uint64(numOutputs)*out
}

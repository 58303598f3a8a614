// Package adapters 提供商适配器接口定义
// 定义所有流动性来源/跨链桥适配器的标准接口
package adapters

import (
	"context"

	"crypto-wallet/quote-engine/internal/types"
)

// ProviderAdapter 提供商适配器接口
// 定义所有第三方流动性来源必须实现的标准接口
// 实现必须是纯网络调用：无共享可变状态，可并发、可重复调用(不移动资金)
type ProviderAdapter interface {
	// 基础信息
	GetName() string                                   // 获取提供商名称
	GetDisplayName() string                            // 获取显示名称
	Priority() int                                     // 固定优先级(用于同价决胜)
	SupportsRoute(source, dest types.Chain) bool       // 检查是否支持指定链路

	// 核心功能
	GetQuote(ctx context.Context, req *types.QuoteRequest) (*types.Quote, error) // 获取报价
	HealthCheck(ctx context.Context) error                                       // 健康检查

	// 配置管理
	GetConfig() *types.ProviderConfig // 获取当前配置
}

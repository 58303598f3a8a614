// Package handlers HTTP处理器
// 薄封装层，把HTTP请求转发给报价引擎核心API
package handlers

import (
	"net/http"
	"time"

	"crypto-wallet/quote-engine/internal/cpfp"
	"crypto-wallet/quote-engine/internal/services"
	"crypto-wallet/quote-engine/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// QuoteHandler 报价API处理器
type QuoteHandler struct {
	engine *services.QuoteEngine
	logger *logrus.Logger
}

// NewQuoteHandler 创建报价处理器
func NewQuoteHandler(engine *services.QuoteEngine, logger *logrus.Logger) *QuoteHandler {
	return &QuoteHandler{
		engine: engine,
		logger: logger,
	}
}

// ========================================
// 报价端点
// ========================================

// GetQuotes 处理聚合报价请求
// POST /api/v1/quote
func (h *QuoteHandler) GetQuotes(c *gin.Context) {
	requestID := getOrGenerateRequestID(c)

	var req types.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("❌ [%s] 请求参数绑定失败: %v", requestID, err)
		h.sendError(c, http.StatusBadRequest, requestID, &types.APIError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "请求参数格式错误",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	req.RequestID = requestID

	h.logger.Infof("📞 [%s] 收到报价请求: %s->%s, %s %s",
		requestID, req.SourceChain, req.DestChain, req.Amount, req.TokenIn)

	result, err := h.engine.GetQuotes(c.Request.Context(), &req)
	if err != nil {
		h.handleEngineError(c, requestID, err)
		return
	}

	h.sendSuccess(c, requestID, result, gin.H{
		"cache_hit":  result.CacheHit,
		"ttl_ms":     result.TTL(time.Now()).Milliseconds(),
		"quote_count": len(result.Quotes),
	})
}

// ClearCache 清空报价缓存
// DELETE /api/v1/cache
func (h *QuoteHandler) ClearCache(c *gin.Context) {
	requestID := getOrGenerateRequestID(c)

	h.engine.ClearCache()
	h.logger.Infof("🧹 [%s] 缓存清空完成", requestID)

	h.sendSuccess(c, requestID, gin.H{"cleared": true}, nil)
}

// ========================================
// CPFP端点
// ========================================

// CPFPRequest CPFP计算请求体
type CPFPRequest struct {
	TxID                 string  `json:"txid" binding:"required"`            // 卡住交易ID
	FeePaid              uint64  `json:"fee_paid"`                           // 已支付费用(聪)
	VSize                uint64  `json:"vsize" binding:"required"`           // 虚拟大小(vByte)
	SpendableOutputIndex uint32  `json:"spendable_output_index"`             // 可花费输出索引
	SpendableOutputValue uint64  `json:"spendable_output_value"`             // 可花费输出数量(聪)
	TargetFeeRate        float64 `json:"target_fee_rate" binding:"required"` // 目标费率(聪/vByte)
	ChildVSize           uint64  `json:"child_vsize"`                        // 子交易大小估算，0用默认值
}

// CalculateCPFP 计算CPFP加速计划
// POST /api/v1/cpfp
func (h *QuoteHandler) CalculateCPFP(c *gin.Context) {
	requestID := getOrGenerateRequestID(c)

	var req CPFPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, http.StatusBadRequest, requestID, &types.APIError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "请求参数格式错误",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	parent := &cpfp.StuckTransaction{
		TxID:                 req.TxID,
		FeePaid:              req.FeePaid,
		VSize:                req.VSize,
		SpendableOutputIndex: req.SpendableOutputIndex,
		SpendableOutputValue: req.SpendableOutputValue,
	}

	plan := h.engine.CalculateCPFP(parent, req.TargetFeeRate, req.ChildVSize)

	h.logger.Infof("⚡ [%s] CPFP计算完成: txid=%s, valid=%v, childFee=%d",
		requestID, req.TxID, plan.Valid, plan.RequiredChildFee)

	h.sendSuccess(c, requestID, plan, nil)
}

// ========================================
// 运维端点
// ========================================

// HealthCheck 健康检查
// GET /health
func (h *QuoteHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "quote-engine",
		"time":    time.Now().Unix(),
	})
}

// Metrics 运行指标
// GET /api/v1/metrics
func (h *QuoteHandler) Metrics(c *gin.Context) {
	requestID := getOrGenerateRequestID(c)
	h.sendSuccess(c, requestID, h.engine.Metrics(), nil)
}

// ========================================
// 统一响应处理
// ========================================

// handleEngineError 把引擎错误映射为HTTP响应
func (h *QuoteHandler) handleEngineError(c *gin.Context, requestID string, err error) {
	engineErr, ok := err.(*types.EngineError)
	if !ok {
		h.logger.Errorf("❌ [%s] 未分类错误: %v", requestID, err)
		h.sendError(c, http.StatusInternalServerError, requestID, &types.APIError{
			Code:    types.ErrCodeInternalError,
			Message: "内部服务错误",
		})
		return
	}

	status := http.StatusInternalServerError
	switch engineErr.Code {
	case types.ErrCodeInvalidRequest, types.ErrCodeUnsupportedRoute:
		status = http.StatusBadRequest
	case types.ErrCodeNoQuotesAvailable:
		// 上游全部失败
		status = http.StatusBadGateway
	}

	h.logger.Warnf("⚠️ [%s] 引擎错误: code=%s, msg=%s", requestID, engineErr.Code, engineErr.Message)
	h.sendError(c, status, requestID, &types.APIError{
		Code:    engineErr.Code,
		Message: engineErr.Message,
		Details: engineErr.Details,
	})
}

// sendSuccess 发送成功响应
func (h *QuoteHandler) sendSuccess(c *gin.Context, requestID string, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// sendError 发送错误响应
func (h *QuoteHandler) sendError(c *gin.Context, status int, requestID string, apiErr *types.APIError) {
	c.JSON(status, types.APIResponse{
		Success:   false,
		Error:     apiErr,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// getOrGenerateRequestID 获取或生成请求ID
// 优先使用客户端传入的X-Request-ID，便于链路追踪
func getOrGenerateRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}
	return uuid.New().String()
}

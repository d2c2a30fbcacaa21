package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solvena/solvena-bridge/internal/metrics"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/service"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

// SignatureHeader 支付方回调的签名头
const SignatureHeader = "X-Solvena-Signature"

// WebhookHandler 支付方回调处理器。
// 签名验证在反序列化之前，基于原始请求体; 验证不通过一律 401，
// 不泄露失败细节。5xx 才会触发支付方重试，所以只有事件未被
// 持久记录时才返回 500。
type WebhookHandler struct {
	payments      *service.PaymentService
	signingSecret string
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(payments *service.PaymentService, signingSecret string) *WebhookHandler {
	return &WebhookHandler{
		payments:      payments,
		signingSecret: signingSecret,
	}
}

// WebhookAck 回调确认响应
type WebhookAck struct {
	Success   bool `json:"success"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// providerEvent 支付方回调的线上格式
type providerEvent struct {
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata struct {
			LoanID          string `json:"loanId"`
			BorrowerAddress string `json:"borrowerAddress"`
		} `json:"metadata"`
		ErrorCode string `json:"errorCode"`
	} `json:"data"`
}

// toEvent 把线上格式解包成内部事件
func (p *providerEvent) toEvent() (*model.PaymentWebhookEvent, error) {
	amount := decimal.Zero
	if p.Data.Amount.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(p.Data.Amount.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", p.Data.Amount.Amount)
		}
	}

	return &model.PaymentWebhookEvent{
		Type:              p.Type,
		ExternalPaymentID: p.Data.ID,
		LoanApplicationID: p.Data.Metadata.LoanID,
		BorrowerAddress:   p.Data.Metadata.BorrowerAddress,
		Amount:            amount,
		Currency:          p.Data.Amount.Currency,
		ErrorCode:         p.Data.ErrorCode,
	}, nil
}

// HandlePaymentWebhook 处理支付方回调
// POST /webhooks/payments
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, "failed to read request body")
		return
	}

	if !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		metrics.RecordWebhook("unknown", "unauthorized")
		Unauthorized(c, "invalid signature")
		return
	}

	var raw providerEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		BadRequest(c, "malformed event payload")
		return
	}
	event, err := raw.toEvent()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.payments.Process(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, service.ErrUnknownEventType) ||
			errors.Is(err, service.ErrMissingPaymentID) {
			BadRequest(c, err.Error())
			return
		}
		// 事件未被持久记录，让支付方重试投递
		logger.Error("webhook processing failed",
			zap.String("event_type", event.Type),
			zap.String("external_payment_id", event.ExternalPaymentID),
			zap.Error(err))
		InternalError(c, "event not recorded")
		return
	}

	c.JSON(http.StatusOK, WebhookAck{
		Success:   true,
		Duplicate: result.Duplicate,
	})
}

// verifySignature 验证请求体的 HMAC-SHA256 签名。
// 未配置密钥时拒绝所有请求 (fail closed)。
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.signingSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

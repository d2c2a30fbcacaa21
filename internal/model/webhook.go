package model

import (
	"github.com/shopspring/decimal"
)

// 支付回调事件类型
const (
	WebhookEventPaymentConfirmed = "payment.confirmed"
	WebhookEventPaymentPaid      = "payment.paid"
	WebhookEventPaymentFailed    = "payment.failed"
)

// PaymentWebhookEvent 支付回调事件 (签名验证并解包后的内部表示)
type PaymentWebhookEvent struct {
	Type              string          `json:"type"`
	ExternalPaymentID string          `json:"external_payment_id"`
	LoanApplicationID string          `json:"loan_application_id"`
	BorrowerAddress   string          `json:"borrower_address"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ErrorCode         string          `json:"error_code"`
}

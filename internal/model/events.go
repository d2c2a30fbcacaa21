package model

import (
	"math/big"
)

// LoanSettlementView 合约侧结算视图，每次调用实时读取，不缓存
type LoanSettlementView struct {
	Active       bool     `json:"active"`
	Amount       *big.Int `json:"amount"`
	RepaidAmount *big.Int `json:"repaid_amount"`
}

// PaymentFailureNotice 支付失败通知 (发送到 Kafka)
type PaymentFailureNotice struct {
	ExternalPaymentID string `json:"external_payment_id"`
	LoanApplicationID string `json:"loan_application_id"`
	BorrowerAddress   string `json:"borrower_address"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	FailureReason     string `json:"failure_reason"`
	FailedAt          int64  `json:"failed_at"`
}

// LoanRepaidEvent 贷款结清事件 (发送到 Kafka)
type LoanRepaidEvent struct {
	LoanID            string `json:"loan_id"`
	BorrowerAddress   string `json:"borrower_address"`
	ExternalPaymentID string `json:"external_payment_id"`
	TxHash            string `json:"tx_hash"`
	RepaidAt          int64  `json:"repaid_at"`
}

// FactRelayedEvent 事实上链事件 (发送到 Kafka)
type FactRelayedEvent struct {
	LoanID          string `json:"loan_id"`
	BorrowerAddress string `json:"borrower_address"`
	FactKind        string `json:"fact_kind"`
	DscrValueScaled int64  `json:"dscr_value_scaled"`
	RateBps         int64  `json:"rate_bps"`
	VerificationSeq uint64 `json:"verification_seq"`
	TxHash          string `json:"tx_hash"`
	RelayedAt       int64  `json:"relayed_at"`
}

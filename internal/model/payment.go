package model

import (
	"github.com/shopspring/decimal"
)

// PaymentStatus 支付状态
type PaymentStatus int8

const (
	PaymentStatusConfirmed PaymentStatus = 0 // 已确认 (支付方已受理)
	PaymentStatusPaid      PaymentStatus = 1 // 已结清 (资金已到账)
	PaymentStatusFailed    PaymentStatus = 2 // 失败 (终态)
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusConfirmed:
		return "CONFIRMED"
	case PaymentStatusPaid:
		return "PAID"
	case PaymentStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed
}

// CanTransitionTo 判断状态是否允许前移 (只允许单向推进)
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case PaymentStatusConfirmed:
		return next == PaymentStatusPaid || next == PaymentStatusFailed
	case PaymentStatusPaid:
		return next == PaymentStatusFailed
	default:
		return false
	}
}

// PaymentRecord 支付记录 (以支付方外部 ID 为唯一键)
type PaymentRecord struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalPaymentID string          `gorm:"column:external_payment_id;type:varchar(128);uniqueIndex;not null" json:"external_payment_id"`
	LoanApplicationID string          `gorm:"column:loan_application_id;type:varchar(128);index;not null" json:"loan_application_id"`
	BorrowerAddress   string          `gorm:"column:borrower_address;type:varchar(42)" json:"borrower_address"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	Currency          string          `gorm:"column:currency;type:varchar(16);not null" json:"currency"`
	Status            PaymentStatus   `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	// OnChainRecorded 为 true 时 OnChainTxHash 必须非空
	OnChainRecorded bool   `gorm:"column:on_chain_recorded;not null;default:false" json:"on_chain_recorded"`
	OnChainTxHash   string `gorm:"column:on_chain_tx_hash;type:varchar(66)" json:"on_chain_tx_hash"`
	FailureReason   string `gorm:"column:failure_reason;type:varchar(500)" json:"failure_reason"`
	ConfirmedAt     int64  `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at"`
	PaidAt          int64  `gorm:"column:paid_at;type:bigint" json:"paid_at"`
	FailedAt        int64  `gorm:"column:failed_at;type:bigint" json:"failed_at"`
	CreatedAt       int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PaymentRecord) TableName() string {
	return "bridge_payment_records"
}

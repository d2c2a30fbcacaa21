package model

import (
	"github.com/shopspring/decimal"
)

// LoanStatus 贷款状态 (桥内维护的结算投影)
type LoanStatus int8

const (
	LoanStatusActive    LoanStatus = 0 // 进行中
	LoanStatusRepaid    LoanStatus = 1 // 已结清
	LoanStatusDefaulted LoanStatus = 2 // 违约
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusActive:
		return "ACTIVE"
	case LoanStatusRepaid:
		return "REPAID"
	case LoanStatusDefaulted:
		return "DEFAULTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s LoanStatus) IsTerminal() bool {
	return s == LoanStatusRepaid || s == LoanStatusDefaulted
}

// Loan 贷款结算投影。贷前系统拥有完整贷款数据，
// 桥只保留推进到 REPAID 所需的字段。
type Loan struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanID          string          `gorm:"column:loan_id;type:varchar(128);uniqueIndex;not null" json:"loan_id"`
	BorrowerAddress string          `gorm:"column:borrower_address;type:varchar(42);index;not null" json:"borrower_address"`
	Principal       decimal.Decimal `gorm:"column:principal;type:decimal(36,18);not null" json:"principal"`
	Currency        string          `gorm:"column:currency;type:varchar(16);not null" json:"currency"`
	Status          LoanStatus      `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	RepaidAt        int64           `gorm:"column:repaid_at;type:bigint" json:"repaid_at"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Loan) TableName() string {
	return "bridge_loans"
}

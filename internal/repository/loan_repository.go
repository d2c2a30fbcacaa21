package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/solvena/solvena-bridge/internal/model"
)

var (
	ErrLoanNotFound = errors.New("loan not found")
)

// LoanRepository 贷款结算投影仓储接口
type LoanRepository interface {
	Create(ctx context.Context, loan *model.Loan) error
	GetByLoanID(ctx context.Context, loanID string) (*model.Loan, error)
	UpdateStatus(ctx context.Context, loanID string, status model.LoanStatus) error
	ListByBorrower(ctx context.Context, borrowerAddress string, page *Pagination) ([]*model.Loan, error)
}

// loanRepository 贷款仓储实现
type loanRepository struct {
	*Repository
}

// NewLoanRepository 创建贷款仓储
func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{
		Repository: NewRepository(db),
	}
}

func (r *loanRepository) Create(ctx context.Context, loan *model.Loan) error {
	now := time.Now().UnixMilli()
	loan.CreatedAt = now
	loan.UpdatedAt = now
	return r.DB(ctx).Create(loan).Error
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*model.Loan, error) {
	var loan model.Loan
	err := r.DB(ctx).Where("loan_id = ?", loanID).First(&loan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) UpdateStatus(ctx context.Context, loanID string, status model.LoanStatus) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == model.LoanStatusRepaid {
		updates["repaid_at"] = now
	}

	result := r.DB(ctx).Model(&model.Loan{}).
		Where("loan_id = ?", loanID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (r *loanRepository) ListByBorrower(ctx context.Context, borrowerAddress string, page *Pagination) ([]*model.Loan, error) {
	var loans []*model.Loan

	query := r.DB(ctx).Model(&model.Loan{}).
		Where("borrower_address = ?", borrowerAddress)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&loans).Error
	return loans, err
}

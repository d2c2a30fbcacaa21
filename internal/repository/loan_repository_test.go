package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvena/solvena-bridge/internal/model"
)

func newTestLoan(loanID string) *model.Loan {
	return &model.Loan{
		LoanID:          loanID,
		BorrowerAddress: "0x2222222222222222222222222222222222222222",
		Principal:       decimal.NewFromInt(50000),
		Currency:        "USD",
		Status:          model.LoanStatusActive,
	}
}

func TestLoanRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestLoan("loan-001")))

	got, err := repo.GetByLoanID(ctx, "loan-001")
	require.NoError(t, err)
	assert.Equal(t, "loan-001", got.LoanID)
	assert.Equal(t, model.LoanStatusActive, got.Status)
	assert.Zero(t, got.RepaidAt)
}

func TestLoanRepository_GetByLoanID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLoanRepository(db)

	_, err := repo.GetByLoanID(context.Background(), "no-such-loan")
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestLoanRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestLoan("loan-002")))

	err := repo.UpdateStatus(ctx, "loan-002", model.LoanStatusRepaid)
	require.NoError(t, err)

	got, err := repo.GetByLoanID(ctx, "loan-002")
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, got.Status)
	assert.NotZero(t, got.RepaidAt)

	t.Run("missing loan", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "loan-missing", model.LoanStatusRepaid)
		assert.ErrorIs(t, err, ErrLoanNotFound)
	})
}

func TestLoanRepository_ListByBorrower(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLoanRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestLoan("loan-a")))
	require.NoError(t, repo.Create(ctx, newTestLoan("loan-b")))

	other := newTestLoan("loan-c")
	other.BorrowerAddress = "0x3333333333333333333333333333333333333333"
	require.NoError(t, repo.Create(ctx, other))

	page := &Pagination{Page: 1, PageSize: 10}
	loans, err := repo.ListByBorrower(ctx, "0x2222222222222222222222222222222222222222", page)
	require.NoError(t, err)
	assert.Len(t, loans, 2)
	assert.Equal(t, int64(2), page.Total)
}

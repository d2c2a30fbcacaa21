package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvena/solvena-bridge/internal/blockchain"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/repository"
	"github.com/solvena/solvena-bridge/pkg/lock"
)

// stubLoanPool 按调用顺序返回预设的激活态
type stubLoanPool struct {
	addr       common.Address
	activeSeq  []bool
	activeErr  error
	activeIdx  int
	lastAmount *big.Int
}

func (p *stubLoanPool) Address() common.Address {
	return p.addr
}

func (p *stubLoanPool) IsActive(_ context.Context, _ [32]byte) (bool, error) {
	if p.activeErr != nil {
		return false, p.activeErr
	}
	if p.activeIdx >= len(p.activeSeq) {
		return false, nil
	}
	active := p.activeSeq[p.activeIdx]
	p.activeIdx++
	return active, nil
}

func (p *stubLoanPool) PackRepay(_ [32]byte, amount *big.Int) ([]byte, error) {
	p.lastAmount = amount
	return []byte("repay-calldata"), nil
}

// passLocker 直接执行，不加锁
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// deniedLocker 永远拿不到锁
type deniedLocker struct{}

func (deniedLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return lock.ErrLockAcquireFailed
}

type repaymentFixture struct {
	svc      *RepaymentService
	payments repository.PaymentRepository
	loans    repository.LoanRepository
	pool     *stubLoanPool
	executor *stubExecutor
}

func newRepaymentFixture(t *testing.T, locker lockManager) *repaymentFixture {
	t.Helper()
	db := setupServiceDB(t)
	payments := repository.NewPaymentRepository(db)
	loans := repository.NewLoanRepository(db)
	pool := &stubLoanPool{addr: common.HexToAddress("0x00000000000000000000000000000000000000bb")}
	executor := &stubExecutor{}

	svc := NewRepaymentService(payments, loans, pool, executor, locker, RepaymentServiceConfig{
		TokenDecimals:  6,
		SweepBatchSize: 100,
	})
	return &repaymentFixture{
		svc:      svc,
		payments: payments,
		loans:    loans,
		pool:     pool,
		executor: executor,
	}
}

func seedPaidPayment(t *testing.T, f *repaymentFixture, externalID, loanID, amount string) *model.PaymentRecord {
	t.Helper()
	record := &model.PaymentRecord{
		ExternalPaymentID: externalID,
		LoanApplicationID: loanID,
		BorrowerAddress:   "0x1234567890123456789012345678901234567890",
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USDC",
		Status:            model.PaymentStatusPaid,
		PaidAt:            time.Now().UnixMilli(),
	}
	require.NoError(t, f.payments.Create(context.Background(), record))
	return record
}

func seedActiveLoan(t *testing.T, f *repaymentFixture, loanID string) {
	t.Helper()
	require.NoError(t, f.loans.Create(context.Background(), &model.Loan{
		LoanID:          loanID,
		BorrowerAddress: "0x1234567890123456789012345678901234567890",
		Principal:       decimal.RequireFromString("10000"),
		Currency:        "USDC",
		Status:          model.LoanStatusActive,
	}))
}

func TestRepaymentService_ReconcileRecordsOnChain(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	record := seedPaidPayment(t, f, "pay-101", "loan-app-101", "12.5")
	seedActiveLoan(t, f, "loan-app-101")
	// 广播前激活，记账后翻转为非激活
	f.pool.activeSeq = []bool{true, false}
	f.executor.result = &blockchain.TxResult{TxHash: "0xbeef", Succeeded: true}

	var repaid *model.LoanRepaidEvent
	f.svc.SetOnLoanRepaid(func(_ context.Context, event *model.LoanRepaidEvent) error {
		repaid = event
		return nil
	})

	require.NoError(t, f.svc.Reconcile(ctx, record))

	// 金额按代币精度换算: 12.5 USDC → 12500000
	require.NotNil(t, f.pool.lastAmount)
	assert.Equal(t, "12500000", f.pool.lastAmount.String())
	assert.Equal(t, f.pool.addr, f.executor.lastTo)

	updated, err := f.payments.GetByExternalID(ctx, "pay-101")
	require.NoError(t, err)
	assert.True(t, updated.OnChainRecorded)
	assert.Equal(t, "0xbeef", updated.OnChainTxHash)
	assert.Empty(t, updated.FailureReason)

	loan, err := f.loans.GetByLoanID(ctx, "loan-app-101")
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, loan.Status)
	assert.NotZero(t, loan.RepaidAt)

	require.NotNil(t, repaid)
	assert.Equal(t, "loan-app-101", repaid.LoanID)
	assert.Equal(t, "0xbeef", repaid.TxHash)
}

func TestRepaymentService_PartialRepaymentKeepsLoanActive(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	record := seedPaidPayment(t, f, "pay-102", "loan-app-102", "100")
	seedActiveLoan(t, f, "loan-app-102")
	// 记账后贷款仍激活 (部分还款)
	f.pool.activeSeq = []bool{true, true}

	callbackFired := false
	f.svc.SetOnLoanRepaid(func(context.Context, *model.LoanRepaidEvent) error {
		callbackFired = true
		return nil
	})

	require.NoError(t, f.svc.Reconcile(ctx, record))

	loan, err := f.loans.GetByLoanID(ctx, "loan-app-102")
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusActive, loan.Status)
	assert.False(t, callbackFired)
}

func TestRepaymentService_LoanNotActiveAborts(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	record := seedPaidPayment(t, f, "pay-103", "loan-app-103", "50")
	f.pool.activeSeq = []bool{false}

	err := f.svc.Reconcile(ctx, record)
	assert.ErrorIs(t, err, ErrLoanNotActive)
	assert.Zero(t, f.executor.calls)

	updated, err := f.payments.GetByExternalID(ctx, "pay-103")
	require.NoError(t, err)
	assert.False(t, updated.OnChainRecorded)
	assert.Contains(t, updated.FailureReason, "not active")
}

func TestRepaymentService_ChainFailureKeepsDivergenceVisible(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	record := seedPaidPayment(t, f, "pay-104", "loan-app-104", "75")
	f.pool.activeSeq = []bool{true}
	f.executor.err = blockchain.ErrReceiptTimeout

	err := f.svc.Reconcile(ctx, record)
	require.Error(t, err)

	// PAID + 未上账的偏差保留，等重试扫描
	updated, err := f.payments.GetByExternalID(ctx, "pay-104")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, updated.Status)
	assert.False(t, updated.OnChainRecorded)
	assert.NotEmpty(t, updated.FailureReason)
}

func TestRepaymentService_NotPaidRejected(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})

	err := f.svc.Reconcile(context.Background(), &model.PaymentRecord{
		ExternalPaymentID: "pay-105",
		LoanApplicationID: "loan-app-105",
		Status:            model.PaymentStatusConfirmed,
	})
	assert.ErrorIs(t, err, ErrPaymentNotPaid)
	assert.Zero(t, f.executor.calls)
}

func TestRepaymentService_AlreadyRecordedNoop(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})

	err := f.svc.Reconcile(context.Background(), &model.PaymentRecord{
		ExternalPaymentID: "pay-106",
		LoanApplicationID: "loan-app-106",
		Status:            model.PaymentStatusPaid,
		OnChainRecorded:   true,
		OnChainTxHash:     "0xdead",
	})
	require.NoError(t, err)
	assert.Zero(t, f.executor.calls)
}

func TestRepaymentService_StaleSnapshotNotResubmitted(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	record := seedPaidPayment(t, f, "pay-112", "loan-app-112", "40")
	// 部分还款: 记账后贷款仍激活，链上复查救不了重复提交
	f.pool.activeSeq = []bool{true, true, true, true}
	f.executor.result = &blockchain.TxResult{TxHash: "0xfeed", Succeeded: true}

	require.NoError(t, f.svc.Reconcile(ctx, record))
	assert.Equal(t, 1, f.executor.calls)

	// 重试扫描/人工重试拿到的是记账前的旧快照;
	// 锁内重读必须拦下第二次提交
	stale := *record
	stale.OnChainRecorded = false
	require.NoError(t, f.svc.Reconcile(ctx, &stale))
	assert.Equal(t, 1, f.executor.calls)

	updated, err := f.payments.GetByExternalID(ctx, "pay-112")
	require.NoError(t, err)
	assert.True(t, updated.OnChainRecorded)
	assert.Equal(t, "0xfeed", updated.OnChainTxHash)
}

func TestRepaymentService_LockContention(t *testing.T) {
	f := newRepaymentFixture(t, deniedLocker{})
	record := seedPaidPayment(t, f, "pay-107", "loan-app-107", "10")

	err := f.svc.Reconcile(context.Background(), record)
	assert.ErrorIs(t, err, lock.ErrLockAcquireFailed)
	assert.Zero(t, f.executor.calls)
}

func TestRepaymentService_RetrySweep(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	seedPaidPayment(t, f, "pay-108", "loan-app-108", "20")
	seedPaidPayment(t, f, "pay-109", "loan-app-109", "30")
	// 每笔对账: 前置激活检查 + 记账后复查
	f.pool.activeSeq = []bool{true, false, true, false}
	f.executor.result = &blockchain.TxResult{TxHash: "0xaaaa", Succeeded: true}

	require.NoError(t, f.svc.RetrySweep(ctx))
	assert.Equal(t, 2, f.executor.calls)

	count, err := f.payments.CountUnrecordedPaid(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepaymentService_RetrySweepIsolatesFailures(t *testing.T) {
	f := newRepaymentFixture(t, passLocker{})
	ctx := context.Background()

	seedPaidPayment(t, f, "pay-110", "loan-app-110", "20")
	seedPaidPayment(t, f, "pay-111", "loan-app-111", "30")
	f.pool.activeSeq = []bool{true, true, false}
	f.executor.err = blockchain.ErrSimulationReverted

	// 第一笔失败后继续处理第二笔; 执行器持续失败时两笔都留在偏差中
	require.NoError(t, f.svc.RetrySweep(ctx))
	assert.Equal(t, 2, f.executor.calls)

	count, err := f.payments.CountUnrecordedPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

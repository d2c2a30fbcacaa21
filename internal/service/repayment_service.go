package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solvena/solvena-bridge/internal/contract"
	"github.com/solvena/solvena-bridge/internal/metrics"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/repository"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

var (
	// ErrLoanNotActive 目标贷款在链上已非激活，无法记账
	ErrLoanNotActive = errors.New("loan is not active on chain")
	// ErrPaymentNotPaid 仅 PAID 状态的支付可以上链记账
	ErrPaymentNotPaid = errors.New("payment is not in PAID status")
)

// loanPool 对账路径依赖的合约操作 (由 contract.LoanPoolContract 实现)
type loanPool interface {
	Address() common.Address
	IsActive(ctx context.Context, loanID [32]byte) (bool, error)
	PackRepay(loanID [32]byte, amount *big.Int) ([]byte, error)
}

// lockManager 按键互斥 (由 lock.RedisLocker 实现)
type lockManager interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RepaymentServiceConfig 对账服务配置
type RepaymentServiceConfig struct {
	// TokenDecimals 链上结算代币精度，金额按 10^decimals 换算
	TokenDecimals int32
	// SweepBatchSize 每次重试扫描处理的支付上限
	SweepBatchSize int
}

// RepaymentService 还款对账服务。
// 把已结清的支付投递到链上 repay，并在贷款翻转为非激活时
// 同步本地投影。同一贷款的对账通过分布式锁串行化。
type RepaymentService struct {
	payments repository.PaymentRepository
	loans    repository.LoanRepository
	pool     loanPool
	executor TxExecutor
	locker   lockManager
	cfg      RepaymentServiceConfig

	// onLoanRepaid 贷款结清后的回调 (发 Kafka 等)，失败只记日志
	onLoanRepaid func(ctx context.Context, event *model.LoanRepaidEvent) error
}

// NewRepaymentService 创建还款对账服务
func NewRepaymentService(
	payments repository.PaymentRepository,
	loans repository.LoanRepository,
	pool loanPool,
	executor TxExecutor,
	locker lockManager,
	cfg RepaymentServiceConfig,
) *RepaymentService {
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 100
	}
	return &RepaymentService{
		payments: payments,
		loans:    loans,
		pool:     pool,
		executor: executor,
		locker:   locker,
		cfg:      cfg,
	}
}

// SetOnLoanRepaid 设置贷款结清回调
func (s *RepaymentService) SetOnLoanRepaid(fn func(ctx context.Context, event *model.LoanRepaidEvent) error) {
	s.onLoanRepaid = fn
}

// Reconcile 把一笔已结清支付记账到链上。
// 失败时支付保持 PAID + 未上账，失败原因写回记录，等待重试扫描;
// 成功后标记已上账，并在贷款翻转为非激活时同步本地状态。
func (s *RepaymentService) Reconcile(ctx context.Context, payment *model.PaymentRecord) error {
	if payment.Status != model.PaymentStatusPaid {
		return fmt.Errorf("%w: %s is %s", ErrPaymentNotPaid,
			payment.ExternalPaymentID, payment.Status)
	}
	if payment.OnChainRecorded {
		return nil
	}

	return s.locker.WithLock(ctx, "repay:"+payment.LoanApplicationID, func(ctx context.Context) error {
		return s.reconcileLocked(ctx, payment)
	})
}

func (s *RepaymentService) reconcileLocked(ctx context.Context, snapshot *model.PaymentRecord) error {
	// 持锁后重读记录: 调用方的快照可能在排队等锁期间
	// 已被其他路径 (回调内联 / 重试扫描 / 人工重试) 记账
	payment, err := s.payments.GetByExternalID(ctx, snapshot.ExternalPaymentID)
	if err != nil {
		return fmt.Errorf("reload payment: %w", err)
	}
	if payment.OnChainRecorded {
		return nil
	}
	if payment.Status != model.PaymentStatusPaid {
		return fmt.Errorf("%w: %s is %s", ErrPaymentNotPaid,
			payment.ExternalPaymentID, payment.Status)
	}

	loanID32, err := contract.LoanIDToBytes32(payment.LoanApplicationID)
	if err != nil {
		s.recordFailure(ctx, payment.ExternalPaymentID, err)
		return err
	}

	// 广播前确认贷款仍激活，避免给已结清贷款白烧 gas
	active, err := s.pool.IsActive(ctx, loanID32)
	if err != nil {
		s.recordFailure(ctx, payment.ExternalPaymentID, err)
		return fmt.Errorf("check loan active: %w", err)
	}
	if !active {
		s.recordFailure(ctx, payment.ExternalPaymentID, ErrLoanNotActive)
		return fmt.Errorf("%w: %s", ErrLoanNotActive, payment.LoanApplicationID)
	}

	amountUnits := payment.Amount.Shift(s.cfg.TokenDecimals).BigInt()
	calldata, err := s.pool.PackRepay(loanID32, amountUnits)
	if err != nil {
		return fmt.Errorf("pack repay: %w", err)
	}

	start := time.Now()
	result, err := s.executor.Execute(ctx, s.pool.Address(), calldata)
	if err != nil {
		metrics.RecordChainTx("repay", chainTxStatus(err), time.Since(start).Seconds())
		s.recordFailure(ctx, payment.ExternalPaymentID, err)
		return fmt.Errorf("execute repay: %w", err)
	}
	metrics.RecordChainTx("repay", "success", time.Since(start).Seconds())
	observeGasPrice(result)

	if err := s.payments.MarkOnChainRecorded(ctx, payment.ExternalPaymentID, result.TxHash); err != nil {
		return fmt.Errorf("mark on-chain recorded: %w", err)
	}

	logger.Info("repayment recorded on chain",
		zap.String("external_payment_id", payment.ExternalPaymentID),
		zap.String("loan_id", payment.LoanApplicationID),
		zap.String("amount_units", amountUnits.String()),
		zap.String("tx_hash", result.TxHash))

	s.syncLoanStatus(ctx, payment, loanID32, result.TxHash)
	return nil
}

// recordFailure 把失败原因写回支付记录，供排障与重试观测。
// 写回失败只告警，不覆盖原始错误。
func (s *RepaymentService) recordFailure(ctx context.Context, externalID string, cause error) {
	if err := s.payments.SetFailureReason(ctx, externalID, cause.Error()); err != nil {
		logger.Warn("failed to record reconcile failure reason",
			zap.String("external_payment_id", externalID), zap.Error(err))
	}
}

// syncLoanStatus 记账后复查贷款激活态，翻转为非激活时
// 同步本地投影并发出结清事件。复查失败不回滚记账结果。
func (s *RepaymentService) syncLoanStatus(ctx context.Context, payment *model.PaymentRecord, loanID32 [32]byte, txHash string) {
	active, err := s.pool.IsActive(ctx, loanID32)
	if err != nil {
		logger.Warn("failed to re-check loan active state after repay",
			zap.String("loan_id", payment.LoanApplicationID), zap.Error(err))
		return
	}
	if active {
		return
	}

	if err := s.loans.UpdateStatus(ctx, payment.LoanApplicationID, model.LoanStatusRepaid); err != nil {
		// 本地可能没有该贷款的投影，链上状态才是权威
		if !errors.Is(err, repository.ErrLoanNotFound) {
			logger.Warn("failed to mark loan repaid locally",
				zap.String("loan_id", payment.LoanApplicationID), zap.Error(err))
		}
	}

	logger.Info("loan fully repaid",
		zap.String("loan_id", payment.LoanApplicationID),
		zap.String("tx_hash", txHash))

	if s.onLoanRepaid != nil {
		event := &model.LoanRepaidEvent{
			LoanID:            payment.LoanApplicationID,
			BorrowerAddress:   payment.BorrowerAddress,
			ExternalPaymentID: payment.ExternalPaymentID,
			TxHash:            txHash,
			RepaidAt:          time.Now().UnixMilli(),
		}
		if err := s.onLoanRepaid(ctx, event); err != nil {
			logger.Warn("loan repaid callback failed",
				zap.String("loan_id", payment.LoanApplicationID), zap.Error(err))
		}
	}
}

// RetrySweep 扫描已结清未上账的支付并重试记账。
// 单笔失败不中断扫描，剩余数量更新到监控指标。
func (s *RepaymentService) RetrySweep(ctx context.Context) error {
	metrics.RetrySweepsTotal.Inc()

	records, err := s.payments.ListUnrecordedPaid(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("list unrecorded paid payments: %w", err)
	}

	for _, record := range records {
		if err := s.Reconcile(ctx, record); err != nil {
			logger.Warn("retry reconcile failed",
				zap.String("external_payment_id", record.ExternalPaymentID),
				zap.String("loan_application_id", record.LoanApplicationID),
				zap.Error(err))
		}
	}

	count, err := s.payments.CountUnrecordedPaid(ctx)
	if err != nil {
		return fmt.Errorf("count unrecorded paid payments: %w", err)
	}
	metrics.UpdateUnrecordedPayments(count)

	if len(records) > 0 {
		logger.Info("retry sweep finished",
			zap.Int("attempted", len(records)),
			zap.Int64("remaining_unrecorded", count))
	}
	return nil
}

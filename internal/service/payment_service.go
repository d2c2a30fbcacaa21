package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solvena/solvena-bridge/internal/ledger"
	"github.com/solvena/solvena-bridge/internal/metrics"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/repository"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

var (
	// ErrUnknownEventType 无法识别的回调事件类型
	ErrUnknownEventType = errors.New("unknown webhook event type")
	// ErrMissingPaymentID 回调缺少外部支付 ID
	ErrMissingPaymentID = errors.New("webhook event missing external_payment_id")
)

// Reconciler 还款对账接口 (由 RepaymentService 实现)
type Reconciler interface {
	Reconcile(ctx context.Context, payment *model.PaymentRecord) error
}

// ProcessResult 回调处理结果
type ProcessResult struct {
	// Duplicate 为 true 表示该事件此前已处理，本次为重放
	Duplicate bool
}

// PaymentService 支付回调处理服务。
// 落库与幂等标记是回调响应的前提; 链上对账和 Kafka 通知
// 都是落库之后的尽力而为动作，失败不影响对支付方的确认。
type PaymentService struct {
	payments   repository.PaymentRepository
	ledger     ledger.Ledger
	reconciler Reconciler

	// onPaymentFailed 支付失败后的通知回调，尽力而为
	onPaymentFailed func(ctx context.Context, notice *model.PaymentFailureNotice) error
}

// NewPaymentService 创建支付回调处理服务。
// idempotency 必须是持久化账本: 确认响应发出后不能因重启而失忆。
func NewPaymentService(
	payments repository.PaymentRepository,
	idempotency ledger.Ledger,
	reconciler Reconciler,
) *PaymentService {
	return &PaymentService{
		payments:   payments,
		ledger:     idempotency,
		reconciler: reconciler,
	}
}

// SetOnPaymentFailed 设置支付失败通知回调
func (s *PaymentService) SetOnPaymentFailed(fn func(ctx context.Context, notice *model.PaymentFailureNotice) error) {
	s.onPaymentFailed = fn
}

// statusForEvent 事件类型到支付状态的映射
func statusForEvent(eventType string) (model.PaymentStatus, error) {
	switch eventType {
	case model.WebhookEventPaymentConfirmed:
		return model.PaymentStatusConfirmed, nil
	case model.WebhookEventPaymentPaid:
		return model.PaymentStatusPaid, nil
	case model.WebhookEventPaymentFailed:
		return model.PaymentStatusFailed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// Process 处理一条已通过签名验证的支付回调事件。
// 返回错误表示事件未被持久记录，支付方应重试投递;
// 返回 Duplicate 表示重放，调用方照常确认。
func (s *PaymentService) Process(ctx context.Context, event *model.PaymentWebhookEvent) (*ProcessResult, error) {
	if event.ExternalPaymentID == "" {
		return nil, ErrMissingPaymentID
	}

	status, err := statusForEvent(event.Type)
	if err != nil {
		return nil, err
	}

	key := ledger.WebhookKey(event.Type, event.ExternalPaymentID, status.String())
	processed, err := s.ledger.HasProcessed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check idempotency: %w", err)
	}
	if processed {
		metrics.RecordWebhook(event.Type, "duplicate")
		return &ProcessResult{Duplicate: true}, nil
	}

	now := time.Now().UnixMilli()
	record := &model.PaymentRecord{
		ExternalPaymentID: event.ExternalPaymentID,
		LoanApplicationID: event.LoanApplicationID,
		BorrowerAddress:   event.BorrowerAddress,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            status,
	}
	switch status {
	case model.PaymentStatusConfirmed:
		record.ConfirmedAt = now
	case model.PaymentStatusPaid:
		record.PaidAt = now
	case model.PaymentStatusFailed:
		record.FailedAt = now
		record.FailureReason = event.ErrorCode
	}

	if err := s.payments.Upsert(ctx, record); err != nil {
		metrics.RecordWebhook(event.Type, "error")
		return nil, fmt.Errorf("upsert payment record: %w", err)
	}

	if err := s.ledger.MarkProcessed(ctx, key); err != nil {
		metrics.RecordWebhook(event.Type, "error")
		return nil, fmt.Errorf("mark idempotency: %w", err)
	}
	metrics.RecordWebhook(event.Type, "processed")

	// 落库之后的动作都是尽力而为，失败不影响确认响应
	switch status {
	case model.PaymentStatusPaid:
		s.tryReconcile(ctx, event.ExternalPaymentID)
	case model.PaymentStatusFailed:
		s.notifyFailure(ctx, event)
	}

	return &ProcessResult{}, nil
}

// tryReconcile 支付结清后立即尝试上链记账。
// 失败的支付保持 PAID + 未上账，由重试任务兜底。
func (s *PaymentService) tryReconcile(ctx context.Context, externalID string) {
	if s.reconciler == nil {
		return
	}

	record, err := s.payments.GetByExternalID(ctx, externalID)
	if err != nil {
		logger.Error("failed to load payment for reconcile",
			zap.String("external_payment_id", externalID), zap.Error(err))
		return
	}

	if err := s.reconciler.Reconcile(ctx, record); err != nil {
		logger.Warn("inline reconcile failed, left for retry sweep",
			zap.String("external_payment_id", externalID),
			zap.String("loan_application_id", record.LoanApplicationID),
			zap.Error(err))
	}
}

// notifyFailure 发送支付失败通知
func (s *PaymentService) notifyFailure(ctx context.Context, event *model.PaymentWebhookEvent) {
	if s.onPaymentFailed == nil {
		return
	}

	notice := &model.PaymentFailureNotice{
		ExternalPaymentID: event.ExternalPaymentID,
		LoanApplicationID: event.LoanApplicationID,
		BorrowerAddress:   event.BorrowerAddress,
		Amount:            event.Amount.String(),
		Currency:          event.Currency,
		FailureReason:     event.ErrorCode,
		FailedAt:          time.Now().UnixMilli(),
	}
	if err := s.onPaymentFailed(ctx, notice); err != nil {
		logger.Warn("payment failure notice callback failed",
			zap.String("external_payment_id", event.ExternalPaymentID),
			zap.Error(err))
	}
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/solvena/solvena-bridge/internal/model"
)

var (
	ErrPaymentNotFound = errors.New("payment record not found")
)

// PaymentRepository 支付记录仓储接口
type PaymentRepository interface {
	Create(ctx context.Context, record *model.PaymentRecord) error
	GetByExternalID(ctx context.Context, externalID string) (*model.PaymentRecord, error)
	Upsert(ctx context.Context, record *model.PaymentRecord) error
	UpdateStatus(ctx context.Context, externalID string, status model.PaymentStatus, failureReason string) error
	MarkOnChainRecorded(ctx context.Context, externalID string, txHash string) error
	SetFailureReason(ctx context.Context, externalID string, reason string) error

	// 查询
	ListUnrecordedPaid(ctx context.Context, limit int) ([]*model.PaymentRecord, error)
	ListByLoanApplication(ctx context.Context, loanApplicationID string, page *Pagination) ([]*model.PaymentRecord, error)
	CountUnrecordedPaid(ctx context.Context) (int64, error)
}

// paymentRepository 支付记录仓储实现
type paymentRepository struct {
	*Repository
}

// NewPaymentRepository 创建支付记录仓储
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{
		Repository: NewRepository(db),
	}
}

func (r *paymentRepository) Create(ctx context.Context, record *model.PaymentRecord) error {
	now := time.Now().UnixMilli()
	record.CreatedAt = now
	record.UpdatedAt = now
	return r.DB(ctx).Create(record).Error
}

func (r *paymentRepository) GetByExternalID(ctx context.Context, externalID string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.DB(ctx).Where("external_payment_id = ?", externalID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert 按外部支付 ID 插入或推进支付记录。
// 已存在时只允许状态单向前移，逆向更新直接忽略。
func (r *paymentRepository) Upsert(ctx context.Context, record *model.PaymentRecord) error {
	return r.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := r.GetByExternalID(txCtx, record.ExternalPaymentID)
		if errors.Is(err, ErrPaymentNotFound) {
			return r.Create(txCtx, record)
		}
		if err != nil {
			return err
		}

		if !existing.Status.CanTransitionTo(record.Status) {
			return nil
		}

		now := time.Now().UnixMilli()
		updates := map[string]interface{}{
			"status":     record.Status,
			"updated_at": now,
		}
		switch record.Status {
		case model.PaymentStatusPaid:
			updates["paid_at"] = now
			// 结清事件携带最终结算金额，可能与确认时不同
			updates["amount"] = record.Amount
			updates["currency"] = record.Currency
		case model.PaymentStatusFailed:
			updates["failed_at"] = now
			updates["failure_reason"] = record.FailureReason
		}
		return r.DB(txCtx).Model(&model.PaymentRecord{}).
			Where("external_payment_id = ?", record.ExternalPaymentID).
			Updates(updates).Error
	})
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, externalID string, status model.PaymentStatus, failureReason string) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case model.PaymentStatusConfirmed:
		updates["confirmed_at"] = now
	case model.PaymentStatusPaid:
		updates["paid_at"] = now
	case model.PaymentStatusFailed:
		updates["failed_at"] = now
		updates["failure_reason"] = failureReason
	}

	result := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("external_payment_id = ?", externalID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) MarkOnChainRecorded(ctx context.Context, externalID string, txHash string) error {
	result := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("external_payment_id = ?", externalID).
		Updates(map[string]interface{}{
			"on_chain_recorded": true,
			"on_chain_tx_hash":  txHash,
			"failure_reason":    "",
			"updated_at":        time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) SetFailureReason(ctx context.Context, externalID string, reason string) error {
	result := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("external_payment_id = ?", externalID).
		Updates(map[string]interface{}{
			"failure_reason": reason,
			"updated_at":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListUnrecordedPaid 列出已结清但尚未上账的支付 (供重试任务扫描)
func (r *paymentRepository) ListUnrecordedPaid(ctx context.Context, limit int) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.DB(ctx).
		Where("status = ? AND on_chain_recorded = ?", model.PaymentStatusPaid, false).
		Order("paid_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *paymentRepository) ListByLoanApplication(ctx context.Context, loanApplicationID string, page *Pagination) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord

	query := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("loan_application_id = ?", loanApplicationID)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&records).Error
	return records, err
}

func (r *paymentRepository) CountUnrecordedPaid(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("status = ? AND on_chain_recorded = ?", model.PaymentStatusPaid, false).
		Count(&count).Error
	return count, err
}

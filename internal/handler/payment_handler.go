package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/solvena/solvena-bridge/internal/contract"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/repository"
	"github.com/solvena/solvena-bridge/internal/service"
)

// settlementReader 链上结算视图读取 (由 contract.LoanPoolContract 实现)
type settlementReader interface {
	SettlementView(ctx context.Context, loanID [32]byte) (*model.LoanSettlementView, error)
}

// PaymentHandler 支付与贷款查询处理器
type PaymentHandler struct {
	payments   repository.PaymentRepository
	loans      repository.LoanRepository
	pool       settlementReader
	reconciler service.Reconciler
}

// NewPaymentHandler 创建查询处理器
func NewPaymentHandler(
	payments repository.PaymentRepository,
	loans repository.LoanRepository,
	pool settlementReader,
	reconciler service.Reconciler,
) *PaymentHandler {
	return &PaymentHandler{
		payments:   payments,
		loans:      loans,
		pool:       pool,
		reconciler: reconciler,
	}
}

// PaymentResponse 支付记录响应
type PaymentResponse struct {
	ExternalPaymentID string `json:"external_payment_id"`
	LoanApplicationID string `json:"loan_application_id"`
	BorrowerAddress   string `json:"borrower_address"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	OnChainRecorded   bool   `json:"on_chain_recorded"`
	OnChainTxHash     string `json:"on_chain_tx_hash"`
	FailureReason     string `json:"failure_reason"`
	ConfirmedAt       int64  `json:"confirmed_at"`
	PaidAt            int64  `json:"paid_at"`
	FailedAt          int64  `json:"failed_at"`
	CreatedAt         int64  `json:"created_at"`
}

func toPaymentResponse(record *model.PaymentRecord) *PaymentResponse {
	return &PaymentResponse{
		ExternalPaymentID: record.ExternalPaymentID,
		LoanApplicationID: record.LoanApplicationID,
		BorrowerAddress:   record.BorrowerAddress,
		Amount:            record.Amount.String(),
		Currency:          record.Currency,
		Status:            record.Status.String(),
		OnChainRecorded:   record.OnChainRecorded,
		OnChainTxHash:     record.OnChainTxHash,
		FailureReason:     record.FailureReason,
		ConfirmedAt:       record.ConfirmedAt,
		PaidAt:            record.PaidAt,
		FailedAt:          record.FailedAt,
		CreatedAt:         record.CreatedAt,
	}
}

// GetPayment 查询支付记录
// GET /v1/payments/:external_id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	externalID := c.Param("external_id")

	record, err := h.payments.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			NotFound(c, "payment not found")
			return
		}
		InternalError(c, "failed to load payment")
		return
	}

	Success(c, toPaymentResponse(record))
}

// ListLoanPayments 查询贷款的支付记录
// GET /v1/loans/:loan_id/payments
func (h *PaymentHandler) ListLoanPayments(c *gin.Context) {
	loanID := c.Param("loan_id")

	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil && ps > 0 {
		pageSize = ps
	}

	pagination := &repository.Pagination{Page: page, PageSize: pageSize}
	records, err := h.payments.ListByLoanApplication(c.Request.Context(), loanID, pagination)
	if err != nil {
		InternalError(c, "failed to list payments")
		return
	}

	resp := make([]*PaymentResponse, len(records))
	for i, record := range records {
		resp[i] = toPaymentResponse(record)
	}
	SuccessPaged(c, resp, page, pageSize, pagination.Total)
}

// SettlementResponse 贷款结算视图响应 (链上实时读取)
type SettlementResponse struct {
	LoanID       string `json:"loan_id"`
	Active       bool   `json:"active"`
	Amount       string `json:"amount"`
	RepaidAmount string `json:"repaid_amount"`
	LocalStatus  string `json:"local_status,omitempty"`
}

// GetLoanSettlement 查询贷款的链上结算状态
// GET /v1/loans/:loan_id/settlement
func (h *PaymentHandler) GetLoanSettlement(c *gin.Context) {
	loanID := c.Param("loan_id")

	loanID32, err := contract.LoanIDToBytes32(loanID)
	if err != nil {
		BadRequest(c, "invalid loan id: "+err.Error())
		return
	}

	view, err := h.pool.SettlementView(c.Request.Context(), loanID32)
	if err != nil {
		InternalError(c, "failed to read settlement state")
		return
	}

	resp := &SettlementResponse{
		LoanID:       loanID,
		Active:       view.Active,
		Amount:       view.Amount.String(),
		RepaidAmount: view.RepaidAmount.String(),
	}

	// 本地投影仅供参考，缺失不算错误
	if loan, err := h.loans.GetByLoanID(c.Request.Context(), loanID); err == nil {
		resp.LocalStatus = loan.Status.String()
	}

	Success(c, resp)
}

// RetryPayment 手工触发一笔已结清支付的上链记账
// POST /v1/payments/:external_id/retry
func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	externalID := c.Param("external_id")

	record, err := h.payments.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			NotFound(c, "payment not found")
			return
		}
		InternalError(c, "failed to load payment")
		return
	}

	if record.Status != model.PaymentStatusPaid {
		Conflict(c, "only PAID payments can be reconciled, current status: "+record.Status.String())
		return
	}
	if record.OnChainRecorded {
		Conflict(c, "payment already recorded on chain")
		return
	}

	if err := h.reconciler.Reconcile(c.Request.Context(), record); err != nil {
		InternalError(c, "reconcile failed: "+err.Error())
		return
	}

	updated, err := h.payments.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		InternalError(c, "failed to reload payment")
		return
	}
	Success(c, toPaymentResponse(updated))
}

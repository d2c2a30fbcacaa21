package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoanStatus_String(t *testing.T) {
	tests := []struct {
		status   LoanStatus
		expected string
	}{
		{LoanStatusActive, "ACTIVE"},
		{LoanStatusRepaid, "REPAID"},
		{LoanStatusDefaulted, "DEFAULTED"},
		{LoanStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestLoanStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     LoanStatus
		isTerminal bool
	}{
		{LoanStatusActive, false},
		{LoanStatusRepaid, true},
		{LoanStatusDefaulted, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestLoan_TableName(t *testing.T) {
	loan := Loan{}
	assert.Equal(t, "bridge_loans", loan.TableName())
}

func TestFactKind_String(t *testing.T) {
	assert.Equal(t, "DSCR_VERIFIED", FactKindDscrVerified.String())
	assert.Equal(t, "UNKNOWN", FactKind(42).String())
}

func TestProcessedEvent_TableName(t *testing.T) {
	event := ProcessedEvent{}
	assert.Equal(t, "bridge_processed_events", event.TableName())
}

package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvena/solvena-bridge/internal/model"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	return &Producer{producer: mock}, mock
}

// TestProducerConfig 测试生产者配置
func TestProducerConfig_Defaults(t *testing.T) {
	cfg := &ProducerConfig{
		Brokers:  []string{"localhost:9092"},
		ClientID: "solvena-bridge",
	}

	assert.Len(t, cfg.Brokers, 1)
	assert.Equal(t, "solvena-bridge", cfg.ClientID)
}

func TestProducer_SendPaymentFailureNotice(t *testing.T) {
	p, mock := newMockProducer(t)

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var notice model.PaymentFailureNotice
		return json.Unmarshal(value, &notice)
	})

	err := p.SendPaymentFailureNotice(context.Background(), &model.PaymentFailureNotice{
		ExternalPaymentID: "pay-1",
		LoanApplicationID: "loan-app-1",
		FailureReason:     "card_declined",
		FailedAt:          1700000000000,
	})
	require.NoError(t, err)
}

func TestProducer_SendLoanRepaidEvent(t *testing.T) {
	p, mock := newMockProducer(t)
	mock.ExpectSendMessageAndSucceed()

	err := p.SendLoanRepaidEvent(context.Background(), &model.LoanRepaidEvent{
		LoanID:   "loan-1",
		TxHash:   "0xabc",
		RepaidAt: 1700000000000,
	})
	require.NoError(t, err)
}

func TestProducer_SendFactRelayedEvent(t *testing.T) {
	p, mock := newMockProducer(t)
	mock.ExpectSendMessageAndSucceed()

	err := p.SendFactRelayedEvent(context.Background(), &model.FactRelayedEvent{
		LoanID:          "loan-1",
		DscrValueScaled: 1500,
		RateBps:         750,
		TxHash:          "0xdef",
	})
	require.NoError(t, err)
}

func TestProducer_SendAfterClose(t *testing.T) {
	p, _ := newMockProducer(t)
	require.NoError(t, p.Close())

	err := p.SendLoanRepaidEvent(context.Background(), &model.LoanRepaidEvent{LoanID: "loan-1"})
	assert.Error(t, err)

	// 重复关闭无害
	assert.NoError(t, p.Close())
}

func TestProducer_SendBrokerError(t *testing.T) {
	p, mock := newMockProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	err := p.SendFactRelayedEvent(context.Background(), &model.FactRelayedEvent{LoanID: "loan-1"})
	assert.Error(t, err)
}

// Package kafka 提供 Kafka 生产者功能
//
// ## 生产者 (Producer) - 本服务发送的 Topic
//
// 1. Topic: payment-failed
//    - 消费者: solvena-notify (借款人失败通知)
//    - 消息内容: PaymentFailureNotice
//    - 处理逻辑: 回调处理器收到 payment.failed 后发送，尽力而为
//
// 2. Topic: loan-repaid
//    - 消费者: solvena-origination (贷款状态同步)
//    - 消息内容: LoanRepaidEvent
//    - 处理逻辑: 链上 repay 后贷款翻转为非激活时发送
//
// 3. Topic: fact-relayed
//    - 消费者: solvena-origination (审计/风控回填)
//    - 消息内容: FactRelayedEvent
//    - 处理逻辑: 已验证事实成功上链后发送
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

// Kafka 生产者发送的 Topic
const (
	// TopicPaymentFailed 支付失败通知 Topic
	// Partition Key: external_payment_id
	TopicPaymentFailed = "payment-failed"

	// TopicLoanRepaid 贷款结清 Topic
	// Partition Key: loan_id
	TopicLoanRepaid = "loan-repaid"

	// TopicFactRelayed 事实上链 Topic
	// Partition Key: loan_id
	TopicFactRelayed = "fact-relayed"
)

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
	}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendPaymentFailureNotice 发送支付失败通知
func (p *Producer) SendPaymentFailureNotice(ctx context.Context, notice *model.PaymentFailureNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	return p.send(TopicPaymentFailed, notice.ExternalPaymentID, data)
}

// SendLoanRepaidEvent 发送贷款结清事件
func (p *Producer) SendLoanRepaidEvent(ctx context.Context, event *model.LoanRepaidEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.send(TopicLoanRepaid, event.LoanID, data)
}

// SendFactRelayedEvent 发送事实上链事件
func (p *Producer) SendFactRelayedEvent(ctx context.Context, event *model.FactRelayedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.send(TopicFactRelayed, event.LoanID, data)
}

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishPaymentFailure(ctx context.Context, notice *model.PaymentFailureNotice) error
	PublishLoanRepaid(ctx context.Context, event *model.LoanRepaidEvent) error
	PublishFactRelayed(ctx context.Context, event *model.FactRelayedEvent) error
}

// KafkaEventPublisher Kafka 事件发布器
type KafkaEventPublisher struct {
	producer *Producer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
	}
}

func (p *KafkaEventPublisher) PublishPaymentFailure(ctx context.Context, notice *model.PaymentFailureNotice) error {
	return p.producer.SendPaymentFailureNotice(ctx, notice)
}

func (p *KafkaEventPublisher) PublishLoanRepaid(ctx context.Context, event *model.LoanRepaidEvent) error {
	return p.producer.SendLoanRepaidEvent(ctx, event)
}

func (p *KafkaEventPublisher) PublishFactRelayed(ctx context.Context, event *model.FactRelayedEvent) error {
	return p.producer.SendFactRelayedEvent(ctx, event)
}

// Package metrics 提供 solvena-bridge 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solvena_bridge"

// Relay 指标
var (
	// RelayCyclesTotal relay 轮询周期总数
	RelayCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_cycles_total",
			Help:      "通知轮询周期总数",
		},
	)

	// NoticesTotal 通知处理总数
	NoticesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "通知处理总数",
		},
		[]string{"outcome"}, // relayed, skipped, duplicate, decode_error, relay_error
	)

	// RelayDuration 单条通知上链耗时
	RelayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "单条通知上链耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// Webhook 指标
var (
	// WebhooksTotal 回调处理总数
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "支付回调处理总数",
		},
		[]string{"type", "outcome"}, // outcome: processed, duplicate, unauthorized, error
	)
)

// 区块链交互指标
var (
	// ChainTxTotal 链上交易总数
	ChainTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_tx_total",
			Help:      "链上交易总数",
		},
		[]string{"method", "status"}, // method: handleVerifiedFact/repay, status: success/reverted/aborted/timeout
	)

	// ChainTxDuration 链上交易确认耗时
	ChainTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_tx_duration_seconds",
			Help:      "链上交易确认耗时(秒)",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method"},
	)

	// ChainGasPrice 当前 Gas 价格
	ChainGasPrice = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_gas_price_gwei",
			Help:      "当前 Gas 价格 (Gwei)",
		},
	)
)

// 对账指标
var (
	// UnrecordedPaymentsGauge 已结清未上账的支付数量
	UnrecordedPaymentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unrecorded_paid_payments",
			Help:      "状态为 PAID 但尚未上账的支付数量",
		},
	)

	// RetrySweepsTotal 重试扫描总数
	RetrySweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_sweeps_total",
			Help:      "未上账支付重试扫描总数",
		},
	)
)

// Kafka 指标
var (
	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic"},
	)
)

// Helper functions

// RecordNotice 记录通知处理结果
func RecordNotice(outcome string) {
	NoticesTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhook 记录回调处理结果
func RecordWebhook(eventType, outcome string) {
	WebhooksTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordChainTx 记录链上交易
func RecordChainTx(method, status string, durationSeconds float64) {
	ChainTxTotal.WithLabelValues(method, status).Inc()
	if durationSeconds > 0 {
		ChainTxDuration.WithLabelValues(method).Observe(durationSeconds)
	}
}

// UpdateGasPrice 更新 Gas 价格
func UpdateGasPrice(gasPriceGwei float64) {
	ChainGasPrice.Set(gasPriceGwei)
}

// UpdateUnrecordedPayments 更新未上账支付数量
func UpdateUnrecordedPayments(count int64) {
	UnrecordedPaymentsGauge.Set(float64(count))
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string) {
	KafkaMessagesProduced.WithLabelValues(topic).Inc()
}

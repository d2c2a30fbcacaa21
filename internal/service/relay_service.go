// Package service 实现结算桥的三条业务路径:
// 通知中继 (relay)、支付回调处理 (payment)、还款对账 (repayment)。
package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solvena/solvena-bridge/internal/blockchain"
	"github.com/solvena/solvena-bridge/internal/contract"
	"github.com/solvena/solvena-bridge/internal/ledger"
	"github.com/solvena/solvena-bridge/internal/metrics"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/oracle"
	"github.com/solvena/solvena-bridge/internal/rates"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

var (
	// ErrServiceAlreadyRunning 服务已在运行
	ErrServiceAlreadyRunning = errors.New("service is already running")
	// ErrServiceNotRunning 服务未运行
	ErrServiceNotRunning = errors.New("service is not running")
)

// NoticeFetcher 通知源读取接口
type NoticeFetcher interface {
	FetchLatest(ctx context.Context, limit int) ([]model.OracleNotice, error)
}

// TxExecutor 合约写路径接口 (由 blockchain.TxClient 实现)
type TxExecutor interface {
	Execute(ctx context.Context, to common.Address, calldata []byte) (*blockchain.TxResult, error)
}

// RelayServiceConfig 中继服务配置
type RelayServiceConfig struct {
	// BatchSize 每轮拉取的通知上限
	BatchSize int
	// PollInterval 轮询间隔
	PollInterval time.Duration
	// RelayPause 两笔成功上链之间的暂停，避免连续占满写路径
	RelayPause time.Duration
}

// RelayService 预言机通知中继服务。
// 周期性拉取通知源，解码出已验证事实后投递到链上合约。
// 幂等键在成功上链后才标记，失败的通知留到下一轮重试。
type RelayService struct {
	fetcher  NoticeFetcher
	pool     *contract.LoanPoolContract
	executor TxExecutor
	ledger   ledger.Ledger
	cfg      RelayServiceConfig

	// onFactRelayed 事实成功上链后的回调 (发 Kafka 等)，失败只记日志
	onFactRelayed func(ctx context.Context, event *model.FactRelayedEvent) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRelayService 创建中继服务
func NewRelayService(
	fetcher NoticeFetcher,
	pool *contract.LoanPoolContract,
	executor TxExecutor,
	idempotency ledger.Ledger,
	cfg RelayServiceConfig,
) *RelayService {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RelayPause == 0 {
		cfg.RelayPause = time.Second
	}
	return &RelayService{
		fetcher:  fetcher,
		pool:     pool,
		executor: executor,
		ledger:   idempotency,
		cfg:      cfg,
	}
}

// SetOnFactRelayed 设置事实上链回调
func (s *RelayService) SetOnFactRelayed(fn func(ctx context.Context, event *model.FactRelayedEvent) error) {
	s.onFactRelayed = fn
}

// Start 启动中继循环
func (s *RelayService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServiceAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.runLoop(ctx)

	logger.Info("relay service started",
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Stop 停止中继循环并等待退出
func (s *RelayService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServiceNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("relay service stopped")
	return nil
}

// IsRunning 返回服务是否在运行
func (s *RelayService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RelayService) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// 启动后立即跑一轮，不等首个 tick
	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle 执行一轮通知拉取与中继。
// 通知源不可用按空轮处理，单条通知的失败不影响同批其余通知。
func (s *RelayService) RunCycle(ctx context.Context) {
	metrics.RelayCyclesTotal.Inc()

	notices, err := s.fetcher.FetchLatest(ctx, s.cfg.BatchSize)
	if err != nil {
		logger.Warn("failed to fetch oracle notices", zap.Error(err))
		return
	}

	for _, notice := range notices {
		relayed, err := s.relayNotice(ctx, &notice)
		if err != nil {
			logger.Error("failed to relay notice",
				zap.Uint64("notice_index", notice.Index),
				zap.Error(err))
			continue
		}
		if !relayed {
			continue
		}

		// 成功上链后暂停一拍
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RelayPause):
		}
	}
}

// relayNotice 处理单条通知，返回是否产生了一笔上链交易。
// 上链失败时不标记幂等键，下一轮会重新尝试同一条通知。
func (s *RelayService) relayNotice(ctx context.Context, notice *model.OracleNotice) (bool, error) {
	decoded, err := oracle.DecodeNotice(notice.Payload)
	if err != nil {
		metrics.RecordNotice("decode_error")
		return false, err
	}

	if decoded.Outcome == oracle.OutcomeSkip {
		metrics.RecordNotice("skipped")
		logger.Debug("notice skipped",
			zap.Uint64("notice_index", notice.Index),
			zap.String("reason", decoded.SkipReason))
		return false, nil
	}

	fact := decoded.Fact
	key := ledger.NoticeKey(fact.BorrowerAddress, fact.LoanID, fact.VerificationSeq)

	processed, err := s.ledger.HasProcessed(ctx, key)
	if err != nil {
		return false, err
	}
	if processed {
		metrics.RecordNotice("duplicate")
		return false, nil
	}

	loanID32, err := contract.LoanIDToBytes32(fact.LoanID)
	if err != nil {
		metrics.RecordNotice("decode_error")
		return false, err
	}

	rateBps := rates.RateBpsForDSCR(fact.DscrValueScaled)

	data, err := contract.EncodeFactData(loanID32,
		big.NewInt(fact.DscrValueScaled), big.NewInt(rateBps), fact.ProofHash)
	if err != nil {
		return false, err
	}

	calldata, err := s.pool.PackHandleVerifiedFact(
		contract.FactTypeDscrVerified, common.HexToAddress(fact.BorrowerAddress), data)
	if err != nil {
		return false, err
	}

	start := time.Now()
	result, err := s.executor.Execute(ctx, s.pool.Address(), calldata)
	if err != nil {
		metrics.RecordNotice("relay_error")
		metrics.RecordChainTx("handleVerifiedFact", chainTxStatus(err), time.Since(start).Seconds())
		return false, err
	}
	metrics.RecordChainTx("handleVerifiedFact", "success", time.Since(start).Seconds())
	metrics.RelayDuration.Observe(time.Since(start).Seconds())
	observeGasPrice(result)

	if err := s.ledger.MarkProcessed(ctx, key); err != nil {
		// 交易已上链但标记失败: 下一轮重放会被预执行/合约侧拒绝，只告警
		logger.Warn("fact relayed but idempotency mark failed",
			zap.String("key", key),
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
	}
	metrics.RecordNotice("relayed")

	logger.Info("verified fact relayed",
		zap.String("loan_id", fact.LoanID),
		zap.String("borrower", fact.BorrowerAddress),
		zap.Int64("dscr_scaled", fact.DscrValueScaled),
		zap.Int64("rate_bps", rateBps),
		zap.String("tx_hash", result.TxHash))

	if s.onFactRelayed != nil {
		event := &model.FactRelayedEvent{
			LoanID:          fact.LoanID,
			BorrowerAddress: fact.BorrowerAddress,
			FactKind:        fact.FactKind.String(),
			DscrValueScaled: fact.DscrValueScaled,
			RateBps:         rateBps,
			VerificationSeq: fact.VerificationSeq,
			TxHash:          result.TxHash,
			RelayedAt:       time.Now().UnixMilli(),
		}
		if err := s.onFactRelayed(ctx, event); err != nil {
			logger.Warn("fact relayed callback failed",
				zap.String("loan_id", fact.LoanID), zap.Error(err))
		}
	}

	return true, nil
}

// observeGasPrice 把本次成交的 gas 价格 (Gwei) 更新到监控指标
func observeGasPrice(result *blockchain.TxResult) {
	if result == nil || result.GasPrice == nil {
		return
	}
	gwei, _ := new(big.Float).Quo(
		new(big.Float).SetInt(result.GasPrice), big.NewFloat(1e9)).Float64()
	metrics.UpdateGasPrice(gwei)
}

// chainTxStatus 将写路径错误归类为指标标签
func chainTxStatus(err error) string {
	switch {
	case errors.Is(err, blockchain.ErrGasPriceTooHigh),
		errors.Is(err, blockchain.ErrSimulationReverted):
		return "aborted"
	case errors.Is(err, blockchain.ErrTxReverted):
		return "reverted"
	case errors.Is(err, blockchain.ErrReceiptTimeout):
		return "timeout"
	default:
		return "error"
	}
}

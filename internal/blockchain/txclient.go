package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrGasPriceTooHigh 当前 gas 价格超过配置上限，本次提交放弃
	ErrGasPriceTooHigh = errors.New("gas price exceeds configured ceiling")
	// ErrSimulationReverted 预执行回滚，交易未广播
	ErrSimulationReverted = errors.New("transaction simulation reverted")
	// ErrTxReverted 交易上链但执行失败
	ErrTxReverted = errors.New("transaction reverted on chain")
	// ErrReceiptTimeout 等待回执超时，交易结局未知
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")
)

// Backend 写路径依赖的链操作
type Backend interface {
	Address() common.Address
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// NonceSource nonce 分配
type NonceSource interface {
	AcquireNonce(ctx context.Context) (uint64, error)
	ReleaseNonce(ctx context.Context, nonce uint64) error
	ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error
	OnTxFinalized(nonce uint64)
}

// TxResult 交易终态
type TxResult struct {
	TxHash      string
	BlockNumber int64
	GasUsed     int64
	GasPrice    *big.Int
	Succeeded   bool
}

// TxClientConfig 写路径配置
type TxClientConfig struct {
	// MaxGasPriceGwei gas 价格上限 (gwei)，0 表示不限制
	MaxGasPriceGwei int64
	// GasLimitCap 估算加成后的 gas 上限
	GasLimitCap uint64
	// ConfirmTimeout 等待回执的总时长
	ConfirmTimeout time.Duration
	// ReceiptPollInterval 回执轮询间隔
	ReceiptPollInterval time.Duration
}

// TxClient 合约写路径的唯一入口。
// 单签名钱包，所有写交易串行通过这里; 只读调用不走锁。
type TxClient struct {
	backend Backend
	nonces  NonceSource
	cfg     TxClientConfig

	writeMu sync.Mutex
}

// NewTxClient 创建写路径客户端
func NewTxClient(backend Backend, nonces NonceSource, cfg TxClientConfig) *TxClient {
	if cfg.GasLimitCap == 0 {
		cfg.GasLimitCap = 1_500_000
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	return &TxClient{
		backend: backend,
		nonces:  nonces,
		cfg:     cfg,
	}
}

// Execute 提交一笔合约写交易并等待终态:
// gas 价格防护 → 预执行 → 估气 → 签名广播 → 轮询回执。
// 一旦广播绝不中途放弃，要么拿到回执要么超时报告未知。
func (t *TxClient) Execute(ctx context.Context, to common.Address, calldata []byte) (*TxResult, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	if t.cfg.MaxGasPriceGwei > 0 {
		ceiling := new(big.Int).Mul(big.NewInt(t.cfg.MaxGasPriceGwei), big.NewInt(1_000_000_000))
		if gasPrice.Cmp(ceiling) > 0 {
			return nil, fmt.Errorf("%w: current %s wei, ceiling %s wei",
				ErrGasPriceTooHigh, gasPrice.String(), ceiling.String())
		}
	}

	msg := ethereum.CallMsg{
		From:     t.backend.Address(),
		To:       &to,
		Data:     calldata,
		GasPrice: gasPrice,
	}

	// 预执行: 会回滚的交易不广播，不烧 gas
	if _, err := t.backend.CallContract(ctx, msg, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSimulationReverted, err)
	}

	gasLimit, err := t.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit = gasLimit * 120 / 100
	if gasLimit > t.cfg.GasLimitCap {
		gasLimit = t.cfg.GasLimitCap
	}

	nonce, err := t.nonces.AcquireNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, calldata)
	signedTx, err := t.backend.SignTransaction(tx)
	if err != nil {
		_ = t.nonces.ReleaseNonce(ctx, nonce)
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := t.backend.SendTransaction(ctx, signedTx); err != nil {
		_ = t.nonces.ReleaseNonce(ctx, nonce)
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	txHash := signedTx.Hash()
	_ = t.nonces.ConfirmNonce(ctx, nonce, txHash.Hex())

	// 广播后调用方取消不再中断等待，只受 ConfirmTimeout 约束;
	// 中途放弃会让交易结局悬空，触发无谓的重试重发
	receipt, err := t.waitMined(context.WithoutCancel(ctx), txHash)
	t.nonces.OnTxFinalized(nonce)
	if err != nil {
		return &TxResult{TxHash: txHash.Hex(), GasPrice: gasPrice}, err
	}

	result := &TxResult{
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Int64(),
		GasUsed:     int64(receipt.GasUsed),
		GasPrice:    gasPrice,
		Succeeded:   receipt.Status == types.ReceiptStatusSuccessful,
	}
	if !result.Succeeded {
		return result, ErrTxReverted
	}
	return result, nil
}

// Call 只读调用合约，不走写锁
func (t *TxClient) Call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	msg := ethereum.CallMsg{
		From: t.backend.Address(),
		To:   &to,
		Data: calldata,
	}
	return t.backend.CallContract(ctx, msg, nil)
}

// waitMined 定间隔轮询回执直到拿到或超时
func (t *TxClient) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(t.cfg.ConfirmTimeout)
	ticker := time.NewTicker(t.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.GetTransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrTxNotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNonceLockFailed  = errors.New("failed to acquire nonce lock")
	ErrNonceNotAcquired = errors.New("nonce not acquired")
)

// pendingNonceReader 链上 nonce 来源
type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager Nonce 管理器
// 使用 Redis 分布式锁管理 Nonce，确保多实例并发安全
type NonceManager struct {
	chain       pendingNonceReader
	redis       redis.UniversalClient
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration

	mu           sync.RWMutex
	lastSyncTime time.Time
	syncInterval time.Duration

	// 已分配但尚未确认的 nonce
	pendingMu  sync.RWMutex
	pendingTxs map[uint64]string // nonce -> txHash
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(chain pendingNonceReader, rdb redis.UniversalClient, cfg *NonceManagerConfig) *NonceManager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}

	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}

	return &NonceManager{
		chain:        chain,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  lockTimeout,
		syncInterval: syncInterval,
		pendingTxs:   make(map[uint64]string),
	}
}

// nonceKey 生成 Redis key
func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("solvena:bridge:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

// lockKey 生成锁 key
func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("solvena:bridge:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// AcquireNonce 获取并锁定一个 Nonce
// 返回的 nonce 必须通过 ConfirmNonce 或 ReleaseNonce 处理
func (m *NonceManager) AcquireNonce(ctx context.Context) (uint64, error) {
	lockAcquired, err := m.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	if !lockAcquired {
		return 0, ErrNonceLockFailed
	}
	defer m.releaseLock(ctx)

	// 定期从链上校准
	if m.needsSync() {
		if err := m.syncFromChain(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.getCurrentNonce(ctx)
	if err != nil {
		return 0, err
	}

	if err := m.setCurrentNonce(ctx, nonce+1); err != nil {
		return 0, err
	}

	m.pendingMu.Lock()
	m.pendingTxs[nonce] = "" // 尚未关联 txHash
	m.pendingMu.Unlock()

	return nonce, nil
}

// ConfirmNonce 确认 Nonce 已随交易广播
func (m *NonceManager) ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if _, exists := m.pendingTxs[nonce]; !exists {
		return nil
	}

	m.pendingTxs[nonce] = txHash
	return nil
}

// ReleaseNonce 释放未使用的 Nonce (交易构建失败时调用)
// 由于更高的 nonce 可能已被占用，计数器不回退，
// 该槽位留待下次 SyncFromChain 校准。
func (m *NonceManager) ReleaseNonce(ctx context.Context, nonce uint64) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if _, exists := m.pendingTxs[nonce]; !exists {
		return ErrNonceNotAcquired
	}

	delete(m.pendingTxs, nonce)
	return nil
}

// OnTxFinalized 交易到达终态 (确认或失败) 后清理
func (m *NonceManager) OnTxFinalized(nonce uint64) {
	m.pendingMu.Lock()
	delete(m.pendingTxs, nonce)
	m.pendingMu.Unlock()
}

// SyncFromChain 从链上同步 Nonce
func (m *NonceManager) SyncFromChain(ctx context.Context) error {
	lockAcquired, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !lockAcquired {
		return ErrNonceLockFailed
	}
	defer m.releaseLock(ctx)

	return m.syncFromChain(ctx)
}

// syncFromChain 内部同步方法 (需要已持有锁)
func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.chain.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}

	if err := m.setCurrentNonce(ctx, chainNonce); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()

	return nil
}

// acquireLock 获取分布式锁
func (m *NonceManager) acquireLock(ctx context.Context) (bool, error) {
	ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// releaseLock 释放分布式锁
func (m *NonceManager) releaseLock(ctx context.Context) error {
	return m.redis.Del(ctx, m.lockKey()).Err()
}

// getCurrentNonce 获取当前 nonce
func (m *NonceManager) getCurrentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if err == redis.Nil {
		// 首次使用，从链上获取
		return m.chain.PendingNonceAt(ctx, m.wallet)
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// setCurrentNonce 设置当前 nonce
func (m *NonceManager) setCurrentNonce(ctx context.Context, nonce uint64) error {
	return m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err()
}

// needsSync 检查是否需要从链上校准
func (m *NonceManager) needsSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}

// GetPendingCount 获取待确认交易数量
func (m *NonceManager) GetPendingCount() int {
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()
	return len(m.pendingTxs)
}

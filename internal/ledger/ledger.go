// Package ledger 提供事件幂等账本: 每个外部事件派生一个稳定键，
// 处理成功后标记，重放时据此跳过。
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/solvena/solvena-bridge/internal/repository"
)

// Ledger 幂等账本接口
type Ledger interface {
	// HasProcessed 判断键是否已处理。底层存储出错时返回错误，
	// 调用方应视为未处理并留待下次重试，绝不能直接标记。
	HasProcessed(ctx context.Context, key string) (bool, error)
	// MarkProcessed 标记键已处理，重复标记幂等
	MarkProcessed(ctx context.Context, key string) error
}

// NoticeKey 预言机通知的幂等键。验证序号单调递增，
// 同一贷款的每轮验证都是独立事件。
func NoticeKey(borrowerAddress, loanID string, verificationSeq uint64) string {
	return fmt.Sprintf("notice:%s:%s:%d", borrowerAddress, loanID, verificationSeq)
}

// WebhookKey 支付回调的幂等键。同一支付的不同状态是不同事件，
// 同一状态的重复投递是重放。
func WebhookKey(eventType, externalPaymentID, status string) string {
	return fmt.Sprintf("webhook:%s:%s:%s", eventType, externalPaymentID, status)
}

// MemoryLedger 进程内账本。重启后丢失，
// 由合约自身的重复拒绝兜底，适用于 relay 路径。
type MemoryLedger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryLedger 创建进程内账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		seen: make(map[string]struct{}),
	}
}

func (l *MemoryLedger) HasProcessed(_ context.Context, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[key]
	return ok, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key] = struct{}{}
	return nil
}

// StoreLedger 持久化账本，基于已处理事件表。
// 回调路径必须用它: 确认响应一旦发出就不能因重启而失忆。
type StoreLedger struct {
	events repository.ProcessedEventRepository
}

// NewStoreLedger 创建持久化账本
func NewStoreLedger(events repository.ProcessedEventRepository) *StoreLedger {
	return &StoreLedger{events: events}
}

func (l *StoreLedger) HasProcessed(ctx context.Context, key string) (bool, error) {
	return l.events.Exists(ctx, key)
}

func (l *StoreLedger) MarkProcessed(ctx context.Context, key string) error {
	return l.events.Mark(ctx, key)
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solvena/solvena-bridge/internal/model"
)

// ProcessedEventRepository 已处理事件账本仓储接口。
// 账本只增不删: Mark 幂等，重复键不报错。
type ProcessedEventRepository interface {
	Exists(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// processedEventRepository 已处理事件仓储实现
type processedEventRepository struct {
	*Repository
}

// NewProcessedEventRepository 创建已处理事件仓储
func NewProcessedEventRepository(db *gorm.DB) ProcessedEventRepository {
	return &processedEventRepository{
		Repository: NewRepository(db),
	}
}

func (r *processedEventRepository) Exists(ctx context.Context, key string) (bool, error) {
	var event model.ProcessedEvent
	err := r.DB(ctx).Where("key = ?", key).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *processedEventRepository) Mark(ctx context.Context, key string) error {
	event := &model.ProcessedEvent{
		Key:         key,
		FirstSeenAt: time.Now().UnixMilli(),
	}
	// 并发重复标记按无事发生处理
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event).Error
}

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedEventRepository_ExistsAndMark(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProcessedEventRepository(db)
	ctx := context.Background()

	exists, err := repo.Exists(ctx, "webhook:payment.paid:pay-1:PAID")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Mark(ctx, "webhook:payment.paid:pay-1:PAID"))

	exists, err = repo.Exists(ctx, "webhook:payment.paid:pay-1:PAID")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessedEventRepository_MarkIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProcessedEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Mark(ctx, "notice:0xabc:loan-1:7"))
	// 重复标记不报错
	require.NoError(t, repo.Mark(ctx, "notice:0xabc:loan-1:7"))

	exists, err := repo.Exists(ctx, "notice:0xabc:loan-1:7")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessedEventRepository_KeysAreDistinct(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProcessedEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Mark(ctx, "notice:0xabc:loan-1:7"))

	// 同一贷款的下一个验证序号是新键
	exists, err := repo.Exists(ctx, "notice:0xabc:loan-1:8")
	require.NoError(t, err)
	assert.False(t, exists)
}

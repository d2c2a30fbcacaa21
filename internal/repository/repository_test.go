package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solvena/solvena-bridge/internal/model"
)

// setupMockDB 创建模拟数据库
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

// setupTestDB 创建 sqlite 内存数据库 (用于真实查询路径)
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}

	err = db.AutoMigrate(
		&model.PaymentRecord{},
		&model.Loan{},
		&model.ProcessedEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return db
}

// TestRepository_DB 测试事务上下文传递
func TestRepository_DB(t *testing.T) {
	gormDB, _, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(gormDB)

	t.Run("no transaction in context", func(t *testing.T) {
		db := repo.DB(context.Background())
		assert.NotNil(t, db)
	})

	t.Run("transaction in context", func(t *testing.T) {
		tx := gormDB.Session(&gorm.Session{})
		ctx := context.WithValue(context.Background(), txKey{}, tx)

		db := repo.DB(ctx)
		assert.Equal(t, tx, db)
	})
}

// TestIsRetryableError 测试可重试错误分类
func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"query canceled", &pgconn.PgError{Code: "57014"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", assert.AnError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableError(tt.err))
		})
	}
}

// TestPagination 测试分页参数
func TestPagination(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := &Pagination{}
		assert.Equal(t, 0, p.Offset())
		assert.Equal(t, 20, p.Limit())
	})

	t.Run("explicit values", func(t *testing.T) {
		p := &Pagination{Page: 3, PageSize: 10}
		assert.Equal(t, 20, p.Offset())
		assert.Equal(t, 10, p.Limit())
	})

	t.Run("page size cap", func(t *testing.T) {
		p := &Pagination{Page: 1, PageSize: 500}
		assert.Equal(t, 100, p.Limit())
	})
}

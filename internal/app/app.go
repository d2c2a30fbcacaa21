// Package app 提供 solvena-bridge 服务的应用生命周期管理
//
// ========================================
// solvena-bridge 服务对接说明
// ========================================
//
// ## 服务职责
// solvena-bridge 是结算桥服务，负责:
// 1. 通知中继 (Relay): 轮询验证预言机的通知源，把 DSCR 验证事实投递到链上 LoanPool
// 2. 回调处理 (Webhook): 接收支付方回调，维护支付记录的单向状态机
// 3. 还款对账 (Repayment): 把已结清的支付记账到链上，定时重试偏差项
//
// ## HTTP 对接
// - 端口: 8086
// - POST /webhooks/payments: 支付方回调 (HMAC-SHA256 签名)
// - GET /v1/payments/:external_id, /v1/loans/:loan_id/settlement 等查询
//
// ## Kafka 对接 (参见 internal/kafka/producer.go)
// - payment-failed: 支付失败通知 → solvena-notify
// - loan-repaid: 贷款结清事件 → solvena-origination
// - fact-relayed: 事实上链事件 → solvena-origination
//
// ## 智能合约对接
// - LoanPool: handleVerifiedFact / repay / isActive / amount / repaidAmount
// - 合约地址由 blockchain.contract_address 配置
//
// ## 数据库
// - 数据库名: solvena_bridge
// - 表: bridge_payment_records, bridge_loans, bridge_processed_events
//
// ========================================
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/solvena/solvena-bridge/internal/blockchain"
	"github.com/solvena/solvena-bridge/internal/config"
	"github.com/solvena/solvena-bridge/internal/contract"
	"github.com/solvena/solvena-bridge/internal/handler"
	"github.com/solvena/solvena-bridge/internal/kafka"
	"github.com/solvena/solvena-bridge/internal/ledger"
	"github.com/solvena/solvena-bridge/internal/metrics"
	"github.com/solvena/solvena-bridge/internal/model"
	"github.com/solvena/solvena-bridge/internal/oracle"
	"github.com/solvena/solvena-bridge/internal/repository"
	"github.com/solvena/solvena-bridge/internal/service"
	"github.com/solvena/solvena-bridge/pkg/lock"
	"github.com/solvena/solvena-bridge/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis redis.UniversalClient

	// 区块链
	blockchainClient *blockchain.Client
	nonceManager     *blockchain.NonceManager
	txClient         *blockchain.TxClient
	loanPool         *contract.LoanPoolContract

	// 仓储
	paymentRepo repository.PaymentRepository
	loanRepo    repository.LoanRepository
	eventRepo   repository.ProcessedEventRepository

	// 服务
	relaySvc     *service.RelayService
	paymentSvc   *service.PaymentService
	repaymentSvc *service.RepaymentService

	// Kafka
	kafkaProducer  *kafka.Producer
	eventPublisher *kafka.KafkaEventPublisher

	// HTTP 与定时任务
	httpServer *http.Server
	cron       *cron.Cron

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initRepositories()

	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	app.initServices()
	app.initCron()
	app.initHTTP()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	// PostgreSQL
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	// 自动迁移
	if err := db.AutoMigrate(
		&model.PaymentRecord{},
		&model.Loan{},
		&model.ProcessedEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	// Redis
	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    a.cfg.Redis.Addresses,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.Strings("addrs", a.cfg.Redis.Addresses))

	return nil
}

// initBlockchain 初始化区块链客户端与合约绑定
func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		PrivateKey:      a.cfg.Blockchain.PrivateKey,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.blockchainClient = client

	a.nonceManager = blockchain.NewNonceManager(client, a.redis, &blockchain.NonceManagerConfig{
		Wallet:  client.Address(),
		ChainID: a.cfg.Blockchain.ChainID,
	})

	a.txClient = blockchain.NewTxClient(client, a.nonceManager, blockchain.TxClientConfig{
		MaxGasPriceGwei:     a.cfg.Blockchain.MaxGasPriceGwei,
		ConfirmTimeout:      time.Duration(a.cfg.Blockchain.ConfirmTimeout) * time.Second,
		ReceiptPollInterval: time.Duration(a.cfg.Blockchain.ConfirmPollInterval) * time.Second,
	})

	pool, err := contract.NewLoanPoolContract(
		common.HexToAddress(a.cfg.Blockchain.ContractAddress), a.txClient)
	if err != nil {
		return fmt.Errorf("failed to bind loan pool contract: %w", err)
	}
	a.loanPool = pool

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.String("wallet", client.Address().Hex()),
		zap.String("loan_pool", a.cfg.Blockchain.ContractAddress))

	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.paymentRepo = repository.NewPaymentRepository(a.db)
	a.loanRepo = repository.NewLoanRepository(a.db)
	a.eventRepo = repository.NewProcessedEventRepository(a.db)

	logger.Info("repositories initialized")
}

// initKafka 初始化 Kafka 生产者
func (a *App) initKafka() error {
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer
	a.eventPublisher = kafka.NewKafkaEventPublisher(producer)

	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化服务
func (a *App) initServices() {
	// 还款对账服务
	locker := lock.NewRedisLocker(a.redis, "solvena:bridge:lock:",
		time.Duration(a.cfg.Repayment.LockTTL)*time.Second)

	a.repaymentSvc = service.NewRepaymentService(
		a.paymentRepo,
		a.loanRepo,
		a.loanPool,
		a.txClient,
		locker,
		service.RepaymentServiceConfig{
			TokenDecimals: int32(a.cfg.Repayment.TokenDecimals),
		},
	)
	a.repaymentSvc.SetOnLoanRepaid(func(ctx context.Context, event *model.LoanRepaidEvent) error {
		if err := a.eventPublisher.PublishLoanRepaid(ctx, event); err != nil {
			return err
		}
		metrics.RecordKafkaMessage(kafka.TopicLoanRepaid)
		return nil
	})

	// 支付回调服务: 回调路径必须用持久化账本
	a.paymentSvc = service.NewPaymentService(
		a.paymentRepo,
		ledger.NewStoreLedger(a.eventRepo),
		a.repaymentSvc,
	)
	a.paymentSvc.SetOnPaymentFailed(func(ctx context.Context, notice *model.PaymentFailureNotice) error {
		if err := a.eventPublisher.PublishPaymentFailure(ctx, notice); err != nil {
			return err
		}
		metrics.RecordKafkaMessage(kafka.TopicPaymentFailed)
		return nil
	})

	// 通知中继服务: 进程内账本即可，重放由合约侧兜底
	oracleClient := oracle.NewClient(a.cfg.Oracle.Endpoint,
		time.Duration(a.cfg.Oracle.FetchTimeout)*time.Second)

	a.relaySvc = service.NewRelayService(
		oracleClient,
		a.loanPool,
		a.txClient,
		ledger.NewMemoryLedger(),
		service.RelayServiceConfig{
			BatchSize:    a.cfg.Oracle.BatchSize,
			PollInterval: time.Duration(a.cfg.Oracle.PollInterval) * time.Second,
			RelayPause:   time.Duration(a.cfg.Oracle.RelayPause) * time.Millisecond,
		},
	)
	a.relaySvc.SetOnFactRelayed(func(ctx context.Context, event *model.FactRelayedEvent) error {
		if err := a.eventPublisher.PublishFactRelayed(ctx, event); err != nil {
			return err
		}
		metrics.RecordKafkaMessage(kafka.TopicFactRelayed)
		return nil
	})

	logger.Info("services initialized")
}

// initCron 初始化定时重试任务
func (a *App) initCron() {
	a.cron = cron.New()

	_, err := a.cron.AddFunc(a.cfg.Repayment.RetryCron, func() {
		if err := a.repaymentSvc.RetrySweep(context.Background()); err != nil {
			logger.Error("retry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("failed to schedule retry sweep",
			zap.String("cron", a.cfg.Repayment.RetryCron), zap.Error(err))
		return
	}

	logger.Info("retry sweep scheduled", zap.String("cron", a.cfg.Repayment.RetryCron))
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	webhookHandler := handler.NewWebhookHandler(a.paymentSvc, a.cfg.Webhook.SigningSecret)
	paymentHandler := handler.NewPaymentHandler(a.paymentRepo, a.loanRepo, a.loanPool, a.repaymentSvc)

	router := handler.NewRouter(
		handler.RouterConfig{ServiceName: a.cfg.Service.Name},
		webhookHandler,
		paymentHandler,
	)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("http server initialized", zap.Int("port", a.cfg.Service.HTTPPort))
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动通知中继
	if err := a.relaySvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay service: %w", err)
	}

	// 启动定时重试
	a.cron.Start()

	// 启动 HTTP 服务器
	go func() {
		logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	// 停止接收新回调
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	// 停止定时任务并等待执行中的任务完成
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	// 停止中继循环
	if a.relaySvc != nil && a.relaySvc.IsRunning() {
		if err := a.relaySvc.Stop(); err != nil {
			logger.Error("relay service stop error", zap.Error(err))
		}
	}

	// 关闭 Kafka 生产者
	if a.kafkaProducer != nil {
		a.kafkaProducer.Close()
	}

	// 关闭区块链客户端
	if a.blockchainClient != nil {
		a.blockchainClient.Close()
	}

	// 关闭 Redis
	if a.redis != nil {
		a.redis.Close()
	}

	// 关闭数据库
	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}

package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
	Webhook    WebhookConfig    `yaml:"webhook" json:"webhook"`
	Repayment  RepaymentConfig  `yaml:"repayment" json:"repayment"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL          string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs   []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	ContractAddress string   `yaml:"contract_address" json:"contract_address"`
	PrivateKey      string   `yaml:"private_key" json:"private_key"`
	// MaxGasPriceGwei 写交易前的 gas 价格上限，超过则放弃本次提交
	MaxGasPriceGwei int64 `yaml:"max_gas_price_gwei" json:"max_gas_price_gwei"`
	// ConfirmTimeout 等待交易上链的超时时间 (秒)
	ConfirmTimeout int `yaml:"confirm_timeout" json:"confirm_timeout"`
	// ConfirmPollInterval 回执轮询间隔 (秒)
	ConfirmPollInterval int `yaml:"confirm_poll_interval" json:"confirm_poll_interval"`
}

// OracleConfig 预言机通知源配置
type OracleConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// BatchSize 每个轮询周期拉取的通知数量上限
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// PollInterval 外层轮询间隔 (秒)
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`
	// RelayPause 同一周期内相邻两次成功 relay 之间的暂停 (毫秒)
	RelayPause int `yaml:"relay_pause" json:"relay_pause"`
	// FetchTimeout 单次 HTTP 拉取超时 (秒)
	FetchTimeout int `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// WebhookConfig 支付回调配置
type WebhookConfig struct {
	// SigningSecret 签名校验密钥，为空时拒绝所有回调 (fail closed)
	SigningSecret string `yaml:"signing_secret" json:"signing_secret"`
}

// RepaymentConfig 还款上账配置
type RepaymentConfig struct {
	// TokenDecimals 结算代币的小数位数
	TokenDecimals int `yaml:"token_decimals" json:"token_decimals"`
	// RetryCron 未上账还款的定时重试表达式
	RetryCron string `yaml:"retry_cron" json:"retry_cron"`
	// LockTTL 每笔贷款还款锁的有效期 (秒)
	LockTTL int `yaml:"lock_ttl" json:"lock_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := string(data)
	content = expandEnvVars(content)

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "solvena-bridge"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8086
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.MaxGasPriceGwei == 0 {
		cfg.Blockchain.MaxGasPriceGwei = 300
	}
	if cfg.Blockchain.ConfirmTimeout == 0 {
		cfg.Blockchain.ConfirmTimeout = 90
	}
	if cfg.Blockchain.ConfirmPollInterval == 0 {
		cfg.Blockchain.ConfirmPollInterval = 2
	}

	if cfg.Oracle.BatchSize == 0 {
		cfg.Oracle.BatchSize = 10
	}
	if cfg.Oracle.PollInterval == 0 {
		cfg.Oracle.PollInterval = 30
	}
	if cfg.Oracle.RelayPause == 0 {
		cfg.Oracle.RelayPause = 1000
	}
	if cfg.Oracle.FetchTimeout == 0 {
		cfg.Oracle.FetchTimeout = 15
	}

	if cfg.Repayment.TokenDecimals == 0 {
		cfg.Repayment.TokenDecimals = 6
	}
	if cfg.Repayment.RetryCron == "" {
		cfg.Repayment.RetryCron = "@every 5m"
	}
	if cfg.Repayment.LockTTL == 0 {
		cfg.Repayment.LockTTL = 120
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

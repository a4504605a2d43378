package config

import (
	"time"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/pkg/lock"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/pkg/mq"

	"github.com/zeromicro/go-zero/rest"
)

type LogConfig struct {
	Format   string `json:",default=console,options=console|json"` // 日志格式
	LogDir   string `json:",optional"`                             // 日志目录（可为相对路径或绝对路径），为空只输出到 stdout
	Level    string `json:",default=info"`                         // 日志级别：debug / info / warn / error
	Compress bool   `json:",optional"`                             // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// SolanaConfig 账本 RPC 配置
type SolanaConfig struct {
	Endpoint        string `json:",default=https://api.mainnet-beta.solana.com"`
	TimeoutMs       int    `json:",default=10000"`     // 单次 RPC 超时
	BreakerFailures uint32 `json:",default=5"`         // 连续失败多少次后熔断
	BreakerOpenSec  int    `json:",default=30"`        // 熔断后多久进入半开
	ConfirmPollMs   int    `json:",default=500"`       // 确认轮询间隔
	Commitment      string `json:",default=confirmed"` // 确认级别：processed / confirmed / finalized
}

func (c *SolanaConfig) ToRpcOption() ledger.RpcOption {
	return ledger.RpcOption{
		Endpoint:         c.Endpoint,
		Timeout:          time.Duration(c.TimeoutMs) * time.Millisecond,
		BreakerFailures:  c.BreakerFailures,
		BreakerOpenAfter: time.Duration(c.BreakerOpenSec) * time.Second,
	}
}

// SettlementConfig 结算相关配置
type SettlementConfig struct {
	ConsolidationOwner string `json:",optional"`      // 归集账户 owner，单笔与批量的目标账户都必须属于它；未配置时结算不可用
	MaxInstructions    int    `json:",default=24"`    // 单笔交易指令数上限
	MaxTxBytes         int    `json:",default=1232"`  // 单笔交易序列化字节上限
	RequestTimeoutSec  int    `json:",default=60"`    // 单个请求的处理超时
	MaxBodyBytes       int64  `json:",default=65536"` // 请求体大小上限
}

func (c *SettlementConfig) Limits() core.Limits {
	return core.Limits{MaxTxBytes: c.MaxTxBytes, MaxInstructions: c.MaxInstructions}.Normalize()
}

// MintPolicyConfig mint 白名单文件
type MintPolicyConfig struct {
	File              string `json:",optional"`   // 为空表示不限制 mint
	ReloadIntervalSec int    `json:",default=30"` // 检查文件变更的间隔
}

// RedisConfig 幂等记录与账户锁
type RedisConfig struct {
	Addr     string `json:",default=127.0.0.1:6379"`
	Password string `json:",optional"`
	DB       int    `json:",optional"`

	LockExpirySec    int `json:",default=90"`  // 账户锁过期时间，需大于一次提交+确认的耗时
	LockTries        int `json:",default=3"`   // 获取锁的尝试次数
	LockRetryDelayMs int `json:",default=200"` // 两次尝试之间的间隔
}

func (c *RedisConfig) ToLockOption() lock.LockOption {
	return lock.LockOption{
		Expiry:     time.Duration(c.LockExpirySec) * time.Second,
		Tries:      c.LockTries,
		RetryDelay: time.Duration(c.LockRetryDelayMs) * time.Millisecond,
	}
}

// KafkaProducerConfig 结算事件 Kafka 配置，Brokers 为空时不发布事件
type KafkaProducerConfig struct {
	Brokers       string `json:",optional"`          // Kafka broker 地址，多个用英文逗号分隔
	BatchSize     int    `json:",default=16384"`      // 批处理大小（单位字节）
	LingerMs      int    `json:",default=5"`          // 批处理最大延迟（毫秒）
	Topic         string `json:",default=settlement"` // 结算事件 topic
	Partitions    int    `json:",default=8"`          // topic 分区数
	SendTimeoutMs int    `json:",default=3000"`       // 单条事件发送并等待 ack 的超时
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

func (c *KafkaProducerConfig) ToKafkaOption() mq.KafkaProducerOption {
	return mq.KafkaProducerOption{
		Brokers:   c.Brokers,
		BatchSize: c.BatchSize,
		LingerMs:  c.LingerMs,
		Topics:    []mq.TopicOption{{Topic: c.Topic, Partitions: c.Partitions}},
	}
}

// RelayConfig 结算中继服务主配置
type RelayConfig struct {
	rest.RestConf

	Logger LogConfig
	Solana SolanaConfig

	Delegate struct {
		KeypairFile string // solana-keygen 生成的 JSON 密钥文件
	}

	Settlement SettlementConfig
	MintPolicy MintPolicyConfig    `json:",optional"`
	Redis      RedisConfig
	Kafka      KafkaProducerConfig `json:",optional"`
}

package svc

import (
	"fmt"
	"time"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/config"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/logic/progress"
	"delegate-relay-sol/internal/logic/settlement"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/transfer"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/mq"
	"delegate-relay-sol/internal/pkg/lock"
	"delegate-relay-sol/internal/pkg/logger"
	pkgmq "delegate-relay-sol/internal/pkg/mq"
	"delegate-relay-sol/internal/service"
	"delegate-relay-sol/internal/types"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
)

// ServiceContext 结算中继服务资源
type ServiceContext struct {
	Config     config.RelayConfig
	Ledger     *ledger.RpcLedger
	Delegate   *signer.KeypairSigner
	MintCache  *cache.MintCache
	Policy     *service.PolicyHolder
	Redis      *redis.Client
	Producer   *kafka.Producer
	Settlement *service.SettlementService
}

// NewServiceContext 按配置组装各组件；Kafka 未配置时事件不发布
func NewServiceContext(c config.RelayConfig) (*ServiceContext, error) {
	// 1. 账本 RPC
	rpc, err := ledger.NewRpcLedger(c.Solana.ToRpcOption())
	if err != nil {
		return nil, fmt.Errorf("init ledger rpc: %w", err)
	}

	// 2. delegate 密钥
	delegate, err := signer.LoadKeypairFile(c.Delegate.KeypairFile)
	if err != nil {
		return nil, err
	}

	var owner types.Pubkey
	if c.Settlement.ConsolidationOwner != "" {
		if owner, err = types.TryPubkeyFromBase58(c.Settlement.ConsolidationOwner); err != nil {
			return nil, fmt.Errorf("settlement consolidation owner: %w", err)
		}
	}

	// 3. mint 白名单 + mint 缓存
	mints := cache.NewMintCache(rpc)
	policy := service.AllowAllPolicy()
	if c.MintPolicy.File != "" {
		if policy, err = service.LoadMintPolicy(c.MintPolicy.File); err != nil {
			return nil, err
		}
		mints.UpdateFrom(policy.Known())
	}
	holder := service.NewPolicyHolder(policy)

	// 4. Redis：幂等记录 + 账户锁
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	pm := progress.NewProgressManager(progress.NewRedisSettlementStore(rdb))
	locker := lock.NewAccountLocker(rdb, c.Redis.ToLockOption())

	// 5. Kafka 事件（可选）
	var producer *kafka.Producer
	var publisher mq.Publisher = mq.NopPublisher{}
	if c.Kafka.Enabled() {
		if producer, err = pkgmq.NewKafkaProducer(c.Kafka.ToKafkaOption()); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		publisher = mq.NewKafkaPublisher(producer, c.Kafka.Topic, c.Kafka.Partitions,
			time.Duration(c.Kafka.SendTimeoutMs)*time.Millisecond)
	}

	// 6. 核心组件
	limits := c.Settlement.Limits()
	detector := variant.NewDetector(rpc, nil)
	engine := submit.NewEngine(rpc, submit.Option{
		PollInterval: time.Duration(c.Solana.ConfirmPollMs) * time.Millisecond,
		Commitment:   ledger.Commitment(c.Solana.Commitment),
	})
	executor := transfer.NewExecutor(detector, engine, delegate, limits)
	relay := settlement.NewRelay(detector, engine, delegate, mints, owner, limits)

	settlementService := service.NewSettlementService(executor, relay, engine, mints, holder, pm, locker, publisher,
		service.SettlementOption{
			ConsolidationOwner: owner,
			RequestTimeout:     time.Duration(c.Settlement.RequestTimeoutSec) * time.Second,
		})

	logger.Infof("[ServiceContext] delegate=%s consolidation owner=%s kafka=%v",
		delegate.PublicKey(), owner, c.Kafka.Enabled())
	return &ServiceContext{
		Config:     c,
		Ledger:     rpc,
		Delegate:   delegate,
		MintCache:  mints,
		Policy:     holder,
		Redis:      rdb,
		Producer:   producer,
		Settlement: settlementService,
	}, nil
}

// Close 关闭服务上下文中的资源
func (ctx *ServiceContext) Close() {
	if ctx.Producer != nil {
		ctx.Producer.Flush(5000)
		ctx.Producer.Close()
	}
	if ctx.Redis != nil {
		_ = ctx.Redis.Close()
	}
}

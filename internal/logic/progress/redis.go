package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/jsonx"
)

// RedisSettlementStore 在 Redis 中记录结算请求状态（幂等控制），不是业务数据的权威来源
type RedisSettlementStore struct {
	rdb redis.UniversalClient
}

const settlementPrefix = "progress:settlement:req"

// 每种状态的 TTL（可调）
const (
	pendingTTL = 2 * time.Minute // 大于一次提交+确认的最长耗时（blockhash 有效期约 60~90 秒）
	settledTTL = 7 * 24 * time.Hour
	failedTTL  = time.Hour

	// 结果不明的记录不能先于链上结论过期，否则重试会绕过核实直接重建
	unresolvedTTL = 7 * 24 * time.Hour
)

func NewRedisSettlementStore(rdb redis.UniversalClient) *RedisSettlementStore {
	return &RedisSettlementStore{rdb: rdb}
}

func (r *RedisSettlementStore) getKey(requestID string) string {
	return fmt.Sprintf("%s:%s", settlementPrefix, requestID)
}

func (r *RedisSettlementStore) getTTL(status SettlementStatus) time.Duration {
	switch status {
	case StatusSettled:
		return settledTTL
	case StatusFailed:
		return failedTTL
	case StatusUnresolved:
		return unresolvedTTL
	default:
		return pendingTTL
	}
}

// Get 读取记录；不存在时返回 Status=StatusUnknown
func (r *RedisSettlementStore) Get(ctx context.Context, requestID string) (SettlementRecord, error) {
	val, err := r.rdb.Get(ctx, r.getKey(requestID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return SettlementRecord{Status: StatusUnknown}, nil
	case err != nil:
		return SettlementRecord{}, fmt.Errorf("redis get error: %w", err)
	}
	var rec SettlementRecord
	if err := jsonx.Unmarshal(val, &rec); err != nil {
		return SettlementRecord{Status: StatusUnknown}, nil // 容错处理
	}
	return rec, nil
}

// TryMarkPending 仅当记录不存在或上次失败时写入 Pending，返回是否抢占成功
func (r *RedisSettlementStore) TryMarkPending(ctx context.Context, requestID string) (bool, error) {
	data, err := jsonx.Marshal(newRecord(StatusPending))
	if err != nil {
		return false, err
	}
	key := r.getKey(requestID)
	ok, err := r.rdb.SetNX(ctx, key, data, pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx error: %w", err)
	}
	if ok {
		return true, nil
	}

	// 上次失败的请求允许重试：对比旧值后替换
	var acquired bool
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var rec SettlementRecord
			if jsonx.Unmarshal(old, &rec) == nil && rec.Status != StatusFailed {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, pendingTTL)
			return nil
		})
		if err == nil {
			acquired = true
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, fmt.Errorf("redis watch error: %w", err)
	}
	return acquired, nil
}

// MarkSettled 标记为已结算
func (r *RedisSettlementStore) MarkSettled(ctx context.Context, requestID, signature string) error {
	rec := newRecord(StatusSettled)
	rec.Signature = signature
	return r.put(ctx, requestID, rec)
}

// MarkFailed 标记为失败，保留签名（若已发出）用于排查
func (r *RedisSettlementStore) MarkFailed(ctx context.Context, requestID, signature, kind, message string) error {
	rec := newRecord(StatusFailed)
	rec.Signature = signature
	rec.ErrorKind = kind
	rec.ErrorMessage = message
	return r.put(ctx, requestID, rec)
}

// MarkUnresolved 记录已发出但结果不明的交易签名及其 blockhash 有效高度
func (r *RedisSettlementStore) MarkUnresolved(ctx context.Context, requestID, signature string, lastValid uint64, kind, message string) error {
	rec := newRecord(StatusUnresolved)
	rec.Signature = signature
	rec.LastValidBlockHeight = lastValid
	rec.ErrorKind = kind
	rec.ErrorMessage = message
	return r.put(ctx, requestID, rec)
}

// ResumeUnresolved 核实旧签名不会再上链后，把 Unresolved 记录替换为 Pending。
// 只有记录仍是同一签名的 Unresolved 时才成功，并发的重试只有一个能抢到。
func (r *RedisSettlementStore) ResumeUnresolved(ctx context.Context, requestID, signature string) (bool, error) {
	data, err := jsonx.Marshal(newRecord(StatusPending))
	if err != nil {
		return false, err
	}
	key := r.getKey(requestID)

	var acquired bool
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var rec SettlementRecord
		if jsonx.Unmarshal(old, &rec) != nil || rec.Status != StatusUnresolved || rec.Signature != signature {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, pendingTTL)
			return nil
		})
		if err == nil {
			acquired = true
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, fmt.Errorf("redis watch error: %w", err)
	}
	return acquired, nil
}

// Clear 删除记录（锁获取失败等未真正开始处理的情况）
func (r *RedisSettlementStore) Clear(ctx context.Context, requestID string) error {
	return r.rdb.Del(ctx, r.getKey(requestID)).Err()
}

func (r *RedisSettlementStore) put(ctx context.Context, requestID string, rec SettlementRecord) error {
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.getKey(requestID), data, r.getTTL(rec.Status)).Err()
}

// Package lock 基于 redsync 的账户级分布式锁：同一账户同一时刻只允许一个在途操作。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockBusy    = errors.New("account is locked by another operation")
	ErrLockNotHeld = errors.New("lock was not held or already expired")
)

const keyPrefix = "lock:account:"

type LockOption struct {
	Expiry     time.Duration // 锁自动过期时间，需大于一次提交+确认的耗时
	Tries      int           // 获取锁的尝试次数
	RetryDelay time.Duration // 两次尝试之间的间隔
}

func DefaultLockOption() LockOption {
	return LockOption{
		Expiry:     90 * time.Second,
		Tries:      3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// AccountLocker 按账户地址加锁
type AccountLocker struct {
	rs  *redsync.Redsync
	opt LockOption
}

func NewAccountLocker(rdb redis.UniversalClient, opt LockOption) *AccountLocker {
	def := DefaultLockOption()
	if opt.Expiry <= 0 {
		opt.Expiry = def.Expiry
	}
	if opt.Tries <= 0 {
		opt.Tries = def.Tries
	}
	if opt.RetryDelay < 0 {
		opt.RetryDelay = def.RetryDelay
	}
	return &AccountLocker{
		rs:  redsync.New(goredis.NewPool(rdb)),
		opt: opt,
	}
}

// WithLock 依次获取 accounts 的锁后执行 fn，结束后全部释放。调用方需保证 accounts 已去重且顺序稳定。
func (l *AccountLocker) WithLock(ctx context.Context, accounts []string, fn func(ctx context.Context) error) error {
	held := make([]*redsync.Mutex, 0, len(accounts))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			// 释放不受业务 ctx 取消影响
			_, _ = held[i].UnlockContext(context.WithoutCancel(ctx))
		}
	}()

	for _, account := range accounts {
		m := l.rs.NewMutex(keyPrefix+account,
			redsync.WithExpiry(l.opt.Expiry),
			redsync.WithTries(l.opt.Tries),
			redsync.WithRetryDelay(l.opt.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			var taken *redsync.ErrTaken
			var nodeTaken *redsync.ErrNodeTaken
			if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &nodeTaken) {
				return fmt.Errorf("%w: %s", ErrLockBusy, account)
			}
			return fmt.Errorf("lock %s: %w", account, err)
		}
		held = append(held, m)
	}
	return fn(ctx)
}

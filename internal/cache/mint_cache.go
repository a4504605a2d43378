package cache

import (
	"context"
	"fmt"
	"sync"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"
)

// MintInfo mint 的不可变属性
type MintInfo struct {
	Decimals uint8
	Program  types.Pubkey // mint 所属 token 程序
}

// MintCache 缓存 mint 精度与所属程序。两者在链上不可变，可以跨请求复用。
// 只缓存读链核实过的值；配置声明的值只用于比对。
type MintCache struct {
	mu       sync.RWMutex
	reader   ledger.AccountReader
	mints    map[types.Pubkey]MintInfo // 已核实
	declared map[types.Pubkey]MintInfo // 配置声明
}

func NewMintCache(reader ledger.AccountReader) *MintCache {
	return &MintCache{
		reader:   reader,
		mints:    make(map[types.Pubkey]MintInfo),
		declared: make(map[types.Pubkey]MintInfo),
	}
}

// UpdateFrom 登记配置中声明的 mint 属性（如 mint 白名单），非法地址跳过。
// 声明在首次读链时核实，与链上不符的 mint 会被拒绝。
func (mc *MintCache) UpdateFrom(known map[string]MintInfo) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for str, info := range known {
		mint, err := types.TryPubkeyFromBase58(str)
		if err != nil {
			continue
		}
		mc.declared[mint] = info
		if cached, ok := mc.mints[mint]; ok && cached != info {
			delete(mc.mints, mint)
		}
	}
}

// Get 命中已核实的缓存直接返回，否则读取 mint 账户并与配置声明比对
func (mc *MintCache) Get(ctx context.Context, mint types.Pubkey) (MintInfo, error) {
	mc.mu.RLock()
	info, ok := mc.mints[mint]
	mc.mu.RUnlock()
	if ok {
		return info, nil
	}

	acc, err := mc.reader.GetAccountInfo(ctx, mint)
	if err != nil {
		return MintInfo{}, fmt.Errorf("load mint %s: %w", mint, err)
	}
	if acc == nil {
		return MintInfo{}, fmt.Errorf("%w: mint %s", core.ErrAccountNotFound, mint)
	}
	m, err := ledger.DecodeMint(acc.Data)
	if err != nil || !m.IsInitialized {
		return MintInfo{}, fmt.Errorf("%w: %s is not an initialized mint", core.ErrInvalidInput, mint)
	}

	info = MintInfo{Decimals: m.Decimals, Program: acc.Owner}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if want, ok := mc.declared[mint]; ok && want != info {
		logger.Errorf("[MintCache] mint %s declared as program=%s decimals=%d, chain has program=%s decimals=%d",
			mint, want.Program, want.Decimals, info.Program, info.Decimals)
		return MintInfo{}, fmt.Errorf("%w: mint %s is owned by %s with %d decimals, configured %s with %d",
			core.ErrInvalidInput, mint, info.Program, info.Decimals, want.Program, want.Decimals)
	}
	mc.mints[mint] = info
	return info, nil
}

// Decimals mint 精度
func (mc *MintCache) Decimals(ctx context.Context, mint types.Pubkey) (uint8, error) {
	info, err := mc.Get(ctx, mint)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

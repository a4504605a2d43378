package ledger

import (
	"fmt"

	"delegate-relay-sol/internal/types"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
)

// TokenAccountStateFrozen 账户被冻结，不能转出
const TokenAccountStateFrozen uint8 = 2

// TokenAccount SPL token 账户（Token 与 Token-2022 前 165 字节布局一致，扩展数据忽略）
type TokenAccount struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey // 链上 allowance 记录：被授权方
	DelegatedAmount uint64        // 链上 allowance 记录：剩余可用额度
	State           uint8
}

// HasDelegate 是否存在被授权方
func (a *TokenAccount) HasDelegate() bool {
	return a.Delegate != nil && !a.Delegate.IsZero()
}

// DecodeTokenAccount 解析 token 账户数据
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < sdktoken.TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d", len(data))
	}
	acc, err := sdktoken.TokenAccountFromData(data[:sdktoken.TokenAccountSize])
	if err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	out := &TokenAccount{
		Mint:            types.FromCommon(acc.Mint),
		Owner:           types.FromCommon(acc.Owner),
		Amount:          acc.Amount,
		DelegatedAmount: acc.DelegatedAmount,
		State:           uint8(acc.State),
	}
	if acc.Delegate != nil {
		d := types.FromCommon(*acc.Delegate)
		out.Delegate = &d
	}
	return out, nil
}

// Mint mint 账户中与转账相关的字段
type Mint struct {
	Supply        uint64
	Decimals      uint8
	IsInitialized bool
}

// DecodeMint 解析 mint 账户数据（Token-2022 扩展位于 82 字节之后）
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) < sdktoken.MintAccountSize {
		return nil, fmt.Errorf("mint account data too short: %d", len(data))
	}
	m, err := sdktoken.MintAccountFromData(data[:sdktoken.MintAccountSize])
	if err != nil {
		return nil, fmt.Errorf("decode mint account: %w", err)
	}
	return &Mint{
		Supply:        m.Supply,
		Decimals:      m.Decimals,
		IsInitialized: m.IsInitialized,
	}, nil
}

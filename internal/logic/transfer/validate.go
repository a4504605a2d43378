package transfer

import (
	"context"
	"fmt"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/types"
)

// ValidatedSource 通过校验的源账户（本次读取的链上快照，不可跨调用复用）
type ValidatedSource struct {
	Ref     core.TokenAccountRef
	Account *ledger.TokenAccount
}

// ValidateSource 重新读取源账户并依次校验：存在且为 token 账户、mint 一致、
// 被授权方存在且等于 delegate、剩余额度不小于 amount
func ValidateSource(
	ctx context.Context,
	detector *variant.Detector,
	source, mint, delegate types.Pubkey,
	amount uint64,
) (*ValidatedSource, error) {
	res, err := detector.Resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	acc, err := decodeTokenAccount(res)
	if err != nil {
		return nil, err
	}
	if acc.Mint != mint {
		return nil, fmt.Errorf("%w: source %s holds %s, expected %s", core.ErrMintMismatch, source, acc.Mint, mint)
	}
	if acc.State == ledger.TokenAccountStateFrozen {
		return nil, fmt.Errorf("%w: source %s is frozen", core.ErrInvalidInput, source)
	}
	if !acc.HasDelegate() {
		return nil, fmt.Errorf("%w: %s", core.ErrNotDelegated, source)
	}
	if *acc.Delegate != delegate {
		return nil, fmt.Errorf("%w: %s delegates to %s, caller is %s", core.ErrWrongDelegate, source, *acc.Delegate, delegate)
	}
	if acc.DelegatedAmount < amount {
		return nil, fmt.Errorf("%w: %s has %d remaining, requested %d", core.ErrInsufficientAllowance, source, acc.DelegatedAmount, amount)
	}
	return &ValidatedSource{Ref: res.Ref(acc.Mint), Account: acc}, nil
}

// ValidateDestination 目标账户必须已存在且 mint 一致；owner 非零时账户持有人必须等于 owner。不会创建缺失的目标账户
func ValidateDestination(ctx context.Context, detector *variant.Detector, destination, mint, owner types.Pubkey) (core.TokenAccountRef, error) {
	res, err := detector.Resolve(ctx, destination)
	if err != nil {
		return core.TokenAccountRef{}, err
	}
	return CheckDestination(res, mint, owner)
}

// CheckDestination 对已读取的目标账户做 mint 与持有人校验
func CheckDestination(res variant.Resolution, mint, owner types.Pubkey) (core.TokenAccountRef, error) {
	acc, err := decodeTokenAccount(res)
	if err != nil {
		return core.TokenAccountRef{}, err
	}
	if acc.Mint != mint {
		return core.TokenAccountRef{}, fmt.Errorf("%w: destination %s holds %s, expected %s",
			core.ErrDestinationMintMismatch, res.Address, acc.Mint, mint)
	}
	if !owner.IsZero() && acc.Owner != owner {
		return core.TokenAccountRef{}, fmt.Errorf("%w: destination %s belongs to %s, expected %s",
			core.ErrInvalidInput, res.Address, acc.Owner, owner)
	}
	return res.Ref(acc.Mint), nil
}

// decodeTokenAccount allowance 记录只能从已知 token 程序的账户布局中读出
func decodeTokenAccount(res variant.Resolution) (*ledger.TokenAccount, error) {
	if !res.Variant.IsToken() {
		return nil, fmt.Errorf("%w: %s is owned by unsupported program %s", core.ErrInvalidInput, res.Address, res.OwnerProgramID)
	}
	acc, err := ledger.DecodeTokenAccount(res.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidInput, res.Address, err)
	}
	return acc, nil
}

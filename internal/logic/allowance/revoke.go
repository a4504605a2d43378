package allowance

import (
	"context"
	"fmt"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"
)

// RevokeBatch 一笔批量 revoke 交易
type RevokeBatch struct {
	Plan     core.Plan
	Accounts []core.TokenAccountRef
}

// RevokeBuilder 清除已授予的 allowance，作为下游失败后的补偿手段，由调用方显式触发
type RevokeBuilder struct {
	detector *variant.Detector
	limits   core.Limits
}

func NewRevokeBuilder(detector *variant.Detector, limits core.Limits) *RevokeBuilder {
	return &RevokeBuilder{detector: detector, limits: limits.Normalize()}
}

func (b *RevokeBuilder) BuildRevokeBatch(ctx context.Context, holder types.Pubkey, accounts []types.Pubkey) (*RevokeBatch, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts", core.ErrInvalidInput)
	}
	if holder.IsZero() {
		return nil, fmt.Errorf("%w: holder is required", core.ErrInvalidInput)
	}

	session := b.detector.NewSession()
	batch := &RevokeBatch{
		Plan:     core.Plan{FeePayer: holder},
		Accounts: make([]core.TokenAccountRef, 0, len(accounts)),
	}
	seen := make(map[types.Pubkey]struct{}, len(accounts))

	for i, account := range accounts {
		if account.IsZero() {
			return nil, fmt.Errorf("%w: account %d is empty", core.ErrInvalidInput, i)
		}
		if _, dup := seen[account]; dup {
			return nil, fmt.Errorf("%w: account %s listed twice", core.ErrInvalidInput, account)
		}
		seen[account] = struct{}{}

		res, err := session.Resolve(ctx, account)
		if err != nil {
			return nil, err
		}
		acc, err := checkHolderAccount(res, holder, nil)
		if err != nil {
			return nil, err
		}

		ix, err := instruction.Revoke(res.OwnerProgramID, account, holder)
		if err != nil {
			return nil, err
		}
		batch.Plan.Add(ix)
		var mint types.Pubkey
		if acc != nil {
			mint = acc.Mint
		}
		batch.Accounts = append(batch.Accounts, res.Ref(mint))
	}

	if err := batch.Plan.CheckLimits(b.limits); err != nil {
		return nil, err
	}
	logger.Infof("[RevokeBuilder] holder=%s accounts=%d", holder, len(accounts))
	return batch, nil
}

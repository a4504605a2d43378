// Package settlement 把多笔已确认的授权合并为一笔由 delegate 签名的划转交易，汇入归集账户。
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/transfer"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// MintSource 提供 mint 精度
type MintSource interface {
	Decimals(ctx context.Context, mint types.Pubkey) (uint8, error)
}

// Batch 已通过校验、尚未提交的结算交易
type Batch struct {
	Plan    core.Plan
	Intents []core.TransferIntent
	Created []types.Pubkey // 本批新建的归集 ATA
}

type Relay struct {
	detector *variant.Detector
	engine   *submit.Engine
	delegate signer.Signer
	mints    MintSource
	owner    types.Pubkey // 归集账户 owner
	limits   core.Limits
}

func NewRelay(
	detector *variant.Detector,
	engine *submit.Engine,
	delegate signer.Signer,
	mints MintSource,
	consolidationOwner types.Pubkey,
	limits core.Limits,
) *Relay {
	return &Relay{
		detector: detector,
		engine:   engine,
		delegate: delegate,
		mints:    mints,
		owner:    consolidationOwner,
		limits:   limits.Normalize(),
	}
}

// Settle 构建并提交一笔原子结算交易：全部划转共享一个签名和 blockhash，要么全部生效，要么全部不生效
func (r *Relay) Settle(ctx context.Context, approvals []core.ManifestEntry) (string, error) {
	_, sig, err := r.SettleBatch(ctx, approvals)
	return sig, err
}

// SettleBatch 同 Settle，额外返回已提交的批次（校验失败时为 nil）
func (r *Relay) SettleBatch(ctx context.Context, approvals []core.ManifestEntry) (*Batch, string, error) {
	batch, err := r.Build(ctx, approvals)
	if err != nil {
		return nil, "", err
	}
	out := r.engine.Submit(ctx, batch.Plan, r.delegate)
	if !out.OK() {
		logger.Errorf("[SettlementRelay] %d transfers failed at %s: %v", len(batch.Intents), out.Stage, out.Err)
		return batch, out.Signature, out.Error()
	}
	logger.Infof("[SettlementRelay] settled %d transfers, created %d accounts, sig=%s (%s)",
		len(batch.Intents), len(batch.Created), out.Signature, out.Kind)
	return batch, out.Signature, nil
}

// Delegate 中继使用的 delegate 公钥
func (r *Relay) Delegate() types.Pubkey {
	return r.delegate.PublicKey()
}

type sourceGroup struct {
	account types.Pubkey
	mint    types.Pubkey
	total   uint64
}

// Build 对每个条目做一次新鲜校验（同一源账户的金额先合并再比对剩余额度），
// 任何一条失败则整批失败，不会产生交易
func (r *Relay) Build(ctx context.Context, approvals []core.ManifestEntry) (*Batch, error) {
	delegate := r.delegate.PublicKey()
	if len(approvals) == 0 {
		return nil, fmt.Errorf("%w: no approvals", core.ErrInvalidInput)
	}
	if r.owner.IsZero() {
		return nil, fmt.Errorf("%w: consolidation owner is not configured", core.ErrInvalidInput)
	}

	groups, err := groupBySource(approvals, delegate)
	if err != nil {
		return nil, err
	}

	sources := make(map[types.Pubkey]*transfer.ValidatedSource, len(groups))
	for _, g := range groups {
		src, err := transfer.ValidateSource(ctx, r.detector, g.account, g.mint, delegate, g.total)
		if err != nil {
			return nil, err
		}
		sources[g.account] = src
	}

	batch := &Batch{Plan: core.Plan{FeePayer: delegate}}
	var creates, transfers []sdktypes.Instruction
	destinations := make(map[types.Pubkey]bool)
	decimals := make(map[types.Pubkey]uint8)

	for _, a := range approvals {
		src := sources[a.Account]
		program := src.Ref.Program
		if !a.Program.IsZero() && a.Program != program {
			logger.Warnf("[SettlementRelay] %s now owned by %s (manifest says %s)", a.Account, program, a.Program)
		}

		dec, ok := decimals[a.Mint]
		if !ok {
			if dec, err = r.mints.Decimals(ctx, a.Mint); err != nil {
				return nil, err
			}
			decimals[a.Mint] = dec
		}

		ata, err := instruction.FindAssociatedTokenAddress(r.owner, a.Mint, program)
		if err != nil {
			return nil, err
		}
		if _, seen := destinations[ata]; !seen {
			exists, err := r.checkDestination(ctx, ata, a.Mint, program)
			if err != nil {
				return nil, err
			}
			if !exists {
				creates = append(creates, instruction.CreateAssociatedAccountIdempotent(delegate, ata, r.owner, a.Mint, program))
				batch.Created = append(batch.Created, ata)
			}
			destinations[ata] = exists
		}

		ix, err := instruction.TransferChecked(program, a.Account, a.Mint, ata, delegate, a.Amount.Uint64(), dec)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, ix)
		batch.Intents = append(batch.Intents, core.TransferIntent{
			Source:      a.Account,
			Mint:        a.Mint,
			Program:     program,
			Amount:      a.Amount.Uint64(),
			Decimals:    dec,
			Destination: ata,
		})
	}

	batch.Plan.Add(creates...)
	batch.Plan.Add(transfers...)
	if err := batch.Plan.CheckLimits(r.limits); err != nil {
		return nil, err
	}
	return batch, nil
}

// checkDestination 归集 ATA 已存在时按目标账户规则校验；不存在返回 false，由本批创建
func (r *Relay) checkDestination(ctx context.Context, ata, mint, program types.Pubkey) (bool, error) {
	res, err := r.detector.Resolve(ctx, ata)
	if errors.Is(err, core.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ref, err := transfer.CheckDestination(res, mint, r.owner)
	if err != nil {
		return false, err
	}
	if ref.Program != program {
		return false, fmt.Errorf("%w: destination %s is owned by %s, expected %s", core.ErrInvalidInput, ata, ref.Program, program)
	}
	return true, nil
}

func groupBySource(approvals []core.ManifestEntry, delegate types.Pubkey) ([]*sourceGroup, error) {
	index := make(map[types.Pubkey]*sourceGroup, len(approvals))
	groups := make([]*sourceGroup, 0, len(approvals))
	for i, a := range approvals {
		if a.Account.IsZero() || a.Mint.IsZero() {
			return nil, fmt.Errorf("%w: approval %d: account and mint are required", core.ErrInvalidInput, i)
		}
		if a.Amount == 0 {
			return nil, fmt.Errorf("%w: approval %d: amount must be positive", core.ErrInvalidInput, i)
		}
		if !a.Delegate.IsZero() && a.Delegate != delegate {
			return nil, fmt.Errorf("%w: approval %d was granted to %s", core.ErrWrongDelegate, i, a.Delegate)
		}
		g, ok := index[a.Account]
		if !ok {
			g = &sourceGroup{account: a.Account, mint: a.Mint}
			index[a.Account] = g
			groups = append(groups, g)
		}
		if g.mint != a.Mint {
			return nil, fmt.Errorf("%w: approval %d: %s listed with mints %s and %s", core.ErrMintMismatch, i, a.Account, g.mint, a.Mint)
		}
		if g.total > math.MaxUint64-a.Amount.Uint64() {
			return nil, fmt.Errorf("%w: approval %d: total amount overflows", core.ErrInvalidInput, i)
		}
		g.total += a.Amount.Uint64()
	}
	return groups, nil
}

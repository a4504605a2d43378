// Package allowance 构建批量 approve / revoke 交易。
package allowance

import (
	"context"
	"fmt"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"
)

// GrantEntry 一条待授权的 (账户, mint, 金额)，金额为最小单位
type GrantEntry struct {
	Account types.Pubkey
	Mint    types.Pubkey
	Amount  uint64
}

// ApprovalBatch 一笔批量 approve 交易及其清单
type ApprovalBatch struct {
	Plan     core.Plan
	Grants   []core.AllowanceGrant
	Manifest []core.ManifestEntry
}

// MarkSubmitted 根据提交结果推进授权状态
func (b *ApprovalBatch) MarkSubmitted(ok bool) {
	state := core.GrantFailed
	if ok {
		state = core.GrantConfirmed
	}
	for i := range b.Grants {
		b.Grants[i].State = state
	}
}

type GrantBuilder struct {
	detector *variant.Detector
	limits   core.Limits
}

func NewGrantBuilder(detector *variant.Detector, limits core.Limits) *GrantBuilder {
	return &GrantBuilder{detector: detector, limits: limits.Normalize()}
}

// BuildApprovalBatch 每个 entry 生成一条 approve 指令（目标为检测出的 owner 程序），
// 全部打包进一笔由 holder 付费签名的交易；超出上限返回 core.ErrBatchTooLarge，不拆分。
func (b *GrantBuilder) BuildApprovalBatch(
	ctx context.Context,
	holder, delegate types.Pubkey,
	entries []GrantEntry,
) (*ApprovalBatch, error) {
	if err := validateGrantEntries(holder, delegate, entries); err != nil {
		return nil, err
	}

	session := b.detector.NewSession()
	batch := &ApprovalBatch{
		Plan:     core.Plan{FeePayer: holder},
		Grants:   make([]core.AllowanceGrant, 0, len(entries)),
		Manifest: make([]core.ManifestEntry, 0, len(entries)),
	}

	for _, e := range entries {
		res, err := session.Resolve(ctx, e.Account)
		if err != nil {
			return nil, err
		}
		if _, err := checkHolderAccount(res, holder, &e.Mint); err != nil {
			return nil, err
		}

		ix, err := instruction.Approve(res.OwnerProgramID, e.Account, delegate, holder, e.Amount)
		if err != nil {
			return nil, err
		}
		batch.Plan.Add(ix)

		grant := core.AllowanceGrant{
			Source:   res.Ref(e.Mint),
			Delegate: delegate,
			Amount:   e.Amount,
			State:    core.GrantProposed,
		}
		batch.Grants = append(batch.Grants, grant)
		batch.Manifest = append(batch.Manifest, grant.ToManifest())
	}

	if err := batch.Plan.CheckLimits(b.limits); err != nil {
		return nil, err
	}
	for i := range batch.Grants {
		batch.Grants[i].State = core.GrantIncluded
	}

	logger.Infof("[GrantBuilder] holder=%s delegate=%s entries=%d", holder, delegate, len(entries))
	return batch, nil
}

func validateGrantEntries(holder, delegate types.Pubkey, entries []GrantEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", core.ErrInvalidInput)
	}
	if holder.IsZero() || delegate.IsZero() {
		return fmt.Errorf("%w: holder and delegate are required", core.ErrInvalidInput)
	}
	seen := make(map[types.Pubkey]struct{}, len(entries))
	for i, e := range entries {
		if e.Account.IsZero() || e.Mint.IsZero() {
			return fmt.Errorf("%w: entry %d: account and mint are required", core.ErrInvalidInput, i)
		}
		if e.Amount == 0 {
			return fmt.Errorf("%w: entry %d: amount must be positive", core.ErrInvalidInput, i)
		}
		if _, dup := seen[e.Account]; dup {
			return fmt.Errorf("%w: entry %d: account %s listed twice", core.ErrInvalidInput, i, e.Account)
		}
		seen[e.Account] = struct{}{}
	}
	return nil
}

// checkHolderAccount 已知 token 程序的账户按标准布局校验 owner 与 mint；
// 未知程序的账户无法解析，原样放行
func checkHolderAccount(res variant.Resolution, holder types.Pubkey, mint *types.Pubkey) (*ledger.TokenAccount, error) {
	if res.Executable {
		return nil, fmt.Errorf("%w: %s is a program account", core.ErrInvalidInput, res.Address)
	}
	if !res.Variant.IsToken() {
		logger.Warnf("[Allowance] %s owned by unregistered program %s, passing through", res.Address, res.OwnerProgramID)
		return nil, nil
	}
	acc, err := ledger.DecodeTokenAccount(res.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a token account: %v", core.ErrInvalidInput, res.Address, err)
	}
	if acc.Owner != holder {
		return nil, fmt.Errorf("%w: %s is owned by %s, not %s", core.ErrInvalidInput, res.Address, acc.Owner, holder)
	}
	if mint != nil && acc.Mint != *mint {
		return nil, fmt.Errorf("%w: %s holds %s, expected %s", core.ErrMintMismatch, res.Address, acc.Mint, *mint)
	}
	return acc, nil
}

package core

import (
	"delegate-relay-sol/internal/types"
)

// Variant 表示 token 账户所属的程序变体。集合是封闭的，未知 owner 统一归为 VariantOther，
// 此时仍可用原始 owner 程序 ID 作为指令目标。
type Variant uint8

const (
	VariantOther    Variant = 0 // 未登记的 owner 程序
	VariantStandard Variant = 1 // SPL Token
	VariantExtended Variant = 2 // Token-2022
)

func (v Variant) String() string {
	switch v {
	case VariantStandard:
		return "standard"
	case VariantExtended:
		return "extended"
	default:
		return "other"
	}
}

// IsToken 已知的 token 程序变体（账户数据可按 SPL token 布局解析）
func (v Variant) IsToken() bool {
	return v == VariantStandard || v == VariantExtended
}

// TokenAccountRef 标识一个持币账户。Program/Variant 在构建任何引用该账户的指令之前必须已解析。
type TokenAccountRef struct {
	Address  types.Pubkey
	Mint     types.Pubkey
	Program  types.Pubkey // owner 程序 ID，即指令的 ProgramID
	Variant  Variant
	Resolved bool
}

// GrantState 授权的生命周期
type GrantState uint8

const (
	GrantProposed  GrantState = iota // 已构建，尚未放入交易
	GrantIncluded                    // 已放入待提交交易
	GrantConfirmed                   // 链上已确认
	GrantFailed                      // 失败或放弃
)

func (s GrantState) String() string {
	switch s {
	case GrantProposed:
		return "proposed"
	case GrantIncluded:
		return "included"
	case GrantConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// AllowanceGrant 一条意向中或已确认的 approve（金额为最小单位整数）
type AllowanceGrant struct {
	Source   TokenAccountRef
	Delegate types.Pubkey
	Amount   uint64
	State    GrantState
}

// ManifestEntry 随批量 approve 一起产出的清单行，可直接交给结算中继使用
type ManifestEntry struct {
	Account  types.Pubkey `json:"account"`
	Mint     types.Pubkey `json:"mint"`
	Program  types.Pubkey `json:"program"`
	Amount   types.Amount `json:"amount"`
	Delegate types.Pubkey `json:"delegate"`
}

// TransferIntent 基于已确认授权的一笔待结算划转，所在交易确认后即可丢弃
type TransferIntent struct {
	Source      types.Pubkey
	Mint        types.Pubkey
	Program     types.Pubkey
	Amount      uint64
	Decimals    uint8
	Destination types.Pubkey
}

// ToManifest 将授权转换为清单行
func (g AllowanceGrant) ToManifest() ManifestEntry {
	return ManifestEntry{
		Account:  g.Source.Address,
		Mint:     g.Source.Mint,
		Program:  g.Source.Program,
		Amount:   types.Amount(g.Amount),
		Delegate: g.Delegate,
	}
}

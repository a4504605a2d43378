package variant

import (
	"context"
	"fmt"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/types"
)

// Resolution 单个账户的变体解析结果
type Resolution struct {
	Address        types.Pubkey
	OwnerProgramID types.Pubkey // 指令目标程序；VariantOther 时原样透传
	Variant        core.Variant
	Executable     bool
	DataLen        int
	Data           []byte // 解析时读到的账户数据，仅在同一次编排内有效
}

// Ref 转换为 TokenAccountRef（mint 由调用方提供）
func (r Resolution) Ref(mint types.Pubkey) core.TokenAccountRef {
	return core.TokenAccountRef{
		Address:  r.Address,
		Mint:     mint,
		Program:  r.OwnerProgramID,
		Variant:  r.Variant,
		Resolved: true,
	}
}

// Detector 程序变体检测器。本身无状态、不缓存；需要缓存时通过 NewSession 获取单次编排内的缓存。
type Detector struct {
	reader   ledger.AccountReader
	registry *Registry
}

func NewDetector(reader ledger.AccountReader, registry *Registry) *Detector {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Detector{reader: reader, registry: registry}
}

// Registry 返回检测器使用的注册表
func (d *Detector) Registry() *Registry {
	return d.registry
}

// Resolve 读取账户并按 owner 归类；账户不存在返回 core.ErrAccountNotFound
func (d *Detector) Resolve(ctx context.Context, account types.Pubkey) (Resolution, error) {
	if account.IsZero() {
		return Resolution{}, fmt.Errorf("%w: empty account address", core.ErrInvalidInput)
	}
	info, err := d.reader.GetAccountInfo(ctx, account)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", account, err)
	}
	if info == nil {
		return Resolution{}, fmt.Errorf("%w: %s", core.ErrAccountNotFound, account)
	}
	return Resolution{
		Address:        account,
		OwnerProgramID: info.Owner,
		Variant:        d.registry.Classify(info.Owner),
		Executable:     info.Executable,
		DataLen:        len(info.Data),
		Data:           info.Data,
	}, nil
}

// Session 单次编排内的解析缓存，不可跨编排复用（账户关闭重建后变体可能变化），非并发安全
type Session struct {
	detector *Detector
	cache    map[types.Pubkey]Resolution
}

func (d *Detector) NewSession() *Session {
	return &Session{
		detector: d,
		cache:    make(map[types.Pubkey]Resolution),
	}
}

// Resolve 命中缓存直接返回，否则委托给 Detector；错误不缓存
func (s *Session) Resolve(ctx context.Context, account types.Pubkey) (Resolution, error) {
	if r, ok := s.cache[account]; ok {
		return r, nil
	}
	r, err := s.detector.Resolve(ctx, account)
	if err != nil {
		return Resolution{}, err
	}
	s.cache[account] = r
	return r, nil
}

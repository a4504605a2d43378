package variant

import (
	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/types"
)

// Registry owner 程序 ID → 变体标签。只登记已知程序，其余一律归为 VariantOther。
type Registry struct {
	known map[types.Pubkey]core.Variant
}

// NewRegistry 创建默认注册表：SPL Token 与 Token-2022
func NewRegistry() *Registry {
	r := &Registry{known: make(map[types.Pubkey]core.Variant, 2)}
	r.Register(consts.TokenProgram, core.VariantStandard)
	r.Register(consts.TokenProgram2022, core.VariantExtended)
	return r
}

// Register 登记一个程序 ID；VariantOther 等价于取消登记
func (r *Registry) Register(program types.Pubkey, v core.Variant) {
	if v == core.VariantOther {
		delete(r.known, program)
		return
	}
	r.known[program] = v
}

// Classify 按 owner 程序 ID 归类，未知 owner 返回 VariantOther
func (r *Registry) Classify(owner types.Pubkey) core.Variant {
	if v, ok := r.known[owner]; ok {
		return v
	}
	return core.VariantOther
}

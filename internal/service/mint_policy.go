package service

import (
	"fmt"
	"os"
	"sync/atomic"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/types"

	"gopkg.in/yaml.v3"
)

// MintRule 白名单中的一个 mint
type MintRule struct {
	Address   string `yaml:"address"`
	Symbol    string `yaml:"symbol"`
	Program   string `yaml:"program"` // 可选，缺省为 SPL Token
	Decimals  uint8  `yaml:"decimals"`
	MaxAmount string `yaml:"max_amount"` // 可选，单笔上限（最小单位）
}

type mintPolicyFile struct {
	AllowAll bool       `yaml:"allow_all"`
	Mints    []MintRule `yaml:"mints"`
}

type compiledRule struct {
	rule      MintRule
	program   types.Pubkey
	maxAmount uint64
}

// MintPolicy 允许结算的 mint 白名单；AllowAll 时不做白名单检查，只校验精度
type MintPolicy struct {
	allowAll bool
	rules    map[types.Pubkey]compiledRule
}

// AllowAllPolicy 未配置策略文件时使用
func AllowAllPolicy() *MintPolicy {
	return &MintPolicy{allowAll: true, rules: map[types.Pubkey]compiledRule{}}
}

func ParseMintPolicy(data []byte) (*MintPolicy, error) {
	var f mintPolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mint policy: %w", err)
	}
	p := &MintPolicy{allowAll: f.AllowAll, rules: make(map[types.Pubkey]compiledRule, len(f.Mints))}
	for i, r := range f.Mints {
		mint, err := types.TryPubkeyFromBase58(r.Address)
		if err != nil {
			return nil, fmt.Errorf("mint policy entry %d: %w", i, err)
		}
		c := compiledRule{rule: r}
		if r.Program != "" {
			if c.program, err = types.TryPubkeyFromBase58(r.Program); err != nil {
				return nil, fmt.Errorf("mint policy entry %d program: %w", i, err)
			}
		}
		if r.MaxAmount != "" {
			if c.maxAmount, err = types.ParseAmount(r.MaxAmount); err != nil {
				return nil, fmt.Errorf("mint policy entry %d max_amount: %w", i, err)
			}
		}
		p.rules[mint] = c
	}
	return p, nil
}

func LoadMintPolicy(path string) (*MintPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mint policy %s: %w", path, err)
	}
	return ParseMintPolicy(data)
}

// Check 校验 mint 是否允许、精度是否与登记一致、金额是否超限
func (p *MintPolicy) Check(mint types.Pubkey, decimals uint8, amount uint64) error {
	c, ok := p.rules[mint]
	if !ok {
		if p.allowAll {
			return nil
		}
		return fmt.Errorf("%w: mint %s is not allowed", core.ErrInvalidInput, mint)
	}
	if c.rule.Decimals != decimals {
		return fmt.Errorf("%w: mint %s has %d decimals, request says %d", core.ErrInvalidInput, mint, c.rule.Decimals, decimals)
	}
	if c.maxAmount > 0 && amount > c.maxAmount {
		return fmt.Errorf("%w: amount %d exceeds limit %d for %s", core.ErrInvalidInput, amount, c.maxAmount, mint)
	}
	return nil
}

// Known 白名单中的 mint 信息，用于预热 MintCache
func (p *MintPolicy) Known() map[string]cache.MintInfo {
	out := make(map[string]cache.MintInfo, len(p.rules))
	for mint, c := range p.rules {
		if c.program.IsZero() {
			continue // 程序未登记时让 MintCache 从链上读取
		}
		out[mint.String()] = cache.MintInfo{Decimals: c.rule.Decimals, Program: c.program}
	}
	return out
}

// PolicyHolder 可热更新的策略引用
type PolicyHolder struct {
	p atomic.Pointer[MintPolicy]
}

func NewPolicyHolder(p *MintPolicy) *PolicyHolder {
	h := &PolicyHolder{}
	h.Store(p)
	return h
}

func (h *PolicyHolder) Load() *MintPolicy {
	return h.p.Load()
}

func (h *PolicyHolder) Store(p *MintPolicy) {
	if p == nil {
		p = AllowAllPolicy()
	}
	h.p.Store(p)
}

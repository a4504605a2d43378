package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYaml = `
mints:
  - address: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
    symbol: USDC
    program: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
    decimals: 6
    max_amount: "1000000000"
  - address: Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB
    symbol: USDT
    decimals: 6
`

func TestMintPolicyCheck(t *testing.T) {
	p, err := ParseMintPolicy([]byte(policyYaml))
	require.NoError(t, err)

	assert.NoError(t, p.Check(consts.USDCMint, 6, 1_000_000))
	assert.NoError(t, p.Check(consts.USDTMint, 6, 5_000_000_000))
	assert.ErrorIs(t, p.Check(consts.USDCMint, 9, 1), core.ErrInvalidInput)
	assert.ErrorIs(t, p.Check(consts.USDCMint, 6, 1_000_000_001), core.ErrInvalidInput)
	assert.ErrorIs(t, p.Check(consts.WSOLMint, 9, 1), core.ErrInvalidInput)

	known := p.Known()
	assert.Len(t, known, 1)
	assert.Equal(t, cache.MintInfo{Decimals: 6, Program: consts.TokenProgram}, known[consts.USDCMintStr])
}

func TestMintPolicyAllowAll(t *testing.T) {
	p := AllowAllPolicy()
	assert.NoError(t, p.Check(consts.WSOLMint, 9, 1))

	p, err := ParseMintPolicy([]byte("allow_all: true\nmints:\n  - address: " + consts.USDCMintStr + "\n    decimals: 6\n"))
	require.NoError(t, err)
	assert.NoError(t, p.Check(consts.WSOLMint, 9, 1))
	// 已登记的 mint 仍校验精度
	assert.ErrorIs(t, p.Check(consts.USDCMint, 9, 1), core.ErrInvalidInput)
}

func TestParseMintPolicyErrors(t *testing.T) {
	_, err := ParseMintPolicy([]byte("mints:\n  - address: not-a-key\n"))
	assert.Error(t, err)
	_, err = ParseMintPolicy([]byte("mints:\n  - address: " + consts.USDCMintStr + "\n    max_amount: \"1.5\"\n"))
	assert.Error(t, err)
	_, err = ParseMintPolicy([]byte("mints: [\n"))
	assert.Error(t, err)
}

func TestPolicyHolderNilFallsBackToAllowAll(t *testing.T) {
	h := NewPolicyHolder(nil)
	assert.NoError(t, h.Load().Check(consts.WSOLMint, 9, 1))
}

func TestPolicyReloadServiceReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mint_policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mints: []\n"), 0o644))

	p, err := LoadMintPolicy(path)
	require.NoError(t, err)
	holder := NewPolicyHolder(p)
	fake := ledgertest.New()
	fake.SetMint(consts.USDCMint, consts.TokenProgram, 6)
	mints := cache.NewMintCache(fake)
	svc := NewPolicyReloadService(path, time.Second, holder, mints)

	assert.False(t, svc.reloadIfChanged())
	assert.ErrorIs(t, holder.Load().Check(consts.USDCMint, 6, 1), core.ErrInvalidInput)

	require.NoError(t, os.WriteFile(path, []byte(policyYaml), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	assert.True(t, svc.reloadIfChanged())
	assert.NoError(t, holder.Load().Check(consts.USDCMint, 6, 1))

	// 策略声明与链上一致
	info, err := mints.Get(context.Background(), consts.USDCMint)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), info.Decimals)
	assert.Equal(t, consts.TokenProgram, info.Program)

	// 非法内容保留旧策略
	require.NoError(t, os.WriteFile(path, []byte("mints: [\n"), 0o644))
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.False(t, svc.reloadIfChanged())
	assert.NoError(t, holder.Load().Check(consts.USDCMint, 6, 1))
}

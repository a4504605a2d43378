package settlement

import (
	"context"
	"testing"
	"time"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/ledger/ledgertest"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	p[31] = 0xE4
	return p
}

var (
	holder = key(100)
	vault  = key(101)
	mintX  = key(110)
	mintY  = key(111)
)

type fixture struct {
	fake     *ledgertest.Fake
	delegate *signer.KeypairSigner
	relay    *Relay
}

func newFixture(t *testing.T, limits core.Limits) *fixture {
	t.Helper()
	fake := ledgertest.New()
	d := signer.Generate()
	fake.SetMint(mintX, consts.TokenProgram, 6)
	fake.SetMint(mintY, consts.TokenProgram2022, 9)

	det := variant.NewDetector(fake, nil)
	engine := submit.NewEngine(fake, submit.Option{PollInterval: 2 * time.Millisecond})
	return &fixture{
		fake:     fake,
		delegate: d,
		relay:    NewRelay(det, engine, d, cache.NewMintCache(fake), vault, limits),
	}
}

func (f *fixture) approved(account, mint, program types.Pubkey, allowance uint64) core.ManifestEntry {
	dk := f.delegate.PublicKey()
	f.fake.SetTokenAccount(account, program, ledgertest.TokenAccountFields{
		Mint: mint, Owner: holder, Amount: allowance, Delegate: &dk, DelegatedAmount: allowance,
	})
	return core.ManifestEntry{Account: account, Mint: mint, Program: program, Amount: types.Amount(allowance), Delegate: dk}
}

func ata(t *testing.T, mint, program types.Pubkey) types.Pubkey {
	a, err := instruction.FindAssociatedTokenAddress(vault, mint, program)
	require.NoError(t, err)
	return a
}

func TestSettleOneAtomicTransaction(t *testing.T) {
	f := newFixture(t, core.DefaultLimits())
	ataX := ata(t, mintX, consts.TokenProgram)
	f.fake.SetTokenAccount(ataX, consts.TokenProgram, ledgertest.TokenAccountFields{Mint: mintX, Owner: vault})

	approvals := []core.ManifestEntry{
		f.approved(key(1), mintX, consts.TokenProgram, 1_000_000),
		f.approved(key(2), mintY, consts.TokenProgram2022, 500_000),
		f.approved(key(3), mintX, consts.TokenProgram, 42),
	}

	batch, err := f.relay.Build(context.Background(), approvals)
	require.NoError(t, err)
	ataY := ata(t, mintY, consts.TokenProgram2022)
	assert.Equal(t, []types.Pubkey{ataY}, batch.Created)
	// 1 条建户 + 3 条划转，建户在前
	require.Len(t, batch.Plan.Instructions, 4)
	assert.Equal(t, consts.AssociatedTokenProgram.Common(), batch.Plan.Instructions[0].ProgramID)

	var decimals []uint8
	for _, ix := range batch.Plan.Instructions[1:] {
		p, err := instruction.ParseTransferChecked(ix)
		require.NoError(t, err)
		assert.Equal(t, f.delegate.PublicKey(), p.Authority)
		decimals = append(decimals, p.Decimals)
	}
	assert.Equal(t, []uint8{6, 9, 6}, decimals)
	assert.Equal(t, ataY, batch.Intents[1].Destination)
	assert.Equal(t, consts.TokenProgram2022, batch.Intents[1].Program)

	sig, err := f.relay.Settle(context.Background(), approvals)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	landed := f.fake.Landed()
	require.Len(t, landed, 1)
	assert.Equal(t, uint8(1), landed[sig].Message.Header.NumRequireSignatures)
}

func TestSettleAnyInvalidEntryAbortsBatch(t *testing.T) {
	f := newFixture(t, core.DefaultLimits())
	good := f.approved(key(1), mintX, consts.TokenProgram, 1_000_000)
	bad := f.approved(key(2), mintX, consts.TokenProgram, 1_000_000)
	dk := f.delegate.PublicKey()
	f.fake.SetDelegation(key(2), &dk, 999_999)

	_, err := f.relay.Settle(context.Background(), []core.ManifestEntry{good, bad})
	assert.ErrorIs(t, err, core.ErrInsufficientAllowance)
	assert.Equal(t, 0, f.fake.SendCalls())
	assert.Empty(t, f.fake.Landed())
}

func TestSettleSumsAmountsPerSource(t *testing.T) {
	f := newFixture(t, core.DefaultLimits())
	e := f.approved(key(1), mintX, consts.TokenProgram, 1_000)
	e.Amount = 600

	_, err := f.relay.Build(context.Background(), []core.ManifestEntry{e, e})
	assert.ErrorIs(t, err, core.ErrInsufficientAllowance)

	e.Amount = 500
	batch, err := f.relay.Build(context.Background(), []core.ManifestEntry{e, e})
	require.NoError(t, err)
	// 同一 ATA 只创建一次
	assert.Len(t, batch.Created, 1)
	assert.Len(t, batch.Plan.Instructions, 3)
}

func TestSettleValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, core.DefaultLimits())
		_, err := f.relay.Settle(ctx, nil)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("granted to someone else", func(t *testing.T) {
		f := newFixture(t, core.DefaultLimits())
		e := f.approved(key(1), mintX, consts.TokenProgram, 10)
		e.Delegate = key(50)
		_, err := f.relay.Settle(ctx, []core.ManifestEntry{e})
		assert.ErrorIs(t, err, core.ErrWrongDelegate)
	})

	t.Run("revoked on ledger", func(t *testing.T) {
		f := newFixture(t, core.DefaultLimits())
		e := f.approved(key(1), mintX, consts.TokenProgram, 10)
		f.fake.SetDelegation(key(1), nil, 0)
		_, err := f.relay.Settle(ctx, []core.ManifestEntry{e})
		assert.ErrorIs(t, err, core.ErrNotDelegated)
	})

	t.Run("existing destination with wrong mint", func(t *testing.T) {
		f := newFixture(t, core.DefaultLimits())
		e := f.approved(key(1), mintX, consts.TokenProgram, 10)
		f.fake.SetTokenAccount(ata(t, mintX, consts.TokenProgram), consts.TokenProgram, ledgertest.TokenAccountFields{Mint: mintY, Owner: vault})
		_, err := f.relay.Settle(ctx, []core.ManifestEntry{e})
		assert.ErrorIs(t, err, core.ErrDestinationMintMismatch)
		assert.Equal(t, 0, f.fake.SendCalls())
	})

	t.Run("same account with two mints", func(t *testing.T) {
		f := newFixture(t, core.DefaultLimits())
		e := f.approved(key(1), mintX, consts.TokenProgram, 10)
		other := e
		other.Mint = mintY
		_, err := f.relay.Settle(ctx, []core.ManifestEntry{e, other})
		assert.ErrorIs(t, err, core.ErrMintMismatch)
	})
}

func TestSettleBatchTooLarge(t *testing.T) {
	f := newFixture(t, core.Limits{MaxInstructions: 4})
	var approvals []core.ManifestEntry
	for i := byte(1); i <= 4; i++ {
		approvals = append(approvals, f.approved(key(i), mintX, consts.TokenProgram, 10))
	}
	_, err := f.relay.Settle(context.Background(), approvals)
	assert.ErrorIs(t, err, core.ErrBatchTooLarge)
	assert.Equal(t, 0, f.fake.SendCalls())
}

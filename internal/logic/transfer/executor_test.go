package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

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
	p[31] = 0x91
	return p
}

var (
	holder = key(100)
	vault  = key(101)
	mintX  = key(110)
	mintY  = key(111)
	src    = key(1)
	dst    = key(2)
)

type fixture struct {
	fake     *ledgertest.Fake
	delegate *signer.KeypairSigner
	executor *Executor
	detector *variant.Detector
}

func newFixture(allowance uint64) *fixture {
	fake := ledgertest.New()
	d := signer.Generate()
	dk := d.PublicKey()
	fake.SetTokenAccount(src, consts.TokenProgram, ledgertest.TokenAccountFields{
		Mint: mintX, Owner: holder, Amount: 5_000_000, Delegate: &dk, DelegatedAmount: allowance,
	})
	fake.SetTokenAccount(dst, consts.TokenProgram, ledgertest.TokenAccountFields{Mint: mintX, Owner: vault})

	det := variant.NewDetector(fake, nil)
	engine := submit.NewEngine(fake, submit.Option{PollInterval: 2 * time.Millisecond})
	return &fixture{
		fake:     fake,
		delegate: d,
		detector: det,
		executor: NewExecutor(det, engine, d, core.DefaultLimits()),
	}
}

func request(amount uint64) TransferRequest {
	return TransferRequest{Source: src, Destination: dst, Mint: mintX, Amount: amount, Decimals: 6}
}

func TestExecuteTransfersWithinAllowance(t *testing.T) {
	f := newFixture(1_000_000)

	sig, err := f.executor.Execute(context.Background(), request(1_000_000))
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	landed := f.fake.Landed()
	require.Len(t, landed, 1)
	tx := landed[sig]
	require.Len(t, tx.Message.Instructions, 1)

	// 交易只需要 delegate 一个签名
	assert.Equal(t, uint8(1), tx.Message.Header.NumRequireSignatures)
	assert.Equal(t, f.delegate.PublicKey().Common(), tx.Message.Accounts[0])
}

func TestExecuteBuildsCheckedTransfer(t *testing.T) {
	f := newFixture(1_000_000)
	sig, err := f.executor.Execute(context.Background(), request(10))
	require.NoError(t, err)

	tx := f.fake.Landed()[sig]
	compiled := tx.Message.Instructions[0]
	accounts := make([]types.Pubkey, 0, len(compiled.Accounts))
	for _, idx := range compiled.Accounts {
		accounts = append(accounts, types.FromCommon(tx.Message.Accounts[idx]))
	}
	assert.Equal(t, []types.Pubkey{src, mintX, dst, f.delegate.PublicKey()}, accounts)
	assert.Equal(t, consts.TokenProgram.Common(), tx.Message.Accounts[compiled.ProgramIDIndex])

	ix, err := instruction.TransferChecked(consts.TokenProgram, src, mintX, dst, f.delegate.PublicKey(), 10, 6)
	require.NoError(t, err)
	assert.Equal(t, ix.Data, compiled.Data)
	captured, err := instruction.ParseTransferChecked(ix)
	require.NoError(t, err)
	assert.Equal(t, consts.TokenProgram, captured.Program)
	assert.Equal(t, f.delegate.PublicKey(), captured.Authority)
	assert.Equal(t, uint8(6), captured.Decimals)
}

func TestExecuteInsufficientAllowanceUsesLiveRecord(t *testing.T) {
	f := newFixture(1_000_000)
	ctx := context.Background()

	// 之前的读取显示额度充足
	_, err := ValidateSource(ctx, f.detector, src, mintX, f.delegate.PublicKey(), 1_000_000)
	require.NoError(t, err)

	// holder 在链外部分消耗了额度
	dk := f.delegate.PublicKey()
	f.fake.SetDelegation(src, &dk, 999_999)

	_, err = f.executor.Execute(ctx, request(1_000_000))
	assert.ErrorIs(t, err, core.ErrInsufficientAllowance)
	assert.Equal(t, 0, f.fake.SendCalls())
}

func TestExecuteWrongDelegateRegardlessOfAmount(t *testing.T) {
	f := newFixture(0)
	other := key(77)
	f.fake.SetDelegation(src, &other, 1<<60)

	_, err := f.executor.Execute(context.Background(), request(1))
	assert.ErrorIs(t, err, core.ErrWrongDelegate)
	assert.Equal(t, 0, f.fake.SendCalls())
}

func TestExecuteValidationOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked", func(t *testing.T) {
		f := newFixture(1_000)
		f.fake.SetDelegation(src, nil, 0)
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrNotDelegated)
	})

	t.Run("source missing", func(t *testing.T) {
		f := newFixture(1_000)
		f.fake.RemoveAccount(src)
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrAccountNotFound)
	})

	t.Run("source mint mismatch wins over allowance", func(t *testing.T) {
		f := newFixture(0)
		req := request(1)
		req.Mint = mintY
		_, err := f.executor.Execute(ctx, req)
		assert.ErrorIs(t, err, core.ErrMintMismatch)
	})

	t.Run("frozen source", func(t *testing.T) {
		f := newFixture(1_000)
		dk := f.delegate.PublicKey()
		f.fake.SetTokenAccount(src, consts.TokenProgram, ledgertest.TokenAccountFields{
			Mint: mintX, Owner: holder, Delegate: &dk, DelegatedAmount: 1_000, Frozen: true,
		})
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("destination missing is not created", func(t *testing.T) {
		f := newFixture(1_000)
		f.fake.RemoveAccount(dst)
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrAccountNotFound)
		assert.Equal(t, 0, f.fake.SendCalls())
	})

	t.Run("destination mint mismatch", func(t *testing.T) {
		f := newFixture(1_000)
		f.fake.SetTokenAccount(dst, consts.TokenProgram, ledgertest.TokenAccountFields{Mint: mintY, Owner: vault})
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrDestinationMintMismatch)
	})

	t.Run("destination under other token program", func(t *testing.T) {
		f := newFixture(1_000)
		f.fake.SetTokenAccount(dst, consts.TokenProgram2022, ledgertest.TokenAccountFields{Mint: mintX, Owner: vault})
		_, err := f.executor.Execute(ctx, request(1))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("bad request", func(t *testing.T) {
		f := newFixture(1_000)
		_, err := f.executor.Execute(ctx, request(0))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		req := request(1)
		req.Destination = src
		_, err = f.executor.Execute(ctx, req)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestExecuteSubmissionFailure(t *testing.T) {
	f := newFixture(1_000)
	f.fake.SendErr = errors.New("node is behind")

	_, err := f.executor.Execute(context.Background(), request(1))
	assert.ErrorIs(t, err, core.ErrSubmissionFailed)
	assert.False(t, core.IsValidation(err))
}

func TestExecuteDestinationOwner(t *testing.T) {
	t.Run("matching owner", func(t *testing.T) {
		f := newFixture(1_000)
		req := request(1)
		req.DestinationOwner = vault
		sig, err := f.executor.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Contains(t, f.fake.Landed(), sig)
	})

	t.Run("foreign owner", func(t *testing.T) {
		f := newFixture(1_000)
		req := request(1)
		req.DestinationOwner = key(77)
		_, err := f.executor.Execute(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Contains(t, err.Error(), "belongs to")
		assert.Equal(t, 0, f.fake.SendCalls())
	})
}

func TestExecuteUnresolvedSubmissionCarriesSignature(t *testing.T) {
	f := newFixture(1_000)
	f.fake.SendErr = errors.New("connection reset")

	sig, err := f.executor.Execute(context.Background(), request(1))
	require.Error(t, err)
	var se *submit.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Unresolved())
	assert.Equal(t, sig, se.Signature)
	assert.NotZero(t, se.LastValidBlockHeight)
}

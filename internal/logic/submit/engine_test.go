package submit

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
	"delegate-relay-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	p[31] = 0x7C
	return p
}

func approvePlan(t *testing.T, feePayer, owner types.Pubkey) core.Plan {
	ix, err := instruction.Approve(consts.TokenProgram, key(1), key(2), owner, 1_000)
	require.NoError(t, err)
	plan := core.Plan{FeePayer: feePayer}
	plan.Add(ix)
	return plan
}

func newEngine(fake *ledgertest.Fake) *Engine {
	return NewEngine(fake, Option{PollInterval: 2 * time.Millisecond})
}

func TestSubmitConfirmed(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	out := e.Submit(context.Background(), approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	require.True(t, out.OK(), "outcome: %+v", out)
	assert.Equal(t, OutcomeConfirmed, out.Kind)
	assert.NoError(t, out.Error())

	landed := fake.Landed()
	require.Len(t, landed, 1)
	_, ok := landed[out.Signature]
	assert.True(t, ok)
}

func TestSubmitMultipleSigners(t *testing.T) {
	fake := ledgertest.New()
	payer, holder := signer.Generate(), signer.Generate()
	e := newEngine(fake)
	plan := approvePlan(t, payer.PublicKey(), holder.PublicKey())

	assert.Equal(t, []types.Pubkey{payer.PublicKey(), holder.PublicKey()}, plan.RequiredSigners())

	out := e.Submit(context.Background(), plan, payer)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageSign, out.Stage)
	assert.ErrorIs(t, out.Error(), core.ErrInvalidInput)
	assert.ErrorIs(t, out.Error(), core.ErrSubmissionFailed)
	assert.Equal(t, 0, fake.SendCalls())

	out = e.Submit(context.Background(), plan, holder, payer)
	require.True(t, out.OK(), "outcome: %+v", out)
	assert.Equal(t, 1, fake.SendCalls())
}

// 首次提交已上链但响应丢失，重发同一笔交易得到 AlreadyProcessed 且签名不变，链上只有一次效果
func TestResendAfterLostAckIsAlreadyProcessed(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)
	ctx := context.Background()

	signed, err := e.Sign(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	require.NoError(t, err)

	fake.DropAck = true
	first := e.Send(ctx, signed)
	assert.Equal(t, OutcomeFailed, first.Kind)
	assert.Equal(t, StageSend, first.Stage)
	assert.ErrorIs(t, first.Err, ledgertest.ErrAckLost)

	second := e.Send(ctx, signed)
	require.True(t, second.OK(), "outcome: %+v", second)
	assert.Equal(t, OutcomeAlreadyProcessed, second.Kind)
	assert.Equal(t, signed.Signature, second.Signature)
	assert.Len(t, fake.Landed(), 1)
}

func TestResendOfConfirmedTx(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)
	ctx := context.Background()

	signed, err := e.Sign(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	require.NoError(t, err)

	first := e.Send(ctx, signed)
	require.Equal(t, OutcomeConfirmed, first.Kind)
	second := e.Send(ctx, signed)
	assert.Equal(t, OutcomeAlreadyProcessed, second.Kind)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Len(t, fake.Landed(), 1)
}

func TestAlreadyProcessedWithExecutionError(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)
	ctx := context.Background()

	signed, err := e.Sign(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	require.NoError(t, err)

	fake.DropAck = true
	fake.ExecErr = "custom program error: 0x1"
	_ = e.Send(ctx, signed)

	out := e.Send(ctx, signed)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageExecution, out.Stage)
}

func TestSendRejected(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	fake.SendErr = errors.New("Transaction simulation failed: insufficient funds for fee")
	out := e.Submit(context.Background(), approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageSend, out.Stage)
	assert.Empty(t, fake.Landed())
}

func TestExecutionErrorIsDistinctFromSendFailure(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	fake.ExecErr = `{"InstructionError":[0,{"Custom":1}]}`
	out := e.Submit(context.Background(), approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageExecution, out.Stage)
	assert.NotEmpty(t, out.Signature)
	assert.Len(t, fake.Landed(), 1)
}

func TestExpiredBeforeSend(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)
	ctx := context.Background()

	signed, err := e.Sign(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	require.NoError(t, err)

	fake.SetHeight(signed.LastValidBlockHeight + 1)
	out := e.Send(ctx, signed)
	assert.Equal(t, StageExpired, out.Stage)
	assert.Equal(t, 0, fake.SendCalls())
}

func TestConfirmationExpires(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	fake.DropTx = true
	fake.HeightStep = 100
	out := e.Submit(context.Background(), approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageExpired, out.Stage)
	assert.Empty(t, fake.Landed())

	var se *SubmissionError
	require.ErrorAs(t, out.Error(), &se)
	assert.False(t, se.Unresolved())
}

func TestLandedButUnconfirmedIsNotExpired(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	fake.HoldConfirm = true
	fake.HeightStep = 100
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := e.Submit(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, StageConfirm, out.Stage)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.NotZero(t, out.LastValidBlockHeight)

	var se *SubmissionError
	require.ErrorAs(t, out.Error(), &se)
	assert.True(t, se.Unresolved())
	assert.Equal(t, out.Signature, se.Signature)
}

func TestStatusErrorStopsPastValidHeight(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	statusErr := errors.New("rpc unavailable")
	fake.StatusErr = statusErr
	fake.HeightStep = 100
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := e.Submit(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, StageConfirm, out.Stage)
	assert.ErrorIs(t, out.Err, statusErr)
	assert.NotErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.NoError(t, ctx.Err())
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed", func(t *testing.T) {
		fake := ledgertest.New()
		holder := signer.Generate()
		e := newEngine(fake)
		fake.HoldConfirm = true
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		out := e.Submit(short, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
		require.Equal(t, StageConfirm, out.Stage)

		res, err := e.Resolve(ctx, out.Signature, out.LastValidBlockHeight)
		require.NoError(t, err)
		assert.Equal(t, StageConfirm, res.Stage)
		assert.ErrorIs(t, res.Err, ErrUnresolved)

		fake.ReleaseConfirm()
		res, err = e.Resolve(ctx, out.Signature, out.LastValidBlockHeight)
		require.NoError(t, err)
		assert.True(t, res.OK())
		assert.Equal(t, out.Signature, res.Signature)
	})

	t.Run("not landed", func(t *testing.T) {
		fake := ledgertest.New()
		holder := signer.Generate()
		e := newEngine(fake)
		fake.SendErr = errors.New("connection reset")
		out := e.Submit(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
		require.Equal(t, StageSend, out.Stage)

		res, err := e.Resolve(ctx, out.Signature, out.LastValidBlockHeight)
		require.NoError(t, err)
		assert.Equal(t, StageSend, res.Stage)
		assert.ErrorIs(t, res.Err, ErrUnresolved)

		fake.SetHeight(out.LastValidBlockHeight + 1)
		res, err = e.Resolve(ctx, out.Signature, out.LastValidBlockHeight)
		require.NoError(t, err)
		assert.Equal(t, StageExpired, res.Stage)
		assert.False(t, res.Error().(*SubmissionError).Unresolved())
	})

	t.Run("execution failed", func(t *testing.T) {
		fake := ledgertest.New()
		holder := signer.Generate()
		e := newEngine(fake)
		fake.ExecErr = `{"InstructionError":[0,{"Custom":1}]}`
		out := e.Submit(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
		require.Equal(t, StageExecution, out.Stage)

		res, err := e.Resolve(ctx, out.Signature, out.LastValidBlockHeight)
		require.NoError(t, err)
		assert.Equal(t, StageExecution, res.Stage)
	})

	t.Run("status error", func(t *testing.T) {
		fake := ledgertest.New()
		e := newEngine(fake)
		fake.StatusErr = errors.New("rpc unavailable")
		_, err := e.Resolve(ctx, "sig", 2000)
		assert.Error(t, err)
	})
}

func TestSubmissionErrorMatchesSentinel(t *testing.T) {
	err := failed("sig", StageSend, ErrUnresolved).Error()
	assert.ErrorIs(t, err, core.ErrSubmissionFailed)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Contains(t, err.Error(), "send")
}

func TestConfirmationCancelled(t *testing.T) {
	fake := ledgertest.New()
	holder := signer.Generate()
	e := newEngine(fake)

	fake.HoldConfirm = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out := e.Submit(ctx, approvePlan(t, holder.PublicKey(), holder.PublicKey()), holder)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, StageConfirm, out.Stage)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestSignRejectsEmptyPlan(t *testing.T) {
	e := newEngine(ledgertest.New())
	_, err := e.Sign(context.Background(), core.Plan{FeePayer: key(1)})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

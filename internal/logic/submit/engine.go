package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/mr-tron/base58"
)

var errNotYetConfirmed = errors.New("transaction not yet confirmed")

type Option struct {
	PollInterval time.Duration
	Commitment   ledger.Commitment
}

// Engine 签名、提交并等待确认。除"已处理"歧义的一次状态查询外，不做任何自动重发。
type Engine struct {
	client       ledger.Client
	pollInterval time.Duration
	commitment   ledger.Commitment
}

func NewEngine(client ledger.Client, opt Option) *Engine {
	if opt.PollInterval <= 0 {
		opt.PollInterval = consts.DefaultConfirmPollInterval
	}
	if opt.Commitment == "" {
		opt.Commitment = ledger.CommitmentConfirmed
	}
	return &Engine{
		client:       client,
		pollInterval: opt.PollInterval,
		commitment:   opt.Commitment,
	}
}

// Submit = Sign + Send
func (e *Engine) Submit(ctx context.Context, plan core.Plan, signers ...signer.Signer) Outcome {
	signed, err := e.Sign(ctx, plan, signers...)
	if err != nil {
		return failed("", StageSign, err)
	}
	return e.Send(ctx, signed)
}

// Sign 绑定最新 blockhash 并由所需签名者签名
func (e *Engine) Sign(ctx context.Context, plan core.Plan, signers ...signer.Signer) (*SignedTx, error) {
	if len(plan.Instructions) == 0 || plan.FeePayer.IsZero() {
		return nil, fmt.Errorf("%w: plan requires fee payer and instructions", core.ErrInvalidInput)
	}
	byKey := make(map[types.Pubkey]signer.Signer, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}

	bh, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	msg := plan.Message(bh.Hash)
	raw, err := msg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}

	n := int(msg.Header.NumRequireSignatures)
	sigs := make([]sdktypes.Signature, 0, n)
	for i := 0; i < n; i++ {
		key := types.FromCommon(msg.Accounts[i])
		s, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing signer %s", core.ErrInvalidInput, key)
		}
		sig, err := s.SignMessage(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("sign by %s: %w", key, err)
		}
		if len(sig) != consts.SignatureSize {
			return nil, fmt.Errorf("sign by %s: unexpected signature length %d", key, len(sig))
		}
		sigs = append(sigs, sig)
	}

	return &SignedTx{
		Tx:                   sdktypes.Transaction{Signatures: sigs, Message: msg},
		Signature:            base58.Encode(sigs[0]),
		Blockhash:            bh.Hash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}

// Send 提交已签名交易并等待确认。同一个 SignedTx 可安全重发：已上链时得到 AlreadyProcessed。
func (e *Engine) Send(ctx context.Context, signed *SignedTx) Outcome {
	out := e.send(ctx, signed)
	out.LastValidBlockHeight = signed.LastValidBlockHeight
	return out
}

func (e *Engine) send(ctx context.Context, signed *SignedTx) Outcome {
	sig := signed.Signature

	height, err := e.client.GetBlockHeight(ctx)
	if err != nil {
		return failed(sig, StageSend, fmt.Errorf("get block height: %w", err))
	}
	if height > signed.LastValidBlockHeight {
		return failed(sig, StageExpired, fmt.Errorf("blockhash expired: height %d > last valid %d", height, signed.LastValidBlockHeight))
	}

	got, err := e.client.SendTransaction(ctx, signed.Tx)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			return e.disambiguate(ctx, sig, err)
		}
		logger.Warnf("[SubmitEngine] send %s failed: %v", sig, err)
		return failed(sig, StageSend, err)
	}
	if got != "" && got != sig {
		logger.Warnf("[SubmitEngine] node returned signature %s, expected %s", got, sig)
	}
	return e.confirm(ctx, signed)
}

// disambiguate 节点报告重复提交时，按交易自带的签名查询链上状态
func (e *Engine) disambiguate(ctx context.Context, sig string, sendErr error) Outcome {
	st, err := e.client.GetSignatureStatus(ctx, sig)
	if err != nil {
		return failed(sig, StageSend, errors.Join(sendErr, fmt.Errorf("status lookup: %w", err)))
	}
	if st == nil {
		return failed(sig, StageSend, sendErr)
	}
	if st.Err != "" {
		return failed(sig, StageExecution, fmt.Errorf("transaction %s failed: %s", sig, st.Err))
	}
	logger.Infof("[SubmitEngine] %s already processed at slot %d", sig, st.Slot)
	return alreadyProcessed(sig)
}

// confirm 轮询签名状态直至达到目标确认级别，或区块高度超过 blockhash 有效上限且交易未上链。
// 每轮先取高度再查状态：高度已超限后才查到的"不存在"才能断定交易不会再上链。
func (e *Engine) confirm(ctx context.Context, signed *SignedTx) Outcome {
	sig := signed.Signature
	limit := signed.LastValidBlockHeight
	var out Outcome

	op := func() error {
		height, heightErr := e.client.GetBlockHeight(ctx)
		st, err := e.client.GetSignatureStatus(ctx, sig)
		if err != nil {
			if heightErr == nil && height > limit {
				// 状态查不到又已过期，结果只能留给调用方稍后核实
				out = failed(sig, StageConfirm, fmt.Errorf("status unknown past height %d: %w", limit, err))
				return nil
			}
			return err
		}
		if st != nil {
			if st.Err != "" {
				out = failed(sig, StageExecution, fmt.Errorf("transaction %s failed: %s", sig, st.Err))
				return nil
			}
			if st.ConfirmationStatus.Reaches(e.commitment) {
				out = confirmed(sig)
				return nil
			}
			// 已上链未确认：即使高度超限也继续等待
			return errNotYetConfirmed
		}
		if heightErr != nil {
			return heightErr
		}
		if height > limit {
			out = failed(sig, StageExpired, fmt.Errorf("not landed before height %d", limit))
			return nil
		}
		return errNotYetConfirmed
	}

	notify := func(err error, _ time.Duration) {
		if !errors.Is(err, errNotYetConfirmed) {
			logger.Warnf("[SubmitEngine] poll %s: %v", sig, err)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(e.pollInterval), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return failed(sig, StageConfirm, err)
	}
	return out
}

// Resolve 核实一笔此前结果不明的交易：
// 已确认返回成功；执行失败返回 StageExecution；高度超过 lastValid 且未上链返回 StageExpired（可以重建）；
// 其余情况返回 Err 为 ErrUnresolved 的失败结果。查询本身失败时返回 error。
func (e *Engine) Resolve(ctx context.Context, sig string, lastValid uint64) (Outcome, error) {
	height, err := e.client.GetBlockHeight(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("get block height: %w", err)
	}
	st, err := e.client.GetSignatureStatus(ctx, sig)
	if err != nil {
		return Outcome{}, fmt.Errorf("status lookup %s: %w", sig, err)
	}

	var out Outcome
	switch {
	case st != nil && st.Err != "":
		out = failed(sig, StageExecution, fmt.Errorf("transaction %s failed: %s", sig, st.Err))
	case st != nil && st.ConfirmationStatus.Reaches(e.commitment):
		out = confirmed(sig)
	case st != nil:
		out = failed(sig, StageConfirm, ErrUnresolved)
	case height > lastValid:
		out = failed(sig, StageExpired, fmt.Errorf("not landed before height %d", lastValid))
	default:
		out = failed(sig, StageSend, fmt.Errorf("%w: height %d, valid until %d", ErrUnresolved, height, lastValid))
	}
	out.LastValidBlockHeight = lastValid
	return out, nil
}

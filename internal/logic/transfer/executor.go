// Package transfer 在已有链上 allowance 的前提下，由 delegate 自己签名完成划转。
package transfer

import (
	"context"
	"fmt"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"
)

// TransferRequest 一次委托划转，金额为最小单位
type TransferRequest struct {
	Source      types.Pubkey
	Destination types.Pubkey
	Mint        types.Pubkey
	Amount      uint64
	Decimals    uint8

	// DestinationOwner 非零时目标 token 账户的持有人必须等于它
	DestinationOwner types.Pubkey
}

func (r TransferRequest) validate() error {
	if r.Source.IsZero() || r.Destination.IsZero() || r.Mint.IsZero() {
		return fmt.Errorf("%w: source, destination and mint are required", core.ErrInvalidInput)
	}
	if r.Source == r.Destination {
		return fmt.Errorf("%w: source equals destination", core.ErrInvalidInput)
	}
	if r.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", core.ErrInvalidInput)
	}
	return nil
}

// Executor delegate 身份即注入的 signer，无需也无法获得 holder 签名
type Executor struct {
	detector *variant.Detector
	engine   *submit.Engine
	delegate signer.Signer
	limits   core.Limits
}

func NewExecutor(detector *variant.Detector, engine *submit.Engine, delegate signer.Signer, limits core.Limits) *Executor {
	return &Executor{
		detector: detector,
		engine:   engine,
		delegate: delegate,
		limits:   limits.Normalize(),
	}
}

// Delegate 执行器使用的 delegate 公钥
func (x *Executor) Delegate() types.Pubkey {
	return x.delegate.PublicKey()
}

// Execute 提交前重新读取并校验链上 allowance，任何校验失败都不会发出交易
func (x *Executor) Execute(ctx context.Context, req TransferRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	delegate := x.delegate.PublicKey()

	src, err := ValidateSource(ctx, x.detector, req.Source, req.Mint, delegate, req.Amount)
	if err != nil {
		return "", err
	}
	dst, err := ValidateDestination(ctx, x.detector, req.Destination, req.Mint, req.DestinationOwner)
	if err != nil {
		return "", err
	}
	if dst.Program != src.Ref.Program {
		return "", fmt.Errorf("%w: destination %s is owned by %s, source by %s",
			core.ErrInvalidInput, req.Destination, dst.Program, src.Ref.Program)
	}

	ix, err := instruction.TransferChecked(src.Ref.Program, req.Source, req.Mint, req.Destination, delegate, req.Amount, req.Decimals)
	if err != nil {
		return "", err
	}
	plan := core.Plan{FeePayer: delegate}
	plan.Add(ix)
	if err := plan.CheckLimits(x.limits); err != nil {
		return "", err
	}

	out := x.engine.Submit(ctx, plan, x.delegate)
	if !out.OK() {
		logger.Errorf("[TransferExecutor] %s -> %s amount=%d failed at %s: %v",
			req.Source, req.Destination, req.Amount, out.Stage, out.Err)
		return out.Signature, out.Error()
	}
	logger.Infof("[TransferExecutor] %s -> %s amount=%d mint=%s sig=%s (%s)",
		req.Source, req.Destination, req.Amount, req.Mint, out.Signature, out.Kind)
	return out.Signature, nil
}

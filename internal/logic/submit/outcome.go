package submit

import (
	"errors"
	"fmt"

	"delegate-relay-sol/internal/logic/core"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// OutcomeKind 一次提交的结果类型
type OutcomeKind uint8

const (
	OutcomeConfirmed        OutcomeKind = iota + 1 // 已在目标确认级别确认
	OutcomeAlreadyProcessed                        // 重复提交，链上已存在同签名交易，视为成功
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage 失败发生的阶段。提交失败与执行失败是不同的失败点，必须分开上报。
type Stage string

const (
	StageSign      Stage = "sign"      // 获取 blockhash 或签名失败，交易未发出
	StageSend      Stage = "send"      // 节点拒绝或网络错误，是否上链未知或未上链
	StageExecution Stage = "execution" // 已上链但执行失败
	StageConfirm   Stage = "confirm"   // 等待确认期间被取消，或状态无法查询
	StageExpired   Stage = "expired"   // 超过 blockhash 有效高度且未上链，需用新 blockhash 重新签名
)

// ErrUnresolved 交易是否上链尚无定论，在 LastValidBlockHeight 之前不能用新 blockhash 重建
var ErrUnresolved = errors.New("transaction outcome not resolved yet")

// Outcome 提交结果
type Outcome struct {
	Kind                 OutcomeKind
	Signature            string
	Stage                Stage
	Err                  error
	LastValidBlockHeight uint64 // 已签名时为 blockhash 的有效高度上限
}

// OK Confirmed 与 AlreadyProcessed 都是成功
func (o Outcome) OK() bool {
	return o.Kind == OutcomeConfirmed || o.Kind == OutcomeAlreadyProcessed
}

// Error 成功时返回 nil，失败时返回 *SubmissionError（errors.Is 可匹配 core.ErrSubmissionFailed）
func (o Outcome) Error() error {
	if o.OK() {
		return nil
	}
	return &SubmissionError{
		Stage:                o.Stage,
		Signature:            o.Signature,
		LastValidBlockHeight: o.LastValidBlockHeight,
		Err:                  o.Err,
	}
}

// SubmissionError 提交失败的详情，调用方据此决定能否重建交易
type SubmissionError struct {
	Stage                Stage
	Signature            string
	LastValidBlockHeight uint64
	Err                  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%v: %s: %v", core.ErrSubmissionFailed, e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{core.ErrSubmissionFailed, e.Err}
}

// Unresolved 已签名的交易可能仍会在 LastValidBlockHeight 之前上链
func (e *SubmissionError) Unresolved() bool {
	return e.Signature != "" && (e.Stage == StageSend || e.Stage == StageConfirm)
}

func confirmed(sig string) Outcome {
	return Outcome{Kind: OutcomeConfirmed, Signature: sig}
}

func alreadyProcessed(sig string) Outcome {
	return Outcome{Kind: OutcomeAlreadyProcessed, Signature: sig}
}

func failed(sig string, stage Stage, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Signature: sig, Stage: stage, Err: err}
}

// SignedTx 已绑定 blockhash 并完成签名的交易；Signature 为首个签名（fee payer），即交易 ID
type SignedTx struct {
	Tx                   sdktypes.Transaction
	Signature            string
	Blockhash            string
	LastValidBlockHeight uint64
}

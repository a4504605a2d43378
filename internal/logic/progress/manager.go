package progress

import (
	"context"
	"errors"

	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/pkg/logger"
)

// Decision Begin 的判定结果
type Decision int

const (
	DecisionProceed  Decision = iota // 首次处理（或上次失败后重试）
	DecisionReplay                   // 已结算，直接返回之前的签名
	DecisionInFlight                 // 同一 requestId 正在处理中
	// DecisionUnresolved 上次交易结果不明；调用方须先核实 rec.Signature，确认不会上链后才能 Resume
	DecisionUnresolved
)

// Store 幂等记录存储
type Store interface {
	Get(ctx context.Context, requestID string) (SettlementRecord, error)
	TryMarkPending(ctx context.Context, requestID string) (bool, error)
	MarkSettled(ctx context.Context, requestID, signature string) error
	MarkFailed(ctx context.Context, requestID, signature, kind, message string) error
	MarkUnresolved(ctx context.Context, requestID, signature string, lastValid uint64, kind, message string) error
	ResumeUnresolved(ctx context.Context, requestID, signature string) (bool, error)
	Clear(ctx context.Context, requestID string) error
}

// ProgressManager 按 requestId 做结算请求幂等。空 requestId 不做幂等控制。
type ProgressManager struct {
	store Store
}

func NewProgressManager(store Store) *ProgressManager {
	return &ProgressManager{store: store}
}

// Begin 判断请求是否需要处理；返回 DecisionProceed 时调用方必须随后调用 Finish 或 Abandon
func (pm *ProgressManager) Begin(ctx context.Context, requestID string) (Decision, SettlementRecord, error) {
	if requestID == "" || pm.store == nil {
		return DecisionProceed, SettlementRecord{}, nil
	}

	ok, err := pm.store.TryMarkPending(ctx, requestID)
	if err != nil {
		return DecisionProceed, SettlementRecord{}, err
	}
	if ok {
		return DecisionProceed, SettlementRecord{}, nil
	}

	rec, err := pm.store.Get(ctx, requestID)
	if err != nil {
		return DecisionProceed, SettlementRecord{}, err
	}
	switch rec.Status {
	case StatusSettled:
		return DecisionReplay, rec, nil
	case StatusUnresolved:
		return DecisionUnresolved, rec, nil
	case StatusUnknown:
		// 记录恰好过期，再抢一次
		if ok, err := pm.store.TryMarkPending(ctx, requestID); err == nil && ok {
			return DecisionProceed, SettlementRecord{}, nil
		}
		return DecisionInFlight, rec, nil
	default:
		return DecisionInFlight, rec, nil
	}
}

// Finish 记录最终结果；写入失败只记日志，不影响已上链的结果。
// 已签名发出但结果不明的提交错误记为 Unresolved，其余错误记为 Failed。
func (pm *ProgressManager) Finish(ctx context.Context, requestID, signature string, kind string, err error) {
	if requestID == "" || pm.store == nil {
		return
	}
	var werr error
	var se *submit.SubmissionError
	switch {
	case err == nil:
		werr = pm.store.MarkSettled(ctx, requestID, signature)
	case errors.As(err, &se) && se.Unresolved():
		werr = pm.store.MarkUnresolved(ctx, requestID, se.Signature, se.LastValidBlockHeight, kind, err.Error())
	default:
		werr = pm.store.MarkFailed(ctx, requestID, signature, kind, err.Error())
	}
	if werr != nil {
		logger.Errorf("[ProgressManager] record result for %s failed: %v", requestID, werr)
	}
}

// Resume 旧签名已核实不会上链，抢占该 requestId 重新处理；返回 true 时调用方必须随后调用 Finish 或 Abandon
func (pm *ProgressManager) Resume(ctx context.Context, requestID, signature string) (bool, error) {
	if requestID == "" || pm.store == nil {
		return true, nil
	}
	return pm.store.ResumeUnresolved(ctx, requestID, signature)
}

// Abandon 请求未真正开始（如拿不到账户锁），清除 Pending 标记
func (pm *ProgressManager) Abandon(ctx context.Context, requestID string) {
	if requestID == "" || pm.store == nil {
		return
	}
	if err := pm.store.Clear(ctx, requestID); err != nil {
		logger.Warnf("[ProgressManager] clear %s failed: %v", requestID, err)
	}
}

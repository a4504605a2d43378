package progress

import "time"

// SettlementStatus 结算请求的处理状态（Redis 编码）
type SettlementStatus int

const (
	StatusUnknown SettlementStatus = 0 // Redis 不存在
	StatusSettled SettlementStatus = 1 // 已上链确认
	StatusFailed  SettlementStatus = 2 // 明确失败，可用同一 requestId 重试
	StatusPending SettlementStatus = 3 // 处理中

	// StatusUnresolved 交易已签名发出但结果不明，重试前必须先核实该签名
	StatusUnresolved SettlementStatus = 4
)

func (s SettlementStatus) String() string {
	switch s {
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	case StatusPending:
		return "pending"
	case StatusUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// SettlementRecord 一条请求的幂等记录
type SettlementRecord struct {
	Status       SettlementStatus `json:"status"`
	Signature    string           `json:"signature,omitempty"`
	ErrorKind    string           `json:"errorKind,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	UpdatedAt    int64            `json:"updatedAt"` // Unix 秒

	// LastValidBlockHeight 仅 StatusUnresolved 使用：超过该高度且签名未上链才允许重建交易
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight,omitempty"`
}

func newRecord(status SettlementStatus) SettlementRecord {
	return SettlementRecord{Status: status, UpdatedAt: time.Now().Unix()}
}

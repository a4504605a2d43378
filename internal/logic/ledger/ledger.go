package ledger

import (
	"context"
	"errors"

	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// ErrAlreadyProcessed 节点返回"交易已处理"。由 RPC 适配层归类，上层只做类型判断，不解析错误文本。
var ErrAlreadyProcessed = errors.New("transaction already processed")

// Commitment 确认级别
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches 当前确认级别是否已达到 target
func (c Commitment) Reaches(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

// AccountInfo 链上账户原始信息
type AccountInfo struct {
	Address    types.Pubkey
	Owner      types.Pubkey // owner 程序
	Lamports   uint64
	Executable bool
	Data       []byte
}

// Blockhash 最近的 blockhash 及其有效区块高度上限
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// SignatureStatus 签名状态；Err 非空表示交易已上链但执行失败
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus Commitment
	Err                string
}

// Client 账本 RPC 边界
type Client interface {
	// GetAccountInfo 账户不存在时返回 (nil, nil)
	GetAccountInfo(ctx context.Context, address types.Pubkey) (*AccountInfo, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	// SendTransaction 重复提交时返回包装了 ErrAlreadyProcessed 的错误
	SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error)
	// GetSignatureStatus 未知签名返回 (nil, nil)
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
}

// AccountReader 只读账户查询，检测器只依赖这一部分
type AccountReader interface {
	GetAccountInfo(ctx context.Context, address types.Pubkey) (*AccountInfo, error)
}

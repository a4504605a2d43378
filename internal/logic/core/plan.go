package core

import (
	"fmt"

	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// placeholderBlockhash 估算交易大小时使用的占位 blockhash（32 字节全 0）
const placeholderBlockhash = "11111111111111111111111111111111"

// Limits 单笔交易的打包上限
type Limits struct {
	MaxTxBytes      int
	MaxInstructions int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTxBytes:      consts.PacketDataSize,
		MaxInstructions: consts.DefaultMaxInstructions,
	}
}

// Normalize 非法或缺省值回退到默认上限；字节上限不允许超过协议上限
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxTxBytes <= 0 || l.MaxTxBytes > consts.PacketDataSize {
		l.MaxTxBytes = d.MaxTxBytes
	}
	if l.MaxInstructions <= 0 {
		l.MaxInstructions = d.MaxInstructions
	}
	return l
}

// Plan 尚未绑定 blockhash、尚未签名的交易草稿
type Plan struct {
	FeePayer     types.Pubkey
	Instructions []sdktypes.Instruction
}

func (p *Plan) Add(ixs ...sdktypes.Instruction) {
	p.Instructions = append(p.Instructions, ixs...)
}

// Message 以给定 blockhash 编译消息
func (p Plan) Message(blockhash string) sdktypes.Message {
	return sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        p.FeePayer.Common(),
		Instructions:    p.Instructions,
		RecentBlockhash: blockhash,
	})
}

// RequiredSigners 编译后消息中需要签名的账户（按签名顺序，首位为 fee payer）
func (p Plan) RequiredSigners() []types.Pubkey {
	msg := p.Message(placeholderBlockhash)
	n := int(msg.Header.NumRequireSignatures)
	out := make([]types.Pubkey, 0, n)
	for i := 0; i < n && i < len(msg.Accounts); i++ {
		out = append(out, types.FromCommon(msg.Accounts[i]))
	}
	return out
}

// EncodedSize 估算签名后交易的序列化字节数：签名数(compact-u16) + 签名 + 消息
func (p Plan) EncodedSize() (int, error) {
	msg := p.Message(placeholderBlockhash)
	raw, err := msg.Serialize()
	if err != nil {
		return 0, fmt.Errorf("serialize message: %w", err)
	}
	sigs := int(msg.Header.NumRequireSignatures)
	return compactU16Len(sigs) + sigs*consts.SignatureSize + len(raw), nil
}

// CheckLimits 超过指令数或字节上限时返回 ErrBatchTooLarge，不做拆分
func (p Plan) CheckLimits(l Limits) error {
	l = l.Normalize()
	if len(p.Instructions) == 0 {
		return fmt.Errorf("%w: empty transaction plan", ErrInvalidInput)
	}
	if p.FeePayer.IsZero() {
		return fmt.Errorf("%w: fee payer is required", ErrInvalidInput)
	}
	if len(p.Instructions) > l.MaxInstructions {
		return fmt.Errorf("%w: %d instructions exceeds limit %d", ErrBatchTooLarge, len(p.Instructions), l.MaxInstructions)
	}
	size, err := p.EncodedSize()
	if err != nil {
		return err
	}
	if size > l.MaxTxBytes {
		return fmt.Errorf("%w: encoded size %d bytes exceeds limit %d", ErrBatchTooLarge, size, l.MaxTxBytes)
	}
	return nil
}

func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}

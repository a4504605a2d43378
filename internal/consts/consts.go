package consts

import "time"

const (
	// PacketDataSize 单笔交易序列化后的最大字节数（IPv6 MTU 减去报头）
	PacketDataSize = 1232

	// DefaultMaxInstructions 单笔批量交易默认允许的指令数上限
	DefaultMaxInstructions = 24

	// SignatureSize ed25519 签名长度
	SignatureSize = 64
)

const (
	DefaultRpcTimeout          = 10 * time.Second
	DefaultConfirmPollInterval = 500 * time.Millisecond
)

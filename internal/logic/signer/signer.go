// Package signer 签名边界：核心逻辑只拿到公钥和签名能力，不接触私钥。
package signer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/zeromicro/go-zero/core/jsonx"
)

var ErrInvalidKeypair = errors.New("invalid keypair")

// Signer 对编译后的交易消息签名
type Signer interface {
	PublicKey() types.Pubkey
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// KeypairSigner 基于内存 ed25519 私钥的 Signer
type KeypairSigner struct {
	account sdktypes.Account
}

func NewKeypairSigner(account sdktypes.Account) *KeypairSigner {
	return &KeypairSigner{account: account}
}

// Generate 生成随机密钥，仅用于测试与本地调试
func Generate() *KeypairSigner {
	return &KeypairSigner{account: sdktypes.NewAccount()}
}

func (s *KeypairSigner) PublicKey() types.Pubkey {
	return types.FromCommon(s.account.PublicKey)
}

func (s *KeypairSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.account.Sign(message), nil
}

// ParseKeypair 解析 solana-keygen 格式：64 个字节组成的 JSON 数组
func ParseKeypair(data []byte) (*KeypairSigner, error) {
	var raw []int
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: want 64 bytes, got %d", ErrInvalidKeypair, len(raw))
	}
	key := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeypair, i)
		}
		key[i] = byte(v)
	}
	account, err := sdktypes.AccountFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	return &KeypairSigner{account: account}, nil
}

// LoadKeypairFile 从文件加载密钥
func LoadKeypairFile(path string) (*KeypairSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file %s: %w", path, err)
	}
	return ParseKeypair(data)
}

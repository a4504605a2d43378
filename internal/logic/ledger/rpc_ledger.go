package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/sony/gobreaker"
)

// RpcOption RPC 适配层参数
type RpcOption struct {
	Endpoint         string
	Timeout          time.Duration // 单次请求超时
	BreakerFailures  uint32        // 连续失败多少次后熔断
	BreakerOpenAfter time.Duration // 熔断后多久进入半开
}

// RpcLedger 基于 blocto solana-go-sdk 的 Client 实现，外层包一层熔断器
type RpcLedger struct {
	client  *client.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewRpcLedger(opt RpcOption) (*RpcLedger, error) {
	if opt.Endpoint == "" {
		return nil, errors.New("rpc endpoint is empty")
	}
	c := client.NewClient(opt.Endpoint)
	if c == nil {
		return nil, errors.New("rpc client init failed")
	}
	if opt.Timeout <= 0 {
		opt.Timeout = consts.DefaultRpcTimeout
	}
	if opt.BreakerFailures == 0 {
		opt.BreakerFailures = 5
	}
	if opt.BreakerOpenAfter <= 0 {
		opt.BreakerOpenAfter = 30 * time.Second
	}

	failures := opt.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opt.BreakerOpenAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 重复提交与业务拒绝都说明节点是健康的，不计入熔断
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAlreadyProcessed) || isRpcRejection(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("[RpcLedger] circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &RpcLedger{
		client:  c,
		breaker: breaker,
		timeout: opt.Timeout,
	}, nil
}

func call[T any](l *RpcLedger, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var zero T
	res, err := l.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("solana rpc unavailable: %w", err)
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func (l *RpcLedger) GetAccountInfo(ctx context.Context, address types.Pubkey) (*AccountInfo, error) {
	return call(l, ctx, func(ctx context.Context) (*AccountInfo, error) {
		info, err := l.client.GetAccountInfo(ctx, address.String())
		if err != nil {
			return nil, fmt.Errorf("GetAccountInfo %s failed: %w", address, err)
		}
		// SDK 在账户不存在时返回零值
		if info.Lamports == 0 && len(info.Data) == 0 && types.FromCommon(info.Owner).IsZero() {
			return nil, nil
		}
		return &AccountInfo{
			Address:    address,
			Owner:      types.FromCommon(info.Owner),
			Lamports:   info.Lamports,
			Executable: info.Executable,
			Data:       info.Data,
		}, nil
	})
}

func (l *RpcLedger) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	return call(l, ctx, func(ctx context.Context) (Blockhash, error) {
		resp, err := l.client.GetLatestBlockhash(ctx)
		if err != nil {
			return Blockhash{}, fmt.Errorf("GetLatestBlockhash failed: %w", err)
		}
		return Blockhash{
			Hash:                 resp.Blockhash,
			LastValidBlockHeight: resp.LatestValidBlockHeight,
		}, nil
	})
}

func (l *RpcLedger) GetBlockHeight(ctx context.Context) (uint64, error) {
	return call(l, ctx, func(ctx context.Context) (uint64, error) {
		h, err := l.client.GetBlockHeight(ctx)
		if err != nil {
			return 0, fmt.Errorf("GetBlockHeight failed: %w", err)
		}
		return h, nil
	})
}

func (l *RpcLedger) SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error) {
	return call(l, ctx, func(ctx context.Context) (string, error) {
		sig, err := l.client.SendTransaction(ctx, tx)
		if err != nil {
			if isAlreadyProcessed(err) {
				return "", fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return "", fmt.Errorf("SendTransaction failed: %w", err)
		}
		return sig, nil
	})
}

func (l *RpcLedger) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	return call(l, ctx, func(ctx context.Context) (*SignatureStatus, error) {
		st, err := l.client.GetSignatureStatus(ctx, signature)
		if err != nil {
			return nil, fmt.Errorf("GetSignatureStatus %s failed: %w", signature, err)
		}
		if st == nil {
			return nil, nil
		}
		out := &SignatureStatus{Slot: st.Slot}
		if st.ConfirmationStatus != nil {
			out.ConfirmationStatus = Commitment(*st.ConfirmationStatus)
		}
		if st.Err != nil {
			out.Err = fmt.Sprint(st.Err)
		}
		return out, nil
	})
}

// isAlreadyProcessed 节点对重复交易的拒绝：preflight 阶段返回 JSON-RPC 错误，
// 错误对象中携带 "AlreadyProcessed" / "already been processed"
func isAlreadyProcessed(err error) bool {
	var rpcErr *rpc.JsonRpcError
	if errors.As(err, &rpcErr) {
		if matchesAlreadyProcessed(rpcErr.Message) || matchesAlreadyProcessed(fmt.Sprint(rpcErr.Data)) {
			return true
		}
	}
	return matchesAlreadyProcessed(err.Error())
}

func matchesAlreadyProcessed(s string) bool {
	return strings.Contains(s, "AlreadyProcessed") ||
		strings.Contains(s, "already been processed") ||
		strings.Contains(s, "already processed")
}

// isRpcRejection 节点正常响应但拒绝了请求（如 preflight 模拟失败）
func isRpcRejection(err error) bool {
	var rpcErr *rpc.JsonRpcError
	return errors.As(err, &rpcErr)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/instruction"
	"delegate-relay-sol/internal/logic/progress"
	"delegate-relay-sol/internal/logic/settlement"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/transfer"
	"delegate-relay-sol/internal/mq"
	"delegate-relay-sol/internal/pkg/lock"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"
	"delegate-relay-sol/internal/utils"

	"github.com/google/uuid"
)

// 服务层错误分类，与 core.KindOf 的分类一起返回给调用方
const (
	KindRequestInFlight = "RequestInFlight"
	KindAccountBusy     = "AccountBusy"
	KindInternal        = "Internal"
)

// SingleRequest 单笔委托划转
type SingleRequest struct {
	RequestID       string       `json:"requestId,omitempty"`
	SourceAccount   string       `json:"sourceAccount"`
	MintAddress     string       `json:"mintAddress"`
	Amount          types.Amount `json:"amount"`
	Decimals        *uint8       `json:"decimals"`
	DestinationHint string       `json:"destinationHint,omitempty"`
}

// BatchApproval 批量结算中的一条清单行
type BatchApproval struct {
	Account  string       `json:"account"`
	Mint     string       `json:"mint"`
	Program  string       `json:"program,omitempty"`
	Amount   types.Amount `json:"amount"`
	Delegate string       `json:"delegate,omitempty"`
}

// BatchRequest 批量结算，对应 approve 时产出的清单
type BatchRequest struct {
	RequestID string          `json:"requestId,omitempty"`
	Approvals []BatchApproval `json:"approvals"`
}

type TransferView struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mint        string `json:"mint"`
	Amount      string `json:"amount"`
	UiAmount    string `json:"uiAmount"`
}

// Response 结算结果；失败时 ErrorKind 为稳定分类名
type Response struct {
	Success      bool           `json:"success"`
	RequestID    string         `json:"requestId"`
	Signature    string         `json:"signature,omitempty"`
	ErrorKind    string         `json:"errorKind,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	UiAmount     string         `json:"uiAmount,omitempty"`
	Replayed     bool           `json:"replayed,omitempty"`
	Transfers    []TransferView `json:"transfers,omitempty"`
}

type TransferExecutor interface {
	Delegate() types.Pubkey
	Execute(ctx context.Context, req transfer.TransferRequest) (string, error)
}

type BatchSettler interface {
	SettleBatch(ctx context.Context, approvals []core.ManifestEntry) (*settlement.Batch, string, error)
}

// Resolver 核实此前结果不明的交易签名
type Resolver interface {
	Resolve(ctx context.Context, signature string, lastValid uint64) (submit.Outcome, error)
}

type Locker interface {
	WithLock(ctx context.Context, accounts []string, fn func(ctx context.Context) error) error
}

type MintLookup interface {
	Get(ctx context.Context, mint types.Pubkey) (cache.MintInfo, error)
}

type SettlementOption struct {
	// ConsolidationOwner 归集目标的 owner；单笔划转的目标账户（含 destinationHint）必须属于它
	ConsolidationOwner types.Pubkey
	RequestTimeout     time.Duration
}

// SettlementService 结算请求入口：校验、策略、幂等、账户锁、执行、事件
type SettlementService struct {
	executor  TransferExecutor
	settler   BatchSettler
	resolver  Resolver
	mints     MintLookup
	policy    *PolicyHolder
	progress  *progress.ProgressManager
	locker    Locker
	publisher mq.Publisher
	opt       SettlementOption
}

func NewSettlementService(
	executor TransferExecutor,
	settler BatchSettler,
	resolver Resolver,
	mints MintLookup,
	policy *PolicyHolder,
	pm *progress.ProgressManager,
	locker Locker,
	publisher mq.Publisher,
	opt SettlementOption,
) *SettlementService {
	if policy == nil {
		policy = NewPolicyHolder(nil)
	}
	if pm == nil {
		pm = progress.NewProgressManager(nil)
	}
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = 60 * time.Second
	}
	return &SettlementService{
		executor:  executor,
		settler:   settler,
		resolver:  resolver,
		mints:     mints,
		policy:    policy,
		progress:  pm,
		locker:    locker,
		publisher: publisher,
		opt:       opt,
	}
}

// requestKey 调用方未提供 requestId 时生成一个仅用于追踪的 id，此时不做幂等
func requestKey(id string) (display, idem string) {
	if id == "" {
		return uuid.NewString(), ""
	}
	return id, id
}

func failure(requestID, kind string, err error) *Response {
	return &Response{RequestID: requestID, ErrorKind: kind, ErrorMessage: err.Error()}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrInvalidInput}, args...)...)
}

func parseKey(field, s string) (types.Pubkey, error) {
	if s == "" {
		return types.Pubkey{}, invalid("%s is required", field)
	}
	pk, err := types.TryPubkeyFromBase58(s)
	if err != nil || pk.IsZero() {
		return types.Pubkey{}, invalid("%s is not a valid address: %q", field, s)
	}
	return pk, nil
}

// Settle 处理单笔划转
func (s *SettlementService) Settle(ctx context.Context, req SingleRequest) *Response {
	requestID, idem := requestKey(req.RequestID)
	ctx, cancel := context.WithTimeout(ctx, s.opt.RequestTimeout)
	defer cancel()

	tr, err := s.prepareSingle(ctx, req)
	if err != nil {
		logger.Warnf("[SettlementService] request %s rejected: %v", requestID, err)
		return failure(requestID, core.KindOf(err), err)
	}
	record := mq.TransferRecord{
		Source:      tr.Source.String(),
		Destination: tr.Destination.String(),
		Mint:        tr.Mint.String(),
		Amount:      types.Amount(tr.Amount).String(),
		UiAmount:    types.FormatUiAmount(tr.Amount, tr.Decimals),
	}

	resp, executed := s.run(ctx, requestID, idem, []string{tr.Source.String()}, func(ctx context.Context) (string, error) {
		return s.executor.Execute(ctx, tr)
	})
	if resp.Success {
		resp.UiAmount = record.UiAmount
	}
	if executed {
		s.publish(ctx, utils.EventTypeSettlement, resp, []mq.TransferRecord{record})
	}
	return resp
}

func (s *SettlementService) prepareSingle(ctx context.Context, req SingleRequest) (transfer.TransferRequest, error) {
	var tr transfer.TransferRequest
	source, err := parseKey("sourceAccount", req.SourceAccount)
	if err != nil {
		return tr, err
	}
	mint, err := parseKey("mintAddress", req.MintAddress)
	if err != nil {
		return tr, err
	}
	if req.Amount == 0 {
		return tr, invalid("amount is required")
	}
	if req.Decimals == nil {
		return tr, invalid("decimals is required")
	}
	decimals := *req.Decimals
	if err := s.policy.Load().Check(mint, decimals, req.Amount.Uint64()); err != nil {
		return tr, err
	}

	info, err := s.mints.Get(ctx, mint)
	if err != nil {
		return tr, err
	}
	if info.Decimals != decimals {
		return tr, invalid("mint %s has %d decimals, request says %d", mint, info.Decimals, decimals)
	}

	owner := s.opt.ConsolidationOwner
	if owner.IsZero() {
		return tr, invalid("no consolidation owner is configured")
	}
	var dest types.Pubkey
	if req.DestinationHint != "" {
		// hint 只选择归集 owner 名下的某个账户，归属由执行器按链上数据校验
		if dest, err = parseKey("destinationHint", req.DestinationHint); err != nil {
			return tr, err
		}
	} else if dest, err = instruction.FindAssociatedTokenAddress(owner, mint, info.Program); err != nil {
		return tr, err
	}

	return transfer.TransferRequest{
		Source:           source,
		Destination:      dest,
		DestinationOwner: owner,
		Mint:             mint,
		Amount:           req.Amount.Uint64(),
		Decimals:         decimals,
	}, nil
}

// SettleBatch 处理批量结算，全部条目在一笔交易中原子完成
func (s *SettlementService) SettleBatch(ctx context.Context, req BatchRequest) *Response {
	requestID, idem := requestKey(req.RequestID)
	ctx, cancel := context.WithTimeout(ctx, s.opt.RequestTimeout)
	defer cancel()

	entries, err := s.prepareBatch(ctx, req)
	if err != nil {
		logger.Warnf("[SettlementService] batch %s rejected: %v", requestID, err)
		return failure(requestID, core.KindOf(err), err)
	}
	accounts := uniqueAccounts(entries)

	var batch *settlement.Batch
	resp, executed := s.run(ctx, requestID, idem, accounts, func(ctx context.Context) (string, error) {
		b, sig, err := s.settler.SettleBatch(ctx, entries)
		batch = b
		return sig, err
	})

	var records []mq.TransferRecord
	if batch != nil {
		records = make([]mq.TransferRecord, 0, len(batch.Intents))
		for _, in := range batch.Intents {
			records = append(records, mq.TransferRecord{
				Source:      in.Source.String(),
				Destination: in.Destination.String(),
				Mint:        in.Mint.String(),
				Amount:      types.Amount(in.Amount).String(),
				UiAmount:    types.FormatUiAmount(in.Amount, in.Decimals),
			})
		}
	}
	if resp.Success {
		for _, r := range records {
			resp.Transfers = append(resp.Transfers, TransferView(r))
		}
	}
	if executed {
		s.publish(ctx, utils.EventTypeBatch, resp, records)
	}
	return resp
}

func (s *SettlementService) prepareBatch(ctx context.Context, req BatchRequest) ([]core.ManifestEntry, error) {
	if len(req.Approvals) == 0 {
		return nil, invalid("approvals is empty")
	}
	policy := s.policy.Load()
	entries := make([]core.ManifestEntry, 0, len(req.Approvals))
	for i, a := range req.Approvals {
		account, err := parseKey(fmt.Sprintf("approvals[%d].account", i), a.Account)
		if err != nil {
			return nil, err
		}
		mint, err := parseKey(fmt.Sprintf("approvals[%d].mint", i), a.Mint)
		if err != nil {
			return nil, err
		}
		if a.Amount == 0 {
			return nil, invalid("approvals[%d].amount is required", i)
		}
		e := core.ManifestEntry{Account: account, Mint: mint, Amount: a.Amount}
		if a.Program != "" {
			if e.Program, err = parseKey(fmt.Sprintf("approvals[%d].program", i), a.Program); err != nil {
				return nil, err
			}
		}
		if a.Delegate != "" {
			if e.Delegate, err = parseKey(fmt.Sprintf("approvals[%d].delegate", i), a.Delegate); err != nil {
				return nil, err
			}
		}

		info, err := s.mints.Get(ctx, mint)
		if err != nil {
			return nil, err
		}
		if err := policy.Check(mint, info.Decimals, a.Amount.Uint64()); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// run 幂等判定后在账户锁内执行并记录结果；executed 表示 exec 是否真正被调用
func (s *SettlementService) run(ctx context.Context, requestID, idem string, accounts []string, exec func(ctx context.Context) (string, error)) (*Response, bool) {
	decision, rec, err := s.progress.Begin(ctx, idem)
	if err != nil {
		logger.Errorf("[SettlementService] idempotency check for %s failed: %v", requestID, err)
		return failure(requestID, KindInternal, fmt.Errorf("idempotency store unavailable: %w", err)), false
	}
	switch decision {
	case progress.DecisionReplay:
		logger.Infof("[SettlementService] request %s already settled, sig=%s", requestID, rec.Signature)
		return &Response{Success: true, RequestID: requestID, Signature: rec.Signature, Replayed: true}, false
	case progress.DecisionInFlight:
		return failure(requestID, KindRequestInFlight, fmt.Errorf("request %s is being processed", requestID)), false
	case progress.DecisionUnresolved:
		if resp, done := s.resolve(ctx, requestID, idem, rec); done {
			return resp, resp.Success
		}
	}

	var (
		sig     string
		execErr error
		ran     bool
	)
	body := func(ctx context.Context) error {
		ran = true
		sig, execErr = exec(ctx)
		return execErr
	}
	if s.locker != nil {
		err = s.locker.WithLock(ctx, accounts, body)
	} else {
		err = body(ctx)
	}

	if !ran {
		s.progress.Abandon(context.WithoutCancel(ctx), idem)
		if errors.Is(err, lock.ErrLockBusy) {
			return failure(requestID, KindAccountBusy, err), false
		}
		logger.Errorf("[SettlementService] request %s could not acquire locks: %v", requestID, err)
		return failure(requestID, KindInternal, err), false
	}

	if execErr != nil {
		kind := core.KindOf(execErr)
		s.progress.Finish(context.WithoutCancel(ctx), idem, sig, kind, execErr)
		logger.Warnf("[SettlementService] request %s failed (%s): %v", requestID, kind, execErr)
		resp := failure(requestID, kind, execErr)
		resp.Signature = sig
		return resp, true
	}
	s.progress.Finish(context.WithoutCancel(ctx), idem, sig, "", nil)
	logger.Infof("[SettlementService] request %s settled, sig=%s", requestID, sig)
	return &Response{Success: true, RequestID: requestID, Signature: sig}, true
}

// resolve 核实上次结果不明的签名。done 为 false 表示旧交易已确定不会转账，且已重新抢占该 requestId，可以重建。
func (s *SettlementService) resolve(ctx context.Context, requestID, idem string, rec progress.SettlementRecord) (*Response, bool) {
	if s.resolver == nil {
		return failure(requestID, KindRequestInFlight, fmt.Errorf("request %s has unresolved transaction %s", requestID, rec.Signature)), true
	}
	out, err := s.resolver.Resolve(ctx, rec.Signature, rec.LastValidBlockHeight)
	if err != nil {
		logger.Errorf("[SettlementService] resolve %s for %s failed: %v", rec.Signature, requestID, err)
		return failure(requestID, KindInternal, fmt.Errorf("resolve transaction %s: %w", rec.Signature, err)), true
	}
	if out.OK() {
		s.progress.Finish(context.WithoutCancel(ctx), idem, rec.Signature, "", nil)
		logger.Infof("[SettlementService] request %s resolved as settled, sig=%s", requestID, rec.Signature)
		return &Response{Success: true, RequestID: requestID, Signature: rec.Signature, Replayed: true}, true
	}
	if errors.Is(out.Err, submit.ErrUnresolved) {
		resp := failure(requestID, KindRequestInFlight,
			fmt.Errorf("transaction %s not resolved yet, retry after block height %d", rec.Signature, rec.LastValidBlockHeight))
		resp.Signature = rec.Signature
		return resp, true
	}

	ok, err := s.progress.Resume(ctx, idem, rec.Signature)
	if err != nil {
		logger.Errorf("[SettlementService] resume %s failed: %v", requestID, err)
		return failure(requestID, KindInternal, fmt.Errorf("idempotency store unavailable: %w", err)), true
	}
	if !ok {
		return failure(requestID, KindRequestInFlight, fmt.Errorf("request %s is being processed", requestID)), true
	}
	logger.Infof("[SettlementService] request %s previous tx %s did not transfer (%s), rebuilding", requestID, rec.Signature, out.Stage)
	return nil, false
}

func (s *SettlementService) publish(ctx context.Context, eventType uint32, resp *Response, transfers []mq.TransferRecord) {
	event := mq.SettlementEvent{
		Type:         eventType,
		RequestID:    resp.RequestID,
		Success:      resp.Success,
		Signature:    resp.Signature,
		ErrorKind:    resp.ErrorKind,
		ErrorMessage: resp.ErrorMessage,
		Delegate:     s.executor.Delegate().String(),
		Transfers:    transfers,
		Timestamp:    time.Now().Unix(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Errorf("[SettlementService] publish event for %s failed: %v", resp.RequestID, err)
	}
}

func uniqueAccounts(entries []core.ManifestEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		k := e.Account.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	// 固定加锁顺序，避免两个批次交叉死锁
	sort.Strings(out)
	return out
}

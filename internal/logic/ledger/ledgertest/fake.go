// Package ledgertest 提供内存版账本，供各业务包的单元测试使用。
package ledgertest

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
)

const defaultValidWindow = 150

// ErrAckLost 模拟交易已上链但响应丢失
var ErrAckLost = errors.New("fake ledger: request timed out")

type landedTx struct {
	tx      sdktypes.Transaction
	slot    uint64
	execErr string
	pending bool
}

// Fake 内存账本。所有方法并发安全。
type Fake struct {
	mu          sync.Mutex
	accounts    map[types.Pubkey]ledger.AccountInfo
	reads       map[types.Pubkey]int
	height      uint64
	validWindow uint64
	hashSeq     byte
	landed      map[string]*landedTx
	sendCalls   int

	// SendErr 非空时下一次发送直接失败且不上链
	SendErr error
	// DropAck 为 true 时下一次发送会上链，但返回 ErrAckLost
	DropAck bool
	// ExecErr 非空时下一笔上链交易执行失败
	ExecErr string
	// HoldConfirm 为 true 时上链交易一直停留在未确认状态
	HoldConfirm bool
	// DropTx 为 true 时下一次发送返回成功，但交易从未上链
	DropTx bool
	// StatusErr 非空时 GetSignatureStatus 一直返回该错误
	StatusErr error
	// HeightStep 每次 GetBlockHeight 后区块高度的增量
	HeightStep uint64
	// BeforeRead 每次账户读取前回调，可用于模拟链外状态变化
	BeforeRead func(f *Fake, address types.Pubkey)
}

func New() *Fake {
	return &Fake{
		accounts:    make(map[types.Pubkey]ledger.AccountInfo),
		reads:       make(map[types.Pubkey]int),
		landed:      make(map[string]*landedTx),
		height:      1000,
		validWindow: defaultValidWindow,
	}
}

// SetAccount 写入任意账户
func (f *Fake) SetAccount(address, owner types.Pubkey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAccountLocked(address, owner, data)
}

func (f *Fake) setAccountLocked(address, owner types.Pubkey, data []byte) {
	f.accounts[address] = ledger.AccountInfo{
		Address:  address,
		Owner:    owner,
		Lamports: 2_039_280,
		Data:     append([]byte(nil), data...),
	}
}

// RemoveAccount 删除账户（模拟账户被关闭）
func (f *Fake) RemoveAccount(address types.Pubkey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, address)
}

// TokenAccountFields token 账户字段
type TokenAccountFields struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	DelegatedAmount uint64
	Frozen          bool
}

// SetTokenAccount 写入 token 账户
func (f *Fake) SetTokenAccount(address, program types.Pubkey, fields TokenAccountFields) {
	f.SetAccount(address, program, TokenAccountData(fields))
}

// SetMint 写入 mint 账户
func (f *Fake) SetMint(address, program types.Pubkey, decimals uint8) {
	f.SetAccount(address, program, MintData(decimals, 1_000_000_000_000))
}

// SetDelegation 修改已存在 token 账户的 allowance 记录（模拟 approve / revoke / 部分消耗）
func (f *Fake) SetDelegation(address types.Pubkey, delegate *types.Pubkey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setDelegationLocked(address, delegate, amount)
}

func (f *Fake) setDelegationLocked(address types.Pubkey, delegate *types.Pubkey, amount uint64) {
	info, ok := f.accounts[address]
	if !ok {
		panic(fmt.Sprintf("ledgertest: account %s not found", address))
	}
	acc, err := ledger.DecodeTokenAccount(info.Data)
	if err != nil {
		panic(err)
	}
	info.Data = TokenAccountData(TokenAccountFields{
		Mint:            acc.Mint,
		Owner:           acc.Owner,
		Amount:          acc.Amount,
		Delegate:        delegate,
		DelegatedAmount: amount,
		Frozen:          acc.State == ledger.TokenAccountStateFrozen,
	})
	f.accounts[address] = info
}

// Reads 某账户被读取的次数
func (f *Fake) Reads(address types.Pubkey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[address]
}

// Landed 已上链的交易（按签名）
func (f *Fake) Landed() map[string]sdktypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]sdktypes.Transaction, len(f.landed))
	for sig, l := range f.landed {
		out[sig] = l.tx
	}
	return out
}

// SendCalls SendTransaction 被调用的次数
func (f *Fake) SendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// SetHeight 设置当前区块高度
func (f *Fake) SetHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

// ReleaseConfirm 将所有未确认交易置为已确认
func (f *Fake) ReleaseConfirm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HoldConfirm = false
	for _, l := range f.landed {
		l.pending = false
	}
}

func (f *Fake) GetAccountInfo(_ context.Context, address types.Pubkey) (*ledger.AccountInfo, error) {
	f.mu.Lock()
	hook := f.BeforeRead
	f.mu.Unlock()
	if hook != nil {
		hook(f, address)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[address]++
	info, ok := f.accounts[address]
	if !ok {
		return nil, nil
	}
	info.Data = append([]byte(nil), info.Data...)
	return &info, nil
}

func (f *Fake) GetLatestBlockhash(_ context.Context) (ledger.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashSeq++
	var h types.Pubkey
	h[0] = 0xBB
	h[31] = f.hashSeq
	return ledger.Blockhash{
		Hash:                 h.String(),
		LastValidBlockHeight: f.height + f.validWindow,
	}, nil
}

func (f *Fake) GetBlockHeight(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.height
	f.height += f.HeightStep
	return h, nil
}

func (f *Fake) SendTransaction(_ context.Context, tx sdktypes.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++

	if err := verifySignatures(tx); err != nil {
		return "", err
	}
	sig := base58.Encode(tx.Signatures[0])

	if _, ok := f.landed[sig]; ok {
		return "", fmt.Errorf("%w: This transaction has already been processed", ledger.ErrAlreadyProcessed)
	}
	if f.SendErr != nil {
		err := f.SendErr
		f.SendErr = nil
		return "", err
	}
	if f.DropTx {
		f.DropTx = false
		return sig, nil
	}

	f.landed[sig] = &landedTx{
		tx:      tx,
		slot:    f.height,
		execErr: f.ExecErr,
		pending: f.HoldConfirm,
	}
	f.ExecErr = ""

	if f.DropAck {
		f.DropAck = false
		return "", ErrAckLost
	}
	return sig, nil
}

func (f *Fake) GetSignatureStatus(_ context.Context, signature string) (*ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	l, ok := f.landed[signature]
	if !ok {
		return nil, nil
	}
	st := &ledger.SignatureStatus{
		Slot:               l.slot,
		ConfirmationStatus: ledger.CommitmentConfirmed,
		Err:                l.execErr,
	}
	if l.pending {
		st.ConfirmationStatus = ledger.CommitmentProcessed
	}
	return st, nil
}

func verifySignatures(tx sdktypes.Transaction) error {
	raw, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("fake ledger: serialize message: %w", err)
	}
	n := int(tx.Message.Header.NumRequireSignatures)
	if n == 0 || len(tx.Signatures) != n {
		return fmt.Errorf("fake ledger: want %d signatures, got %d", n, len(tx.Signatures))
	}
	for i := 0; i < n; i++ {
		pub := tx.Message.Accounts[i]
		if !ed25519.Verify(ed25519.PublicKey(pub[:]), raw, tx.Signatures[i]) {
			return fmt.Errorf("fake ledger: signature verification failed for %s", pub.ToBase58())
		}
	}
	return nil
}

// TokenAccountData 按 SPL token 账户布局（165 字节）编码
func TokenAccountData(fields TokenAccountFields) []byte {
	data := make([]byte, 165)
	copy(data[0:32], fields.Mint[:])
	copy(data[32:64], fields.Owner[:])
	binary.LittleEndian.PutUint64(data[64:72], fields.Amount)
	if fields.Delegate != nil {
		binary.LittleEndian.PutUint32(data[72:76], 1)
		copy(data[76:108], fields.Delegate[:])
	}
	data[108] = 1 // initialized
	if fields.Frozen {
		data[108] = ledger.TokenAccountStateFrozen
	}
	// [109:121] is_native COption<u64> = None
	binary.LittleEndian.PutUint64(data[121:129], fields.DelegatedAmount)
	// [129:165] close_authority COption<Pubkey> = None
	return data
}

// MintData 按 SPL mint 布局（82 字节）编码
func MintData(decimals uint8, supply uint64) []byte {
	data := make([]byte, 82)
	// [0:36] mint_authority COption<Pubkey> = None
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1 // is_initialized
	return data
}

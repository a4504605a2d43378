package instruction

import (
	"errors"
	"fmt"

	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/types"

	"github.com/blocto/solana-go-sdk/common"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"
)

// 合约源代码:
// SplToken: https://github.com/solana-program/token/blob/main/program/src/instruction.rs
// Token2022: https://github.com/solana-program/token-2022
//
// Approve / Revoke / TransferChecked 在两种 token 程序中的数据布局与账户顺序一致，
// 区别只在 ProgramID，因此这里统一按显式 program 构建，不依赖 SDK 内置的默认程序。

var ErrUnexpectedInstruction = errors.New("unexpected instruction")

// createIdempotent ATA 程序的 CreateIdempotent 指令序号
const createIdempotent uint8 = 1

type amountArgs struct {
	Instruction uint8
	Amount      uint64
}

type checkedArgs struct {
	Instruction uint8
	Amount      uint64
	Decimals    uint8
}

type tagArgs struct {
	Instruction uint8
}

// Approve accounts = [source(w), delegate, owner(signer)]
func Approve(program, source, delegate, owner types.Pubkey, amount uint64) (sdktypes.Instruction, error) {
	data, err := borsh.Serialize(amountArgs{Instruction: uint8(sdktoken.InstructionApprove), Amount: amount})
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("encode approve: %w", err)
	}
	return sdktypes.Instruction{
		ProgramID: program.Common(),
		Accounts: []sdktypes.AccountMeta{
			{PubKey: source.Common(), IsSigner: false, IsWritable: true},
			{PubKey: delegate.Common(), IsSigner: false, IsWritable: false},
			{PubKey: owner.Common(), IsSigner: true, IsWritable: false},
		},
		Data: data,
	}, nil
}

// Revoke accounts = [source(w), owner(signer)]
func Revoke(program, source, owner types.Pubkey) (sdktypes.Instruction, error) {
	data, err := borsh.Serialize(tagArgs{Instruction: uint8(sdktoken.InstructionRevoke)})
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("encode revoke: %w", err)
	}
	return sdktypes.Instruction{
		ProgramID: program.Common(),
		Accounts: []sdktypes.AccountMeta{
			{PubKey: source.Common(), IsSigner: false, IsWritable: true},
			{PubKey: owner.Common(), IsSigner: true, IsWritable: false},
		},
		Data: data,
	}, nil
}

// TransferChecked accounts = [source(w), mint, destination(w), authority(signer)]
// authority 可以是 owner，也可以是已被授权的 delegate
func TransferChecked(program, source, mint, destination, authority types.Pubkey, amount uint64, decimals uint8) (sdktypes.Instruction, error) {
	data, err := borsh.Serialize(checkedArgs{
		Instruction: uint8(sdktoken.InstructionTransferChecked),
		Amount:      amount,
		Decimals:    decimals,
	})
	if err != nil {
		return sdktypes.Instruction{}, fmt.Errorf("encode transfer_checked: %w", err)
	}
	return sdktypes.Instruction{
		ProgramID: program.Common(),
		Accounts: []sdktypes.AccountMeta{
			{PubKey: source.Common(), IsSigner: false, IsWritable: true},
			{PubKey: mint.Common(), IsSigner: false, IsWritable: false},
			{PubKey: destination.Common(), IsSigner: false, IsWritable: true},
			{PubKey: authority.Common(), IsSigner: true, IsWritable: false},
		},
		Data: data,
	}, nil
}

// CreateAssociatedAccountIdempotent 创建（若不存在）owner 在 tokenProgram 下的 ATA，由 funder 付租金
// accounts = [funder(s,w), ata(w), owner, mint, system_program, token_program]
func CreateAssociatedAccountIdempotent(funder, ata, owner, mint, tokenProgram types.Pubkey) sdktypes.Instruction {
	return sdktypes.Instruction{
		ProgramID: consts.AssociatedTokenProgram.Common(),
		Accounts: []sdktypes.AccountMeta{
			{PubKey: funder.Common(), IsSigner: true, IsWritable: true},
			{PubKey: ata.Common(), IsSigner: false, IsWritable: true},
			{PubKey: owner.Common(), IsSigner: false, IsWritable: false},
			{PubKey: mint.Common(), IsSigner: false, IsWritable: false},
			{PubKey: consts.SystemProgram.Common(), IsSigner: false, IsWritable: false},
			{PubKey: tokenProgram.Common(), IsSigner: false, IsWritable: false},
		},
		Data: []byte{createIdempotent},
	}
}

// FindAssociatedTokenAddress 按 [owner, tokenProgram, mint] 推导 ATA，兼容 Token-2022
func FindAssociatedTokenAddress(owner, mint, tokenProgram types.Pubkey) (types.Pubkey, error) {
	ata, _, err := common.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		consts.AssociatedTokenProgram.Common(),
	)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return types.FromCommon(ata), nil
}

// ParsedApprove Approve 指令解析结果
type ParsedApprove struct {
	Program  types.Pubkey
	Source   types.Pubkey
	Delegate types.Pubkey
	Owner    types.Pubkey
	Amount   uint64
}

// ParseApprove 解析 Approve 指令: [0]=instr, [1:9]=amount
func ParseApprove(ix sdktypes.Instruction) (*ParsedApprove, error) {
	if len(ix.Data) != 9 || len(ix.Accounts) < 3 || ix.Data[0] != uint8(sdktoken.InstructionApprove) {
		return nil, ErrUnexpectedInstruction
	}
	var args amountArgs
	if err := borsh.Deserialize(&args, ix.Data); err != nil {
		return nil, fmt.Errorf("decode approve: %w", err)
	}
	return &ParsedApprove{
		Program:  types.FromCommon(ix.ProgramID),
		Source:   types.FromCommon(ix.Accounts[0].PubKey),
		Delegate: types.FromCommon(ix.Accounts[1].PubKey),
		Owner:    types.FromCommon(ix.Accounts[2].PubKey),
		Amount:   args.Amount,
	}, nil
}

// ParsedTransferChecked TransferChecked 指令解析结果
type ParsedTransferChecked struct {
	Program     types.Pubkey
	Source      types.Pubkey
	Mint        types.Pubkey
	Destination types.Pubkey
	Authority   types.Pubkey
	Amount      uint64
	Decimals    uint8
}

// ParseTransferChecked 解析 TransferChecked 指令: [0]=instr, [1:9]=amount, [9]=decimals
func ParseTransferChecked(ix sdktypes.Instruction) (*ParsedTransferChecked, error) {
	if len(ix.Data) != 10 || len(ix.Accounts) < 4 || ix.Data[0] != uint8(sdktoken.InstructionTransferChecked) {
		return nil, ErrUnexpectedInstruction
	}
	var args checkedArgs
	if err := borsh.Deserialize(&args, ix.Data); err != nil {
		return nil, fmt.Errorf("decode transfer_checked: %w", err)
	}
	return &ParsedTransferChecked{
		Program:     types.FromCommon(ix.ProgramID),
		Source:      types.FromCommon(ix.Accounts[0].PubKey),
		Mint:        types.FromCommon(ix.Accounts[1].PubKey),
		Destination: types.FromCommon(ix.Accounts[2].PubKey),
		Authority:   types.FromCommon(ix.Accounts[3].PubKey),
		Amount:      args.Amount,
		Decimals:    args.Decimals,
	}, nil
}

// IsRevoke 判断指令是否为 Revoke
func IsRevoke(ix sdktypes.Instruction) bool {
	return len(ix.Data) == 1 && ix.Data[0] == uint8(sdktoken.InstructionRevoke)
}

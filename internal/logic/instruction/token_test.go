package instruction

import (
	"testing"

	"delegate-relay-sol/internal/consts"
	"delegate-relay-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func TestApproveLayout(t *testing.T) {
	ix, err := Approve(consts.TokenProgram2022, key(1), key(2), key(3), 1_000_000)
	require.NoError(t, err)

	// [4, amount u64 LE]
	assert.Equal(t, []byte{4, 0x40, 0x42, 0x0f, 0, 0, 0, 0, 0}, ix.Data)
	assert.Equal(t, consts.TokenProgram2022.Common(), ix.ProgramID)
	require.Len(t, ix.Accounts, 3)
	assert.True(t, ix.Accounts[0].IsWritable)
	assert.True(t, ix.Accounts[2].IsSigner)

	parsed, err := ParseApprove(ix)
	require.NoError(t, err)
	assert.Equal(t, key(1), parsed.Source)
	assert.Equal(t, key(2), parsed.Delegate)
	assert.Equal(t, key(3), parsed.Owner)
	assert.Equal(t, uint64(1_000_000), parsed.Amount)
	assert.Equal(t, consts.TokenProgram2022, parsed.Program)
}

func TestTransferCheckedLayout(t *testing.T) {
	ix, err := TransferChecked(consts.TokenProgram, key(1), key(9), key(4), key(2), 500_000, 6)
	require.NoError(t, err)
	assert.Len(t, ix.Data, 10)
	assert.Equal(t, byte(12), ix.Data[0])
	assert.Equal(t, byte(6), ix.Data[9])

	parsed, err := ParseTransferChecked(ix)
	require.NoError(t, err)
	assert.Equal(t, key(9), parsed.Mint)
	assert.Equal(t, key(4), parsed.Destination)
	assert.Equal(t, key(2), parsed.Authority)
	assert.Equal(t, uint64(500_000), parsed.Amount)
	assert.Equal(t, uint8(6), parsed.Decimals)

	_, err = ParseApprove(ix)
	assert.ErrorIs(t, err, ErrUnexpectedInstruction)
}

func TestRevokeLayout(t *testing.T) {
	ix, err := Revoke(consts.TokenProgram, key(1), key(3))
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, ix.Data)
	assert.True(t, IsRevoke(ix))
	require.Len(t, ix.Accounts, 2)
	assert.True(t, ix.Accounts[1].IsSigner)
}

func TestFindAssociatedTokenAddressDependsOnProgram(t *testing.T) {
	owner, mint := key(7), key(8)
	legacy, err := FindAssociatedTokenAddress(owner, mint, consts.TokenProgram)
	require.NoError(t, err)
	extended, err := FindAssociatedTokenAddress(owner, mint, consts.TokenProgram2022)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, extended)

	again, err := FindAssociatedTokenAddress(owner, mint, consts.TokenProgram)
	require.NoError(t, err)
	assert.Equal(t, legacy, again)

	ix := CreateAssociatedAccountIdempotent(key(2), legacy, owner, mint, consts.TokenProgram)
	assert.Equal(t, []byte{1}, ix.Data)
	assert.Equal(t, consts.AssociatedTokenProgram.Common(), ix.ProgramID)
	assert.Equal(t, consts.TokenProgram.Common(), ix.Accounts[5].PubKey)
}

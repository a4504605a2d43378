package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/stretchr/testify/assert"
)

func TestCommitmentReaches(t *testing.T) {
	assert.True(t, CommitmentConfirmed.Reaches(CommitmentConfirmed))
	assert.True(t, CommitmentFinalized.Reaches(CommitmentConfirmed))
	assert.False(t, CommitmentProcessed.Reaches(CommitmentConfirmed))
	assert.False(t, Commitment("").Reaches(CommitmentProcessed))
}

func TestIsAlreadyProcessed(t *testing.T) {
	rpcErr := &rpc.JsonRpcError{
		Code:    -32002,
		Message: "Transaction simulation failed: This transaction has already been processed",
	}
	assert.True(t, isAlreadyProcessed(fmt.Errorf("send: %w", rpcErr)))
	assert.True(t, isRpcRejection(rpcErr))

	assert.False(t, isAlreadyProcessed(errors.New("context deadline exceeded")))
	assert.False(t, isRpcRejection(errors.New("context deadline exceeded")))
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructEventCodec(t *testing.T) {
	data, err := EncodeStructEvent(EventTypeSettlement, map[string]any{
		"signature": "5xyz",
		"success":   true,
		"amount":    "1000000",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, data[:4])

	eventType, fields, err := DecodeStructEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventTypeSettlement, eventType)
	assert.Equal(t, "1000000", fields["amount"])
	assert.Equal(t, true, fields["success"])

	_, _, err = DecodeStructEvent([]byte{1})
	assert.ErrorIs(t, err, ErrShortEvent)

	_, err = EncodeStructEvent(EventTypeBatch, map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}

func TestPartitionHashBytes(t *testing.T) {
	b := make([]byte, 32)
	b[27] = 7
	assert.Equal(t, uint32(0), PartitionHashBytes(b, 1))
	assert.Equal(t, uint32(3), PartitionHashBytes(b, 4))
	assert.Equal(t, uint32(7%3), PartitionHashBytes(b, 3))
	assert.Equal(t, uint32(0), PartitionHashBytes(b[:10], 4))
}

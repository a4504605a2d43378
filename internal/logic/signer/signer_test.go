package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keypairJSON(key []byte) string {
	parts := make([]string, len(key))
	for i, b := range key {
		parts[i] = fmt.Sprint(b)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestLoadKeypairFile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, []byte(keypairJSON(priv)), 0o600))

	s, err := LoadKeypairFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(priv.Public().(ed25519.PublicKey)), s.PublicKey()[:])

	msg := []byte("hello")
	sig, err := s.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), msg, sig))
}

func TestParseKeypairRejectsBadInput(t *testing.T) {
	_, err := ParseKeypair([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrInvalidKeypair)

	bad := make([]byte, 64)
	s := keypairJSON(bad)
	s = strings.Replace(s, "[0,", "[256,", 1)
	_, err = ParseKeypair([]byte(s))
	assert.ErrorIs(t, err, ErrInvalidKeypair)

	_, err = ParseKeypair([]byte(`"not-an-array"`))
	assert.ErrorIs(t, err, ErrInvalidKeypair)

	_, err = LoadKeypairFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSignMessageHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate().SignMessage(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

package boltnoncestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoltNonceStoreReopen(t *testing.T) {
	ctx := context.Background()
	f := filepath.Join(t.TempDir(), "nonces.db")
	at := time.Unix(1700000000, 0)

	s, err := New(f)
	require.NoError(t, err)
	s.now = func() time.Time { return at }

	fresh, err := s.CheckAndSet(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = s.CheckAndSet(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.False(t, fresh)
	require.NoError(t, s.Close())

	s, err = New(f)
	require.NoError(t, err)
	defer s.Close()

	fresh, err = s.CheckAndSet(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.False(t, fresh)
	require.Equal(t, 1, s.Count())

	redeemedAt, ok := s.RedeemedAt([]byte("nonce-1"))
	require.True(t, ok)
	require.True(t, at.Equal(redeemedAt))

	_, ok = s.RedeemedAt([]byte("nonce-2"))
	require.False(t, ok)
}

func TestBoltNonceStoreEmptyNonce(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "nonces.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CheckAndSet(context.Background(), nil)
	require.Error(t, err)
}

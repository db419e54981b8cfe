package keystore

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/oprf"
	"github.com/stretchr/testify/require"

	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

func newSecretKey(t *testing.T) ([]byte, *oprf.PrivateKey) {
	t.Helper()

	key, err := oprf.GenerateKey(typeF91A.Suite, rand.Reader)
	require.NoError(t, err)
	enc, err := key.MarshalBinary()
	require.NoError(t, err)
	return enc, key
}

func TestTokenKeyID(t *testing.T) {
	_, key := newSecretKey(t)

	keyID, err := TokenKeyID(key.Public())
	require.NoError(t, err)
	require.Len(t, keyID, 32)
	require.Equal(t, keyID[31], TruncatedKeyID(keyID))
}

func TestMemoryKeyStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKeyStore()

	sk, key := newSecretKey(t)
	pk, err := s.Set(ctx, sk)
	require.NoError(t, err)
	wantPK, err := key.Public().MarshalBinary()
	require.NoError(t, err)
	gotPK, err := pk.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, wantPK, gotPK)

	// Loading a key twice is allowed.
	_, err = s.Set(ctx, sk)
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())

	keyID, err := TokenKeyID(pk)
	require.NoError(t, err)
	got, err := s.Get(ctx, TruncatedKeyID(keyID))
	require.NoError(t, err)
	gotEnc, err := got.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, sk, gotEnc)

	_, err = s.Get(ctx, TruncatedKeyID(keyID)+1)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryKeyStoreInvalidKey(t *testing.T) {
	s := NewMemoryKeyStore()

	_, err := s.Set(context.Background(), []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidKey)
	require.Zero(t, s.Count())
}

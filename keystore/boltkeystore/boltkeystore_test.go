package boltkeystore

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/cloudflare/circl/oprf"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

func newSecretKey(t *testing.T) ([]byte, uint8) {
	t.Helper()

	key, err := oprf.GenerateKey(typeF91A.Suite, rand.Reader)
	require.NoError(t, err)
	enc, err := key.MarshalBinary()
	require.NoError(t, err)
	keyID, err := keystore.TokenKeyID(key.Public())
	require.NoError(t, err)
	return enc, keystore.TruncatedKeyID(keyID)
}

func newSeed(t *testing.T) []byte {
	t.Helper()

	seed := make([]byte, SealingSeedLength)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	return seed
}

func requireKey(t *testing.T, s *BoltKeyStore, id uint8, sk []byte) {
	t.Helper()

	key, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	enc, err := key.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, sk, enc)
}

func TestBoltKeyStoreReopen(t *testing.T) {
	f := filepath.Join(t.TempDir(), "keys.db")
	sk, id := newSecretKey(t)

	s, err := New(f)
	require.NoError(t, err)
	_, err = s.Set(context.Background(), sk)
	require.NoError(t, err)
	_, err = s.Set(context.Background(), sk)
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())
	require.NoError(t, s.Close())

	s, err = New(f)
	require.NoError(t, err)
	defer s.Close()

	requireKey(t, s, id, sk)
	_, err = s.Get(context.Background(), id+1)
	require.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestBoltKeyStoreSealed(t *testing.T) {
	f := filepath.Join(t.TempDir(), "keys.db")
	seed := newSeed(t)
	sk, id := newSecretKey(t)

	s, err := New(f, WithSealingSeed(seed))
	require.NoError(t, err)
	_, err = s.Set(context.Background(), sk)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The secret key is not stored in the clear.
	db, err := bolt.Open(f, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		blob := tx.Bucket([]byte(keysBucket)).Get([]byte{id})
		require.NotNil(t, blob)
		require.False(t, bytes.Contains(blob, sk))
		return nil
	}))
	require.NoError(t, db.Close())

	s, err = New(f, WithSealingSeed(seed))
	require.NoError(t, err)
	requireKey(t, s, id, sk)
	require.NoError(t, s.Close())

	// Opening with another seed fails to unseal.
	s, err = New(f, WithSealingSeed(newSeed(t)))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(context.Background(), id)
	require.Error(t, err)
}

func TestBoltKeyStoreSealingMismatch(t *testing.T) {
	f := filepath.Join(t.TempDir(), "keys.db")

	s, err := New(f, WithSealingSeed(newSeed(t)))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(f)
	require.ErrorIs(t, err, ErrSealingMismatch)
}

func TestBoltKeyStoreInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := New(filepath.Join(dir, "short.db"), WithSealingSeed([]byte("short")))
	require.Error(t, err)

	s, err := New(filepath.Join(dir, "keys.db"))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Set(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, keystore.ErrInvalidKey)
}

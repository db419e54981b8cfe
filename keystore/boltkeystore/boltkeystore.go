// Package boltkeystore implements a persistent KeyStore with a boltdb
// backend. Secret keys may optionally be sealed at rest with HPKE.
package boltkeystore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	hpke "github.com/cisco/go-hpke"
	"github.com/cloudflare/circl/oprf"
	bolt "go.etcd.io/bbolt"

	"github.com/kagisearch/privacypass-lib/keystore"
)

const (
	keysBucket     = "keys"
	metadataBucket = "metadata"
	versionKey     = "version"
	sealedKey      = "sealed"

	// SealingSeedLength is the size of the seed the HPKE sealing key is
	// derived from.
	SealingSeedLength = 32
)

var (
	sealingKEM  = hpke.DHKEM_X25519
	sealingKDF  = hpke.KDF_HKDF_SHA256
	sealingAEAD = hpke.AEAD_AESGCM128

	sealingInfo = []byte("privacypass keystore")
)

// ErrSealingMismatch is returned when a database is reopened with a
// different sealing configuration than it was created with.
var ErrSealingMismatch = errors.New("boltkeystore: sealing configuration does not match database")

type Option func(*BoltKeyStore)

// WithSealingSeed seals every stored secret key to an HPKE key derived from
// seed, so the database file alone does not reveal signing keys.
func WithSealingSeed(seed []byte) Option {
	return func(s *BoltKeyStore) {
		s.sealingSeed = seed
	}
}

// WithRandom overrides the randomness used for HPKE encapsulation.
func WithRandom(r io.Reader) Option {
	return func(s *BoltKeyStore) {
		s.rand = r
	}
}

// BoltKeyStore is a keystore.KeyStore persisted in a boltdb file. Loaded
// keys are cached in memory.
type BoltKeyStore struct {
	sync.RWMutex

	db    *bolt.DB
	cache map[uint8]*oprf.PrivateKey

	rand        io.Reader
	sealingSeed []byte
	suite       hpke.CipherSuite
	sealSK      hpke.KEMPrivateKey
	sealPK      hpke.KEMPublicKey
}

var _ keystore.KeyStore = (*BoltKeyStore)(nil)

func (s *BoltKeyStore) sealed() bool {
	return s.sealingSeed != nil
}

func (s *BoltKeyStore) seal(id uint8, secretKey []byte) ([]byte, error) {
	if !s.sealed() {
		return secretKey, nil
	}
	enc, ctx, err := hpke.SetupBaseS(s.suite, s.rand, s.sealPK, sealingInfo)
	if err != nil {
		return nil, err
	}
	ct := ctx.Seal([]byte{id}, secretKey)
	return append(enc, ct...), nil
}

func (s *BoltKeyStore) open(id uint8, blob []byte) ([]byte, error) {
	if !s.sealed() {
		return blob, nil
	}
	encLen := s.suite.KEM.PublicKeySize()
	if len(blob) < encLen {
		return nil, fmt.Errorf("boltkeystore: truncated sealed key %d", id)
	}
	ctx, err := hpke.SetupBaseR(s.suite, s.sealSK, blob[:encLen], sealingInfo)
	if err != nil {
		return nil, err
	}
	return ctx.Open([]byte{id}, blob[encLen:])
}

func (s *BoltKeyStore) Set(ctx context.Context, secretKey []byte) (*oprf.PublicKey, error) {
	key, err := keystore.ParseSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	keyID, err := keystore.TokenKeyID(key.Public())
	if err != nil {
		return nil, err
	}
	id := keystore.TruncatedKeyID(keyID)

	s.RLock()
	cached, ok := s.cache[id]
	s.RUnlock()
	if ok {
		if cachedID, err := keystore.TokenKeyID(cached.Public()); err == nil && bytes.Equal(cachedID, keyID) {
			return cached.Public(), nil
		}
	}

	blob, err := s.seal(id, secretKey)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(keysBucket))
		return bkt.Put([]byte{id}, blob)
	})
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	s.cache[id] = key
	return key.Public(), nil
}

func (s *BoltKeyStore) Get(ctx context.Context, truncatedKeyID uint8) (*oprf.PrivateKey, error) {
	s.RLock()
	key, ok := s.cache[truncatedKeyID]
	s.RUnlock()
	if ok {
		return key, nil
	}

	var blob []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(keysBucket))
		if v := bkt.Get([]byte{truncatedKeyID}); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, keystore.ErrKeyNotFound
	}

	secretKey, err := s.open(truncatedKeyID, blob)
	if err != nil {
		return nil, err
	}
	key, err = keystore.ParseSecretKey(secretKey)
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	s.cache[truncatedKeyID] = key
	return key, nil
}

// Count returns the number of persisted keys.
func (s *BoltKeyStore) Count() int {
	n := 0
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(keysBucket)).Stats().KeyN
		return nil
	})
	return n
}

func (s *BoltKeyStore) Close() error {
	s.db.Sync()
	return s.db.Close()
}

// New creates (or loads) a key store with the given file name f.
func New(f string, opts ...Option) (*BoltKeyStore, error) {
	s := &BoltKeyStore{
		cache: make(map[uint8]*oprf.PrivateKey),
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sealed() {
		if len(s.sealingSeed) != SealingSeedLength {
			return nil, fmt.Errorf("boltkeystore: invalid sealing seed length, expected %d bytes", SealingSeedLength)
		}
		var err error
		s.suite, err = hpke.AssembleCipherSuite(sealingKEM, sealingKDF, sealingAEAD)
		if err != nil {
			return nil, err
		}
		s.sealSK, s.sealPK, err = s.suite.KEM.DeriveKeyPair(s.sealingSeed)
		if err != nil {
			return nil, err
		}
	}

	var err error
	s.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}

	sealedFlag := []byte{0}
	if s.sealed() {
		sealedFlag[0] = 1
	}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(keysBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("boltkeystore: incompatible version: %d", uint(b[0]))
			}
			if flag := bkt.Get([]byte(sealedKey)); len(flag) != 1 || flag[0] != sealedFlag[0] {
				return ErrSealingMismatch
			}
			return nil
		}

		if err = bkt.Put([]byte(versionKey), []byte{0}); err != nil {
			return err
		}
		return bkt.Put([]byte(sealedKey), sealedFlag)
	}); err != nil {
		s.db.Close()
		return nil, err
	}

	return s, nil
}

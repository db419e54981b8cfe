// Package keystore maps truncated token key identifiers to VOPRF signing
// keys.
package keystore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/oprf"

	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

var (
	// ErrKeyNotFound is returned by Get when no key has the requested id.
	ErrKeyNotFound = errors.New("keystore: key id not found")

	// ErrInvalidKey is returned by Set when the secret key does not decode.
	ErrInvalidKey = errors.New("keystore: invalid secret key")
)

// KeyStore is the issuer's signing key registry. Implementations must be
// safe for concurrent use.
//
// Keys are indexed by truncated key id only. Setting a key whose truncated
// id collides with a stored one replaces it, so a concurrent Get may return
// either key. Callers holding a secret key must compare the full key id of
// what Get returns, or use the key they passed to Set.
type KeyStore interface {
	// Set loads a serialized secret key and returns its public key. Loading
	// the same key twice is not an error.
	Set(ctx context.Context, secretKey []byte) (*oprf.PublicKey, error)

	// Get returns the key whose truncated key id matches.
	Get(ctx context.Context, truncatedKeyID uint8) (*oprf.PrivateKey, error)
}

// ParseSecretKey decodes a serialized ristretto255 VOPRF secret key.
func ParseSecretKey(secretKey []byte) (*oprf.PrivateKey, error) {
	key := new(oprf.PrivateKey)
	if err := key.UnmarshalBinary(typeF91A.Suite, secretKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// TokenKeyID is the SHA-256 digest of the encoded public key.
func TokenKeyID(pk *oprf.PublicKey) ([]byte, error) {
	enc, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	keyID := sha256.Sum256(enc)
	return keyID[:], nil
}

// TruncatedKeyID is the last byte of a token key id.
func TruncatedKeyID(keyID []byte) uint8 {
	return keyID[len(keyID)-1]
}

// MemoryKeyStore is a KeyStore held in process memory.
type MemoryKeyStore struct {
	sync.RWMutex

	keys map[uint8]*oprf.PrivateKey
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[uint8]*oprf.PrivateKey),
	}
}

func (s *MemoryKeyStore) Set(ctx context.Context, secretKey []byte) (*oprf.PublicKey, error) {
	key, err := ParseSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	keyID, err := TokenKeyID(key.Public())
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	s.keys[TruncatedKeyID(keyID)] = key
	return key.Public(), nil
}

func (s *MemoryKeyStore) Get(ctx context.Context, truncatedKeyID uint8) (*oprf.PrivateKey, error) {
	s.RLock()
	defer s.RUnlock()

	key, ok := s.keys[truncatedKeyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Count returns the number of loaded keys.
func (s *MemoryKeyStore) Count() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.keys)
}

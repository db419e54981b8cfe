// Package bloomnoncestore implements a fixed-memory NonceStore backed by a
// bloom filter.
//
// A false positive makes a fresh token look spent, so the false positive
// rate is the fraction of honest redemptions that will be refused. A spent
// token is never accepted twice.
package bloomnoncestore

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/yawning/bloom"

	"github.com/kagisearch/privacypass-lib/noncestore"
)

// ErrSaturated is returned once the filter holds as many entries as it was
// sized for.
var ErrSaturated = errors.New("bloomnoncestore: filter is saturated")

// BloomNonceStore is a noncestore.NonceStore with constant memory use.
type BloomNonceStore struct {
	sync.Mutex

	f *bloom.Filter
}

var _ noncestore.NonceStore = (*BloomNonceStore)(nil)

// New creates a filter with 2^mLn2 bits tuned for the false positive rate
// pFalse.
func New(mLn2 int, pFalse float64) (*BloomNonceStore, error) {
	f, err := bloom.New(rand.Reader, mLn2, pFalse)
	if err != nil {
		return nil, err
	}
	return &BloomNonceStore{f: f}, nil
}

func (s *BloomNonceStore) CheckAndSet(ctx context.Context, nonce []byte) (bool, error) {
	s.Lock()
	defer s.Unlock()

	if s.f.Entries() >= s.f.MaxEntries() {
		return false, ErrSaturated
	}
	return !s.f.TestAndSet(nonce), nil
}

// Entries returns the number of recorded nonces.
func (s *BloomNonceStore) Entries() int {
	s.Lock()
	defer s.Unlock()

	return s.f.Entries()
}

// Package noncestore records the nonces of redeemed tokens.
package noncestore

import (
	"context"
	"sync"
)

// NonceStore tracks spent token nonces. CheckAndSet must be atomic: of any
// number of concurrent calls with the same nonce, exactly one observes it
// as fresh.
type NonceStore interface {
	// CheckAndSet records nonce and reports whether it was not recorded
	// before.
	CheckAndSet(ctx context.Context, nonce []byte) (fresh bool, err error)
}

// MemoryNonceStore is a NonceStore held in process memory. Entries are never
// removed.
type MemoryNonceStore struct {
	sync.Mutex

	seen map[string]struct{}
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]struct{}),
	}
}

func (s *MemoryNonceStore) CheckAndSet(ctx context.Context, nonce []byte) (bool, error) {
	k := string(nonce)

	s.Lock()
	defer s.Unlock()

	if _, ok := s.seen[k]; ok {
		return false, nil
	}
	s.seen[k] = struct{}{}
	return true, nil
}

// Count returns the number of recorded nonces.
func (s *MemoryNonceStore) Count() int {
	s.Lock()
	defer s.Unlock()

	return len(s.seen)
}

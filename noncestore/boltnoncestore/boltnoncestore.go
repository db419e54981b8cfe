// Package boltnoncestore implements a persistent NonceStore with a boltdb
// backend.
package boltnoncestore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kagisearch/privacypass-lib/noncestore"
)

const (
	noncesBucket   = "nonces"
	metadataBucket = "metadata"
	versionKey     = "version"
)

var dbOptions = &bolt.Options{
	NoFreelistSync: true,
}

// BoltNonceStore persists spent nonces. Each CheckAndSet runs in a single
// write transaction, and boltdb serializes writers, so the test and the set
// cannot interleave with another redemption.
type BoltNonceStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ noncestore.NonceStore = (*BoltNonceStore)(nil)

func (s *BoltNonceStore) CheckAndSet(ctx context.Context, nonce []byte) (bool, error) {
	if len(nonce) == 0 {
		return false, fmt.Errorf("boltnoncestore: empty nonce")
	}

	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(noncesBucket))
		if bkt.Get(nonce) != nil {
			return nil
		}

		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(s.now().Unix()))
		if err := bkt.Put(nonce, ts[:]); err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// RedeemedAt returns when nonce was recorded.
func (s *BoltNonceStore) RedeemedAt(nonce []byte) (time.Time, bool) {
	var at time.Time
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(noncesBucket)).Get(nonce)
		if len(v) == 8 {
			at = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
			found = true
		}
		return nil
	})
	return at, found
}

// Count returns the number of recorded nonces.
func (s *BoltNonceStore) Count() int {
	n := 0
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(noncesBucket)).Stats().KeyN
		return nil
	})
	return n
}

func (s *BoltNonceStore) Close() error {
	s.db.Sync()
	return s.db.Close()
}

// New creates (or loads) a nonce store with the given file name f.
func New(f string) (*BoltNonceStore, error) {
	var err error

	s := &BoltNonceStore{
		now: time.Now,
	}
	s.db, err = bolt.Open(f, 0600, dbOptions)
	if err != nil {
		return nil, err
	}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(noncesBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("boltnoncestore: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		s.db.Close()
		return nil, err
	}

	return s, nil
}

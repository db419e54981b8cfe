package noncestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryNonceStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore()

	fresh, err := s.CheckAndSet(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = s.CheckAndSet(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.False(t, fresh)

	fresh, err = s.CheckAndSet(ctx, []byte("nonce-2"))
	require.NoError(t, err)
	require.True(t, fresh)
	require.Equal(t, 2, s.Count())
}

func TestMemoryNonceStoreConcurrent(t *testing.T) {
	s := NewMemoryNonceStore()
	nonce := []byte("contended")

	var wg sync.WaitGroup
	var freshCount atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := s.CheckAndSet(context.Background(), nonce)
			if err == nil && fresh {
				freshCount.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, freshCount.Load())
}

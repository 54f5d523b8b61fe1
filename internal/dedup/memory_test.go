package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySeenAfterAdd(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	seen, err := m.Seen(ctx, "group|abc")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, m.Add(ctx, "group|abc"))

	seen, err = m.Seen(ctx, "group|abc")
	require.NoError(t, err)
	require.True(t, seen)

	// A different key is unaffected.
	seen, err = m.Seen(ctx, "group|def")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestMemoryConcurrentAdds(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, m.Add(ctx, "same-key"))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, m.Len())
}

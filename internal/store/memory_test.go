package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetNXOnlyOnce(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "k", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))
}

func TestMemoryGetDeleteIsAtomicExactlyOneWinner(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "token", []byte("mbox-1"), time.Minute))

	const n = 50
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := m.GetDelete(ctx, "token"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	_, err := m.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListAppendConcurrentKeepsEveryElement(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, _ = m.ListAppend(ctx, "mbox", []byte(fmt.Sprintf("msg-%d", i)), 1000, time.Minute)
		}()
	}
	wg.Wait()

	vals, err := m.ListRange(ctx, "mbox")
	require.NoError(t, err)
	assert.Len(t, vals, n)

	seen := make(map[string]bool, n)
	for _, v := range vals {
		seen[string(v)] = true
	}
	for i := 0; i < n; i++ {
		assert.True(t, seen[fmt.Sprintf("msg-%d", i)], "missing msg-%d", i)
	}
}

func TestMemoryListAppendRejectsOverCapacity(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.ListAppend(ctx, "k", []byte("x"), 3, time.Minute)
		require.NoError(t, err)
	}

	_, err := m.ListAppend(ctx, "k", []byte("overflow"), 3, time.Minute)
	assert.ErrorIs(t, err, ErrListFull)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCompareAndSwapSerializesConcurrentIncrements(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = m.CompareAndSwap(ctx, "counter", func(current []byte, exists bool) ([]byte, time.Duration, error) {
				v := 0
				if exists {
					fmt.Sscanf(string(current), "%d", &v)
				}
				v++
				return []byte(fmt.Sprintf("%d", v)), time.Minute, nil
			})
		}()
	}
	wg.Wait()

	v, err := m.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", n), string(v))
}

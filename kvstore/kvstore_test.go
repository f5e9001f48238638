package kvstore

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	now = now.Add(time.Minute)

	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok, "entry at its expiry instant is gone")

	_, ok, _ = s.Get(ctx, "b")
	require.True(t, ok, "ttl <= 0 never expires")
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	for _, k := range []string{"x", "y", "z"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), time.Second))
	}
	require.NoError(t, s.Set(ctx, "keep", []byte("k"), time.Hour))

	now = now.Add(2 * time.Second)
	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	require.Equal(t, 1, s.Len())
}

func TestMemoryStoreTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "code", []byte("payload"), time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.Take(ctx, "code"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, 0))
	buf[0] = 'z'

	v, _, _ := s.Get(ctx, "k")
	require.Equal(t, "abc", string(v))
}

func TestStartSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "gone", []byte("v"), time.Millisecond))

	swept := make(chan int, 8)
	StartSweeper(ctx, s, 5*time.Millisecond, func(removed int, err error) {
		if err == nil && removed > 0 {
			swept <- removed
		}
	})

	select {
	case n := <-swept:
		require.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never removed the expired entry")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set - skipping redis test")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	s := NewRedisStore(client, "stonetify:test:")
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	_, ok, err = s.Take(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Take(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

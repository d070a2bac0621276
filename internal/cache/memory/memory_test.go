package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/domain"
)

func TestStoreVersionedPut(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Put(ctx, "prediction:a", 10, []byte("ten")))
	require.NoError(t, s.Put(ctx, "prediction:a", 9, []byte("nine")))

	v, err := s.Get(ctx, "prediction:a")
	require.NoError(t, err)
	assert.Equal(t, "ten", string(v), "older write is dropped")

	require.NoError(t, s.Put(ctx, "prediction:a", 10, []byte("ten again")))
	v, err = s.Get(ctx, "prediction:a")
	require.NoError(t, err)
	assert.Equal(t, "ten again", string(v), "same version overwrites")

	ver, ok := s.Version("prediction:a")
	assert.True(t, ok)
	assert.Equal(t, uint64(10), ver)
}

func TestStoreGetMissing(t *testing.T) {
	_, err := NewStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Put(ctx, "user-stakes:0xb:p2", 1, []byte("2")))
	require.NoError(t, s.Put(ctx, "user-stakes:0xb:p1", 1, []byte("1")))
	require.NoError(t, s.Put(ctx, "user-stakes:0xc:p1", 1, []byte("x")))

	vals, err := s.ListByPrefix(ctx, "user-stakes:0xb:")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "1", string(vals[0]))
	assert.Equal(t, "2", string(vals[1]))
}

func TestStoreConcurrentWritersConvergeOnHighestVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			_ = s.Put(ctx, "k", v, []byte{byte(v)})
		}(uint64(i))
	}
	wg.Wait()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{50}, v)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "resync", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "resync", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "resync", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerExpiry(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()
	now := time.Unix(1_700_000_000, 0)
	lm.now = func() time.Time { return now }

	stale, err := lm.Acquire(ctx, "resync", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := lm.Acquire(ctx, "resync", time.Minute)
	require.NoError(t, err)

	// Releasing the expired holder must not release the new one.
	stale()
	_, err = lm.Acquire(ctx, "resync", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	fresh()
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()

	ch, err := bus.Subscribe(ctx, "sync_events")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "sync_events", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	for range ch {
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ip", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other-ip", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// newTestClient connects to the Redis named by PREDSYNC_TEST_REDIS_ADDR and
// skips the test when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PREDSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PREDSYNC_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `stakes:pred_v1_a:`, escapeGlob("stakes:pred_v1_a:"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}

func TestStoreVersionedPut(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewStore(c)
	ns := "test-" + uuid.NewString() + ":"
	t.Cleanup(func() {
		_ = c.Underlying().Del(context.Background(), ns+"a", ns+"b").Err()
	})

	require.NoError(t, s.Put(ctx, ns+"a", 7, []byte("seven")))
	require.NoError(t, s.Put(ctx, ns+"a", 6, []byte("six")))
	got, err := s.Get(ctx, ns+"a")
	require.NoError(t, err)
	assert.Equal(t, "seven", string(got))

	require.NoError(t, s.Put(ctx, ns+"a", 8, []byte("eight")))
	require.NoError(t, s.Put(ctx, ns+"b", 1, []byte("bee")))

	vals, err := s.ListByPrefix(ctx, ns)
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("eight"), []byte("bee")}, vals)

	_, err = s.Get(ctx, ns+"missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "test-" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, key, 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	key := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = c.Underlying().Del(context.Background(), rateLimitKey(key)).Err() })

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)
	channel := "test-" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, channel, []byte("ping")))

	select {
	case msg := <-ch:
		assert.Equal(t, "ping", string(msg))
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
	}
}

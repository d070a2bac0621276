package domain

import (
	"context"
	"time"
)

// CacheStore is a key/value store with per-key versioned overwrite. Put
// replaces the stored value only when version is >= the stored version; an
// older write is dropped without error. Versions are ledger block heights,
// so concurrent writers converge on the most recent ledger read.
type CacheStore interface {
	Put(ctx context.Context, key string, version uint64, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	ListByPrefix(ctx context.Context, prefix string) ([][]byte, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of sync events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter admits at most limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

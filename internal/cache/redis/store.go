package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predsync/internal/domain"
)

//go:embed scripts/versioned_put.lua
var versionedPutLua string

// scanBatch is the COUNT hint passed to SCAN by ListByPrefix.
const scanBatch = 200

// Store implements domain.CacheStore. Each key is a hash holding the payload
// and the ledger block height it was read at; writes go through a Lua
// compare-and-set so an older snapshot never replaces a newer one.
//
// Key schema:
//
//	{key} - hash with fields "version" and "data"
type Store struct {
	rdb   *redis.Client
	putSc *redis.Script
}

// NewStore creates a Store backed by the given Client.
func NewStore(c *Client) *Store {
	return &Store{
		rdb:   c.Underlying(),
		putSc: redis.NewScript(versionedPutLua),
	}
}

// Put writes value under key unless a newer version is stored.
func (s *Store) Put(ctx context.Context, key string, version uint64, value []byte) error {
	if err := s.putSc.Run(ctx, s.rdb, []string{key}, version, value).Err(); err != nil {
		return fmt.Errorf("redis: put %s: %w", key, err)
	}
	return nil
}

// Get returns the payload stored under key.
// It returns domain.ErrNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.HGet(ctx, key, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// ListByPrefix returns the payloads of every key starting with prefix. Keys
// are discovered with SCAN and fetched in a single pipeline; keys removed
// between the two steps are skipped.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, k, "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list %s: %w", prefix, err)
	}

	out := make([][]byte, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Compile-time interface check.
var _ domain.CacheStore = (*Store)(nil)

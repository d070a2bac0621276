// Package memory implements the domain cache interfaces in process memory.
// It backs single-replica deployments and tests.
package memory

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/alanyoungcy/predsync/internal/domain"
)

type entry struct {
	version uint64
	value   []byte
}

// Store implements domain.CacheStore with a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Put stores value under key unless a newer version is already stored.
func (s *Store) Put(ctx context.Context, key string, version uint64, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && cur.version > version {
		return nil
	}
	s.entries[key] = entry{version: version, value: bytes.Clone(value)}
	return nil
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

// ListByPrefix returns every value whose key starts with prefix, ordered by
// key.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, bytes.Clone(s.entries[k].value))
	}
	return out, nil
}

// Version returns the stored version of key.
func (s *Store) Version(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e.version, ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface check.
var _ domain.CacheStore = (*Store)(nil)

package reconcile

import (
	"sync"
	"time"
)

// Dedup suppresses logically identical submissions while an earlier one is
// still pending. A claim lasts until it is released or its TTL passes. It is
// safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fingerprint -> claimed at
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup whose claims expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records fingerprint and returns true, or returns false if an
// unexpired claim for it already exists.
func (d *Dedup) Claim(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[fingerprint]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[fingerprint] = now
	return true
}

// Release drops the claim on fingerprint.
func (d *Dedup) Release(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, fingerprint)
}

// Cleanup removes expired claims.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for fp, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, fp)
		}
	}
}

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

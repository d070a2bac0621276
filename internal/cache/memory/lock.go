package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// LockManager implements domain.LockManager within a single process. Locks
// expire after their TTL like their Redis counterparts.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]uint64
	until map[string]time.Time
	seq   uint64
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]uint64),
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire obtains the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if exp, ok := lm.until[key]; ok && lm.now().Before(exp) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = token
	lm.until[key] = lm.now().Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if lm.held[key] == token {
				delete(lm.held, key)
				delete(lm.until, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)

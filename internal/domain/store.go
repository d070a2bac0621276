package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	TxID      string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only log of ledger operation outcomes:
// submissions, confirmations, failures and degraded syncs.
type AuditStore interface {
	Log(ctx context.Context, event, txID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByTx(ctx context.Context, txID string) ([]AuditEntry, error)
}

package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// SyncEventsChannel is the signal bus channel sync state changes are
// published on.
const SyncEventsChannel = "sync_events"

// Notification event types.
const (
	EventTxFailed      = "tx_failed"
	EventStatusUnknown = "tx_status_unknown"
	EventSyncDelayed   = "sync_delayed"
)

// Audit event types.
const (
	auditSubmitted     = "tx_submitted"
	auditSubmitFailed  = "tx_submit_failed"
	auditConfirmed     = "tx_confirmed"
	auditTxFailed      = "tx_failed"
	auditStatusUnknown = "tx_status_unknown"
	auditSyncOK        = "sync_ok"
	auditSyncAbandoned = "sync_abandoned"
)

// Notifier delivers operator and user notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SyncEvent is the payload published on SyncEventsChannel.
type SyncEvent struct {
	TxID         string               `json:"tx_id"`
	Kind         domain.OperationKind `json:"kind"`
	PredictionID string               `json:"prediction_id"`
	User         string               `json:"user,omitempty"`
	State        domain.SyncState     `json:"state"`
	Attempts     int                  `json:"attempts"`
	At           time.Time            `json:"at"`
}

func (e *Engine) publish(ctx context.Context, ps domain.PendingSync) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(SyncEvent{
		TxID:         ps.TxID,
		Kind:         ps.Kind,
		PredictionID: ps.PredictionID,
		User:         ps.User,
		State:        ps.State,
		Attempts:     ps.Attempts,
		At:           e.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, SyncEventsChannel, data); err != nil {
		e.logger.WarnContext(ctx, "publish sync event failed",
			slog.String("tx", ps.TxID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) audit(ctx context.Context, event, txID string, detail map[string]any) {
	if e.auditLog == nil {
		return
	}
	if err := e.auditLog.Log(ctx, event, txID, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("tx", txID),
			slog.String("error", err.Error()),
		)
	}
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/projection"
)

// HandleConfirmation syncs the cache after a confirmed transaction. It runs
// at most one sync sequence per TxID: a repeated delivery waits for the first
// sequence and returns its outcome. The sequence runs on the engine's own
// context, so a caller that stops waiting does not abort it. Sync failures
// never surface as errors; they end in StateSyncAbandoned with Degraded set.
func (e *Engine) HandleConfirmation(ctx context.Context, c domain.Confirmation) domain.Outcome {
	e.mu.Lock()
	h, ok := e.handled[c.TxID]
	if !ok {
		if e.closed {
			e.mu.Unlock()
			return domain.Outcome{TxID: c.TxID, State: domain.StateConfirmed, Degraded: true, Message: "engine shutting down"}
		}
		h = &handling{done: make(chan struct{}), conf: c, at: e.now()}
		e.handled[c.TxID] = h
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			h.outcome = e.syncWithRetry(e.baseCtx, c)
			close(h.done)
		}()
	}
	e.mu.Unlock()

	select {
	case <-h.done:
		return h.outcome
	case <-ctx.Done():
		return domain.Outcome{TxID: c.TxID, State: domain.StateSyncing, Degraded: true, Message: "sync in progress"}
	}
}

func (e *Engine) syncWithRetry(ctx context.Context, c domain.Confirmation) domain.Outcome {
	log := e.logger.With(slog.String("tx", c.TxID), slog.String("prediction", c.PredictionID))
	e.setState(ctx, c.TxID, domain.StateSyncing)

	if !sleepCtx(ctx, e.cfg.GracePeriod) {
		return domain.Outcome{TxID: c.TxID, State: domain.StateSyncing, Degraded: true, Message: "sync interrupted"}
	}

	var (
		lastErr  error
		attempts int
	)
	for attempts < e.cfg.MaxAttempts {
		if attempts > 0 {
			e.metrics.inc(&e.metrics.SyncRetries)
			e.setState(ctx, c.TxID, domain.StateSyncRetry)
			if !sleepCtx(ctx, e.cfg.RetryDelay) {
				break
			}
		}
		attempts++
		n := attempts
		e.updatePending(ctx, c.TxID, func(ps *domain.PendingSync) { ps.Attempts = n })

		err := e.syncOnce(ctx, c)
		if err == nil {
			e.metrics.inc(&e.metrics.SyncOK)
			e.setState(ctx, c.TxID, domain.StateSyncOK)
			log.InfoContext(ctx, "cache synced", slog.Int("attempts", attempts))
			e.audit(ctx, auditSyncOK, c.TxID, map[string]any{"prediction_id": c.PredictionID, "attempts": attempts})
			return domain.Outcome{TxID: c.TxID, State: domain.StateSyncOK, Attempts: attempts}
		}
		lastErr = err
		log.WarnContext(ctx, "cache sync attempt failed",
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)
	}

	e.metrics.inc(&e.metrics.SyncAbandoned)
	e.setState(ctx, c.TxID, domain.StateSyncAbandoned)
	reason := "interrupted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	log.ErrorContext(ctx, "cache sync abandoned", slog.Int("attempts", attempts), slog.String("error", reason))

	// Side effects use a detached context so they still happen when the
	// caller gave up.
	sideCtx := context.WithoutCancel(ctx)
	e.notify(sideCtx, EventSyncDelayed, "Update delayed",
		fmt.Sprintf("Transaction %s on %s is confirmed, but the display may take a few minutes to catch up.", c.TxID, c.PredictionID))
	e.audit(sideCtx, auditSyncAbandoned, c.TxID, map[string]any{
		"prediction_id": c.PredictionID,
		"attempts":      attempts,
		"error":         reason,
	})
	return domain.Outcome{
		TxID:     c.TxID,
		State:    domain.StateSyncAbandoned,
		Attempts: attempts,
		Degraded: true,
		Message:  "confirmed on ledger; cache will catch up on the next resync",
	}
}

// syncOnce re-reads canonical state for c and overwrites the cache.
func (e *Engine) syncOnce(ctx context.Context, c domain.Confirmation) error {
	pred, err := e.ledger.ReadPrediction(ctx, c.PredictionID)
	if err != nil {
		return fmt.Errorf("read prediction: %w: %w", domain.ErrSyncTransient, err)
	}
	if err := e.proj.PutPrediction(ctx, pred); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSyncTransient, err)
	}
	if c.User == "" {
		return nil
	}

	stake, err := e.ledger.ReadStake(ctx, c.PredictionID, c.User)
	if err != nil {
		return fmt.Errorf("read stake: %w: %w", domain.ErrSyncTransient, err)
	}
	if err := e.proj.PutStake(ctx, stake); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSyncTransient, err)
	}
	if err := e.proj.PutTx(ctx, c.User, txRecord(c, e.now(), stake.Block)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSyncTransient, err)
	}
	return nil
}

func txRecord(c domain.Confirmation, at time.Time, block uint64) domain.TxRecord {
	return domain.TxRecord{
		TxID:         c.TxID,
		Kind:         c.Kind,
		PredictionID: c.PredictionID,
		Token:        c.Token,
		Side:         c.Side,
		Amount:       c.Amount,
		ConfirmedAt:  at.UTC(),
		Block:        block,
	}
}

// ReconcileNow verifies txID on the ledger and syncs the cache for it. It
// backs the "refresh" action of a UI that just saw its transaction land.
// Only invalid arguments are returned as errors; ledger and cache problems
// are reported through the Outcome.
func (e *Engine) ReconcileNow(ctx context.Context, predictionID, user, txID string) (domain.Outcome, error) {
	if _, err := domain.ParsePredictionID(predictionID); err != nil {
		return domain.Outcome{}, err
	}
	if strings.TrimSpace(txID) == "" {
		return domain.Outcome{}, domain.Invalid("tx_id", "is required")
	}

	c, err := e.confirmationForRefresh(predictionID, user, txID)
	if err != nil {
		return domain.Outcome{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	status, err := e.ledger.WaitForConfirmation(waitCtx, txID)
	cancel()
	switch {
	case errors.Is(err, domain.ErrValidation):
		return domain.Outcome{}, err
	case err != nil:
		return domain.Outcome{TxID: txID, State: domain.StateUnknown, Degraded: true, Message: "transaction status unknown, check again later"}, nil
	case status != domain.TxConfirmed:
		return domain.Outcome{TxID: txID, State: domain.StateFailed, Message: "transaction failed on the ledger"}, nil
	}
	return e.HandleConfirmation(ctx, c), nil
}

// confirmationForRefresh describes txID for ReconcileNow. A transaction this
// engine submitted is described by its own operation, so the history entry
// carries the real token, side and amount; the caller's arguments must then
// agree with it. An unknown transaction is described by the arguments alone.
func (e *Engine) confirmationForRefresh(predictionID, user, txID string) (domain.Confirmation, error) {
	e.mu.Lock()
	op, tracked := e.ops[txID]
	e.mu.Unlock()
	if !tracked {
		c := domain.Confirmation{TxID: txID, PredictionID: predictionID, User: user}
		if user != "" {
			c.Kind = domain.OpStake
		}
		return c, nil
	}
	if op.PredictionID != predictionID {
		return domain.Confirmation{}, domain.Invalid("prediction_id", "does not match the transaction")
	}
	if user != "" && projection.NormalizeUser(user) != projection.NormalizeUser(op.User) {
		return domain.Confirmation{}, domain.Invalid("user", "does not match the transaction")
	}
	return confirmationFor(txID, op), nil
}

// pruneHandled forgets completed sync sequences older than the retention.
func (e *Engine) pruneHandled() {
	cutoff := e.now().Add(-e.cfg.HandledRetention)
	e.mu.Lock()
	defer e.mu.Unlock()
	for txID, h := range e.handled {
		select {
		case <-h.done:
			if h.at.Before(cutoff) {
				delete(e.handled, txID)
			}
		default:
		}
	}
}

// Handled reports whether a sync sequence ran or is running for txID.
func (e *Engine) Handled(txID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.handled[txID]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

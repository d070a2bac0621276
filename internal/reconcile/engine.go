// Package reconcile keeps the read-side cache consistent with the ledger.
//
// Every submitted transaction is tracked by its own goroutine through
//
//	submitted -> awaiting_confirmation -> {confirmed, failed, unknown}
//	confirmed -> syncing -> {sync_ok, sync_retry(n), sync_abandoned}
//
// Ledger writes are never retried. Cache syncs re-read canonical state and
// overwrite the cache with versioned puts, so they are idempotent and may be
// retried or repeated by the periodic resync freely.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/projection"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("reconcile: engine closed")

// Config holds the engine's timing and concurrency parameters.
type Config struct {
	GracePeriod       time.Duration // delay between confirmation and first cache read
	MaxAttempts       int
	RetryDelay        time.Duration
	ConfirmTimeout    time.Duration
	ResyncInterval    time.Duration
	ResyncConcurrency int
	ResyncLockTTL     time.Duration
	DedupTTL          time.Duration
	HandledRetention  time.Duration // how long a TxID is remembered as synced
	PruneInterval     time.Duration // housekeeping period for dedup and handled entries
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       5 * time.Second,
		MaxAttempts:       3,
		RetryDelay:        2 * time.Second,
		ConfirmTimeout:    2 * time.Minute,
		ResyncInterval:    5 * time.Minute,
		ResyncConcurrency: 8,
		ResyncLockTTL:     5 * time.Minute,
		DedupTTL:          5 * time.Minute,
		HandledRetention:  time.Hour,
		PruneInterval:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = d.ResyncInterval
	}
	if c.ResyncConcurrency <= 0 {
		c.ResyncConcurrency = d.ResyncConcurrency
	}
	if c.ResyncLockTTL <= 0 {
		c.ResyncLockTTL = c.ResyncInterval
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
	if c.HandledRetention <= 0 {
		c.HandledRetention = d.HandledRetention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = min(d.PruneInterval, c.DedupTTL, c.HandledRetention)
	}
	return c
}

// Deps are the engine's collaborators. Ledger and Cache are required; the
// rest may be nil.
type Deps struct {
	Ledger   domain.Ledger
	Cache    *projection.Projection
	Notifier Notifier
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Locker   domain.LockManager
	Metrics  *Metrics
}

// handling is the exactly-once record of one confirmation's sync sequence.
// An abandoned record keeps its confirmation until a resync has rewritten the
// prediction and the history entry the sync never stored.
type handling struct {
	done     chan struct{}
	conf     domain.Confirmation
	outcome  domain.Outcome
	at       time.Time
	repaired bool
}

// Engine is the reconciliation engine.
type Engine struct {
	cfg      Config
	ledger   domain.Ledger
	proj     *projection.Projection
	notifier Notifier
	auditLog domain.AuditStore
	bus      domain.SignalBus
	locker   domain.LockManager
	metrics  *Metrics
	logger   *slog.Logger
	dedup    *Dedup
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*domain.PendingSync
	ops     map[string]domain.Operation
	handled map[string]*handling
	closed  bool

	resyncGroup singleflight.Group
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		ledger:   deps.Ledger,
		proj:     deps.Cache,
		notifier: deps.Notifier,
		auditLog: deps.Audit,
		bus:      deps.Bus,
		locker:   deps.Locker,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "reconcile")),
		dedup:    NewDedup(cfg.DedupTTL),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		pending:  make(map[string]*domain.PendingSync),
		ops:      make(map[string]domain.Operation),
		handled:  make(map[string]*handling),
	}
	e.wg.Add(1)
	go e.housekeep()
	return e
}

// housekeep expires dedup fingerprints and old handled records until Close.
func (e *Engine) housekeep() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			e.dedup.Cleanup()
			e.pruneHandled()
		}
	}
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Submit validates op, submits it to the ledger exactly once and starts
// tracking the resulting transaction. An identical operation still pending
// is rejected with domain.ErrDuplicateSubmission. Ledger rejections are
// returned as *domain.SubmissionError and are not retried.
func (e *Engine) Submit(ctx context.Context, op domain.Operation) (domain.PendingSync, error) {
	if err := op.Validate(); err != nil {
		return domain.PendingSync{}, err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return domain.PendingSync{}, ErrClosed
	}

	fp := op.Fingerprint()
	if !e.dedup.Claim(fp) {
		e.metrics.inc(&e.metrics.Duplicates)
		return domain.PendingSync{}, fmt.Errorf("reconcile: %s %s: %w", op.Kind, op.PredictionID, domain.ErrDuplicateSubmission)
	}

	txID, err := e.submitToLedger(ctx, op)
	if err != nil {
		e.dedup.Release(fp)
		e.metrics.inc(&e.metrics.SubmitErrors)
		e.logger.WarnContext(ctx, "ledger submission failed",
			slog.String("kind", string(op.Kind)),
			slog.String("prediction", op.PredictionID),
			slog.String("error", err.Error()),
		)
		e.audit(ctx, auditSubmitFailed, "", operationDetail(op, err))
		return domain.PendingSync{}, &domain.SubmissionError{Kind: op.Kind, Err: err}
	}

	ps := domain.PendingSync{
		TxID:         txID,
		Kind:         op.Kind,
		PredictionID: op.PredictionID,
		User:         projection.NormalizeUser(op.User),
		SubmittedAt:  e.now().UTC(),
		State:        domain.StateAwaitingConfirmation,
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.dedup.Release(fp)
		return ps, ErrClosed
	}
	e.pending[txID] = &ps
	e.ops[txID] = op
	n := len(e.pending)
	e.wg.Add(1)
	e.mu.Unlock()
	e.metrics.inc(&e.metrics.Submissions)
	e.metrics.setPending(n)

	e.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx", txID),
		slog.String("kind", string(op.Kind)),
		slog.String("prediction", op.PredictionID),
	)
	e.audit(ctx, auditSubmitted, txID, operationDetail(op, nil))
	e.publish(ctx, ps)

	go e.track(ps, op, fp)
	return ps, nil
}

func (e *Engine) submitToLedger(ctx context.Context, op domain.Operation) (string, error) {
	switch op.Kind {
	case domain.OpStake:
		return e.ledger.SubmitStake(ctx, domain.StakeIntent{
			PredictionID: op.PredictionID,
			User:         op.User,
			Side:         op.Side,
			Token:        op.Token,
			Amount:       op.Amount,
		})
	case domain.OpResolve:
		return e.ledger.SubmitResolve(ctx, op.PredictionID, op.Outcome)
	case domain.OpCancel:
		return e.ledger.SubmitCancel(ctx, op.PredictionID, op.Reason)
	case domain.OpApprove:
		return e.ledger.SubmitApproval(ctx, op.PredictionID, true, "")
	case domain.OpReject:
		return e.ledger.SubmitApproval(ctx, op.PredictionID, false, op.Reason)
	}
	return "", domain.Invalid("kind", string(op.Kind))
}

// track waits for the confirmation of one transaction and hands it to the
// sync sequence.
func (e *Engine) track(ps domain.PendingSync, op domain.Operation, fp string) {
	defer e.wg.Done()
	defer e.dedup.Release(fp)
	defer e.forget(ps.TxID)

	ctx := e.baseCtx
	log := e.logger.With(slog.String("tx", ps.TxID), slog.String("prediction", ps.PredictionID))

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	status, err := e.ledger.WaitForConfirmation(waitCtx, ps.TxID)
	cancel()

	if ctx.Err() != nil {
		log.Info("tracking stopped by shutdown")
		return
	}
	if err != nil {
		e.metrics.inc(&e.metrics.TxUnknown)
		e.setState(ctx, ps.TxID, domain.StateUnknown)
		log.WarnContext(ctx, "confirmation not observed", slog.String("error", err.Error()))
		e.notify(ctx, EventStatusUnknown, "Transaction status unknown",
			fmt.Sprintf("Transaction %s for %s was not confirmed within %s. Its status is unknown, check again later.",
				ps.TxID, ps.PredictionID, e.cfg.ConfirmTimeout))
		e.audit(ctx, auditStatusUnknown, ps.TxID, map[string]any{"prediction_id": ps.PredictionID, "error": err.Error()})
		return
	}
	if status != domain.TxConfirmed {
		e.metrics.inc(&e.metrics.TxFailed)
		e.setState(ctx, ps.TxID, domain.StateFailed)
		log.WarnContext(ctx, "transaction failed on ledger")
		e.notify(ctx, EventTxFailed, "Transaction failed",
			fmt.Sprintf("Transaction %s (%s on %s) failed on the ledger. Nothing was changed.", ps.TxID, ps.Kind, ps.PredictionID))
		e.audit(ctx, auditTxFailed, ps.TxID, map[string]any{"prediction_id": ps.PredictionID, "kind": string(ps.Kind)})
		return
	}

	e.metrics.inc(&e.metrics.Confirmed)
	e.setState(ctx, ps.TxID, domain.StateConfirmed)
	e.audit(ctx, auditConfirmed, ps.TxID, map[string]any{"prediction_id": ps.PredictionID, "kind": string(ps.Kind)})

	e.HandleConfirmation(ctx, confirmationFor(ps.TxID, op))
}

// confirmationFor describes the confirmed transaction txID of op.
func confirmationFor(txID string, op domain.Operation) domain.Confirmation {
	return domain.Confirmation{
		TxID:         txID,
		Kind:         op.Kind,
		PredictionID: op.PredictionID,
		User:         op.User,
		Token:        op.Token,
		Side:         op.Side,
		Amount:       op.Amount,
	}
}

// setState updates a tracked transaction and publishes the change.
func (e *Engine) setState(ctx context.Context, txID string, state domain.SyncState) {
	e.updatePending(ctx, txID, func(ps *domain.PendingSync) { ps.State = state })
}

func (e *Engine) updatePending(ctx context.Context, txID string, fn func(*domain.PendingSync)) {
	e.mu.Lock()
	ps, ok := e.pending[txID]
	if !ok {
		e.mu.Unlock()
		return
	}
	fn(ps)
	snapshot := *ps
	e.mu.Unlock()
	e.publish(ctx, snapshot)
}

func (e *Engine) forget(txID string) {
	e.mu.Lock()
	delete(e.pending, txID)
	delete(e.ops, txID)
	n := len(e.pending)
	e.mu.Unlock()
	e.metrics.setPending(n)
}

// Pending returns the in-flight transactions ordered by submission time.
func (e *Engine) Pending() []domain.PendingSync {
	e.mu.Lock()
	out := make([]domain.PendingSync, 0, len(e.pending))
	for _, ps := range e.pending {
		out = append(out, *ps)
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.PendingSync) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TxID, b.TxID)
	})
	return out
}

// Close stops accepting submissions, cancels tracking goroutines and waits
// for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

func operationDetail(op domain.Operation, err error) map[string]any {
	d := map[string]any{
		"kind":          string(op.Kind),
		"prediction_id": op.PredictionID,
	}
	if op.User != "" {
		d["user"] = projection.NormalizeUser(op.User)
	}
	if op.Kind == domain.OpStake {
		d["side"] = string(op.Side)
		d["token"] = string(op.Token)
		if op.Amount != nil {
			d["amount"] = op.Amount.String()
		}
	}
	if op.Reason != "" {
		d["reason"] = op.Reason
	}
	if err != nil {
		d["error"] = err.Error()
	}
	return d
}

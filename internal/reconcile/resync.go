package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/projection"
)

// resyncLockKey names the distributed lock guarding scheduled resyncs.
const resyncLockKey = "reconcile:resync"

type predictionResync struct {
	stakes   int
	drifted  int
	repaired int
}

// ResyncActivePredictions re-reads predictions and their participants' stakes
// from the ledger and overwrites the cache. A pass covers the predictions the
// ledger lists as active, the ones the cache still shows as open, and the
// ones with an abandoned sync in this process, so a resolve, cancel or reject
// whose sync was abandoned is repaired even though the prediction is no
// longer active. History entries of abandoned stake syncs are rewritten once
// their prediction has been resynced. It is idempotent and safe to run
// concurrently with itself and with per-transaction syncs; concurrent passes
// share the work for a prediction rather than repeating it.
func (e *Engine) ResyncActivePredictions(ctx context.Context) (domain.ResyncReport, error) {
	start := e.now()
	ids, err := e.resyncTargets(ctx)
	if err != nil {
		return domain.ResyncReport{}, err
	}

	var (
		mu     sync.Mutex
		report domain.ResyncReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ResyncConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			v, err, _ := e.resyncGroup.Do(id, func() (any, error) {
				return e.resyncPrediction(gctx, id)
			})
			mu.Lock()
			defer mu.Unlock()
			report.Predictions++
			if err != nil {
				report.Failed++
				e.logger.WarnContext(gctx, "resync prediction failed",
					slog.String("prediction", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			r := v.(predictionResync)
			report.Stakes += r.stakes
			report.Drifted += r.drifted
			report.Repaired += r.repaired
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = e.now().Sub(start)
	e.metrics.inc(&e.metrics.ResyncRuns)
	e.metrics.add(&e.metrics.ResyncDrift, report.Drifted)
	e.logger.InfoContext(ctx, "resync complete",
		slog.Int("predictions", report.Predictions),
		slog.Int("stakes", report.Stakes),
		slog.Int("drifted", report.Drifted),
		slog.Int("failed", report.Failed),
		slog.Int("repaired", report.Repaired),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// resyncTargets returns the sorted, de-duplicated prediction IDs of one pass.
// A cache that cannot be listed narrows the pass to the ledger's view.
func (e *Engine) resyncTargets(ctx context.Context) ([]string, error) {
	active, err := e.ledger.ListActivePredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list active predictions: %w", err)
	}
	set := make(map[string]struct{}, len(active))
	for _, id := range active {
		set[id] = struct{}{}
	}

	cached, err := e.proj.Predictions(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "list cached predictions", slog.String("error", err.Error()))
	}
	for _, p := range cached {
		if p.IsOpen() && p.Approval != domain.ApprovalRejected {
			set[p.ID] = struct{}{}
		}
	}
	for _, h := range e.abandonedFor("") {
		set[h.conf.PredictionID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

// abandonedFor returns the unrepaired abandoned sync records of predictionID,
// or of every prediction when predictionID is empty.
func (e *Engine) abandonedFor(predictionID string) []*handling {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*handling
	for _, h := range e.handled {
		select {
		case <-h.done:
		default:
			continue
		}
		if h.repaired || h.outcome.State != domain.StateSyncAbandoned {
			continue
		}
		if predictionID == "" || h.conf.PredictionID == predictionID {
			out = append(out, h)
		}
	}
	return out
}

func (e *Engine) markRepaired(h *handling) {
	e.mu.Lock()
	h.repaired = true
	e.mu.Unlock()
}

func (e *Engine) resyncPrediction(ctx context.Context, id string) (predictionResync, error) {
	var r predictionResync

	pred, err := e.ledger.ReadPrediction(ctx, id)
	if err != nil {
		return r, fmt.Errorf("read prediction: %w", err)
	}
	cached, err := e.proj.Prediction(ctx, id)
	if err != nil || !cached.SameState(pred) {
		r.drifted++
		e.logger.DebugContext(ctx, "prediction drift", slog.String("prediction", id))
	}
	if err := e.proj.PutPrediction(ctx, pred); err != nil {
		return r, err
	}

	users, err := e.ledger.ListParticipants(ctx, id)
	if err != nil {
		return r, fmt.Errorf("list participants: %w", err)
	}
	blocks := make(map[string]uint64, len(users))
	for _, user := range users {
		stake, err := e.ledger.ReadStake(ctx, id, user)
		if err != nil {
			return r, fmt.Errorf("read stake %s: %w", user, err)
		}
		cachedStake, err := e.proj.Stake(ctx, id, user)
		if err != nil || !cachedStake.SameState(stake) {
			r.drifted++
			e.logger.DebugContext(ctx, "stake drift",
				slog.String("prediction", id),
				slog.String("user", stake.User),
			)
		}
		if err := e.proj.PutStake(ctx, stake); err != nil {
			return r, err
		}
		blocks[projection.NormalizeUser(stake.User)] = stake.Block
		r.stakes++
	}

	for _, h := range e.abandonedFor(id) {
		if c := h.conf; c.User != "" {
			block, ok := blocks[projection.NormalizeUser(c.User)]
			if !ok {
				block = pred.Block
			}
			if err := e.proj.PutTx(ctx, c.User, txRecord(c, h.at, block)); err != nil {
				return r, err
			}
		}
		e.markRepaired(h)
		r.repaired++
		e.logger.InfoContext(ctx, "abandoned sync repaired",
			slog.String("tx", h.conf.TxID),
			slog.String("prediction", id),
		)
	}
	return r, nil
}

// RunResyncOnce runs one resync pass under the distributed resync lock. When
// another replica holds the lock the pass is skipped and reported as such.
func (e *Engine) RunResyncOnce(ctx context.Context) (domain.ResyncReport, error) {
	if e.locker != nil {
		unlock, err := e.locker.Acquire(ctx, resyncLockKey, e.cfg.ResyncLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			e.metrics.inc(&e.metrics.ResyncSkipped)
			e.logger.DebugContext(ctx, "resync lock held elsewhere, skipping")
			return domain.ResyncReport{Skipped: true}, nil
		}
		if err != nil {
			return domain.ResyncReport{}, fmt.Errorf("reconcile: acquire resync lock: %w", err)
		}
		defer unlock()
	}
	return e.ResyncActivePredictions(ctx)
}

// RunResyncLoop runs a resync pass immediately and then every
// ResyncInterval until ctx is cancelled.
func (e *Engine) RunResyncLoop(ctx context.Context) error {
	e.logger.InfoContext(ctx, "resync loop starting", slog.Duration("interval", e.cfg.ResyncInterval))

	tick := func() {
		if _, err := e.RunResyncOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "resync failed", slog.String("error", err.Error()))
		}
	}
	tick()

	ticker := time.NewTicker(e.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("resync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}

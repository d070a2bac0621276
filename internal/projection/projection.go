// Package projection maps canonical ledger snapshots onto cache keys. It is
// the contract between the reconciliation engine, which writes, and the
// read side, which only reads.
//
// Key schema:
//
//	prediction:{predictionID}             - domain.Prediction JSON
//	stakes:{predictionID}:{user}          - domain.Stake JSON
//	user-stakes:{user}:{predictionID}     - domain.Stake JSON (per-user index)
//	user-tx-history:{user}:{txID}         - domain.TxRecord JSON
//
// User addresses are lower-cased before they become part of a key.
package projection

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// PredictionKey returns the cache key of a prediction snapshot.
func PredictionKey(id string) string { return "prediction:" + id }

// StakeKey returns the cache key of a user's stake in a prediction.
func StakeKey(predictionID, user string) string {
	return "stakes:" + predictionID + ":" + NormalizeUser(user)
}

// UserStakeKey returns the per-user index key of a stake.
func UserStakeKey(user, predictionID string) string {
	return "user-stakes:" + NormalizeUser(user) + ":" + predictionID
}

// TxKey returns the cache key of a transaction-history entry.
func TxKey(user, txID string) string {
	return "user-tx-history:" + NormalizeUser(user) + ":" + txID
}

// NormalizeUser canonicalises a user address for use in keys.
func NormalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// Projection reads and writes snapshots through a domain.CacheStore.
type Projection struct {
	store domain.CacheStore
}

// New creates a Projection over store.
func New(store domain.CacheStore) *Projection {
	return &Projection{store: store}
}

// PutPrediction writes a prediction snapshot versioned by its block.
func (p *Projection) PutPrediction(ctx context.Context, pred domain.Prediction) error {
	return p.put(ctx, PredictionKey(pred.ID), pred.Block, pred)
}

// Prediction returns the cached snapshot or domain.ErrNotFound.
func (p *Projection) Prediction(ctx context.Context, id string) (domain.Prediction, error) {
	var pred domain.Prediction
	err := p.get(ctx, PredictionKey(id), &pred)
	return pred, err
}

// Predictions returns every cached prediction ordered by ID.
func (p *Projection) Predictions(ctx context.Context) ([]domain.Prediction, error) {
	preds, err := list[domain.Prediction](ctx, p.store, "prediction:")
	if err != nil {
		return nil, err
	}
	slices.SortFunc(preds, func(a, b domain.Prediction) int { return cmp.Compare(a.ID, b.ID) })
	return preds, nil
}

// PutStake writes a stake under both its prediction key and the user index.
func (p *Projection) PutStake(ctx context.Context, s domain.Stake) error {
	s.User = NormalizeUser(s.User)
	if err := p.put(ctx, StakeKey(s.PredictionID, s.User), s.Block, s); err != nil {
		return err
	}
	return p.put(ctx, UserStakeKey(s.User, s.PredictionID), s.Block, s)
}

// Stake returns the cached stake or domain.ErrNotFound.
func (p *Projection) Stake(ctx context.Context, predictionID, user string) (domain.Stake, error) {
	var s domain.Stake
	err := p.get(ctx, StakeKey(predictionID, user), &s)
	return s, err
}

// UserStakes returns every cached stake of user ordered by prediction ID.
func (p *Projection) UserStakes(ctx context.Context, user string) ([]domain.Stake, error) {
	stakes, err := list[domain.Stake](ctx, p.store, "user-stakes:"+NormalizeUser(user)+":")
	if err != nil {
		return nil, err
	}
	slices.SortFunc(stakes, func(a, b domain.Stake) int { return cmp.Compare(a.PredictionID, b.PredictionID) })
	return stakes, nil
}

// Positions joins the user's cached stakes with their cached predictions.
// Stakes whose prediction is not cached yet are left out.
func (p *Projection) Positions(ctx context.Context, user string) ([]domain.Position, error) {
	stakes, err := p.UserStakes(ctx, user)
	if err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(stakes))
	for _, s := range stakes {
		pred, err := p.Prediction(ctx, s.PredictionID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		positions = append(positions, domain.Position{Prediction: pred, Stake: s})
	}
	return positions, nil
}

// PutTx records a transaction-history entry. Entries are keyed by TxID, so
// recording the same transaction twice leaves one entry.
func (p *Projection) PutTx(ctx context.Context, user string, rec domain.TxRecord) error {
	return p.put(ctx, TxKey(user, rec.TxID), rec.Block, rec)
}

// TxHistory returns the user's transaction history, most recent first.
func (p *Projection) TxHistory(ctx context.Context, user string) ([]domain.TxRecord, error) {
	recs, err := list[domain.TxRecord](ctx, p.store, "user-tx-history:"+NormalizeUser(user)+":")
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b domain.TxRecord) int {
		if c := b.ConfirmedAt.Compare(a.ConfirmedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TxID, b.TxID)
	})
	return recs, nil
}

func (p *Projection) put(ctx context.Context, key string, version uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("projection: marshal %s: %w", key, err)
	}
	if err := p.store.Put(ctx, key, version, data); err != nil {
		return fmt.Errorf("projection: put %s: %w", key, err)
	}
	return nil
}

func (p *Projection) get(ctx context.Context, key string, v any) error {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("projection: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("projection: unmarshal %s: %w", key, err)
	}
	return nil
}

func list[T any](ctx context.Context, store domain.CacheStore, prefix string) ([]T, error) {
	raw, err := store.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("projection: list %s: %w", prefix, err)
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("projection: unmarshal %s*: %w", prefix, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Package ledgertest provides an in-memory domain.Ledger for tests. Every
// confirmed transaction advances the block height by one, so snapshots read
// from the fake carry monotonically increasing versions like the real chain.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/predsync/internal/domain"
)

type tx struct {
	apply  func() error
	status domain.TxStatus
	done   bool
}

// Fake is an in-memory ledger. Transactions are applied when their
// confirmation is first awaited.
type Fake struct {
	mu     sync.Mutex
	block  uint64
	preds  map[string]domain.Prediction
	stakes map[string]map[string]domain.Stake
	txs    map[string]*tx
	seq    int
	hang   bool
	revert bool

	submitErr error

	SubmitCalls atomic.Int64
	ReadCalls   atomic.Int64
}

// New returns an empty Fake at block 1.
func New() *Fake {
	return &Fake{
		block:  1,
		preds:  make(map[string]domain.Prediction),
		stakes: make(map[string]map[string]domain.Stake),
		txs:    make(map[string]*tx),
	}
}

// AddPrediction seeds an open, approved prediction.
func (f *Fake) AddPrediction(id string, feeBps int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preds[id] = domain.Prediction{
		ID:     id,
		FeeBps: feeBps,
		Pools: map[domain.Token]domain.Pool{
			domain.TokenETH:   domain.NewPool(nil, nil),
			domain.TokenSWIPE: domain.NewPool(nil, nil),
		},
		Resolution: domain.Resolution{Status: domain.ResolutionOpen},
		Approval:   domain.ApprovalApproved,
	}
}

// FailSubmissions makes every subsequent submit return err; nil restores.
func (f *Fake) FailSubmissions(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// RevertNext makes the next submitted transaction revert on-chain.
func (f *Fake) RevertNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revert = true
}

// HangConfirmations makes WaitForConfirmation block until its context ends.
func (f *Fake) HangConfirmations(hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = hang
}

// Block returns the current block height.
func (f *Fake) Block() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block
}

// Stake applies a stake directly, bypassing the transaction flow. It models
// activity that reached the chain through another client.
func (f *Fake) Stake(intent domain.StakeIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyStake(intent); err != nil {
		return err
	}
	f.block++
	return nil
}

func (f *Fake) submit(apply func() error) (string, error) {
	f.SubmitCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.seq++
	id := fmt.Sprintf("0x%064x", f.seq)
	t := &tx{apply: apply, status: domain.TxConfirmed}
	if f.revert {
		t.status = domain.TxFailed
		f.revert = false
	}
	f.txs[id] = t
	return id, nil
}

// SubmitStake implements domain.Ledger.
func (f *Fake) SubmitStake(_ context.Context, intent domain.StakeIntent) (string, error) {
	intent.Amount = new(big.Int).Set(intent.Amount)
	return f.submit(func() error { return f.applyStake(intent) })
}

// SubmitResolve implements domain.Ledger.
func (f *Fake) SubmitResolve(_ context.Context, predictionID string, outcome bool) (string, error) {
	return f.submit(func() error {
		return f.mutate(predictionID, func(p *domain.Prediction) error {
			if !p.IsOpen() {
				return fmt.Errorf("prediction %s is not open", predictionID)
			}
			p.Resolution = domain.Resolution{Status: domain.ResolutionResolved, Outcome: outcome}
			return nil
		})
	})
}

// SubmitCancel implements domain.Ledger.
func (f *Fake) SubmitCancel(_ context.Context, predictionID, reason string) (string, error) {
	return f.submit(func() error {
		return f.mutate(predictionID, func(p *domain.Prediction) error {
			if !p.IsOpen() {
				return fmt.Errorf("prediction %s is not open", predictionID)
			}
			p.Resolution = domain.Resolution{Status: domain.ResolutionCancelled, Reason: reason}
			return nil
		})
	})
}

// SubmitApproval implements domain.Ledger.
func (f *Fake) SubmitApproval(_ context.Context, predictionID string, approve bool, _ string) (string, error) {
	return f.submit(func() error {
		return f.mutate(predictionID, func(p *domain.Prediction) error {
			if approve {
				p.Approval = domain.ApprovalApproved
			} else {
				p.Approval = domain.ApprovalRejected
			}
			return nil
		})
	})
}

// WaitForConfirmation implements domain.Ledger. The first wait on a
// successful transaction applies it and advances the block.
func (f *Fake) WaitForConfirmation(ctx context.Context, txID string) (domain.TxStatus, error) {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", fmt.Errorf("ledgertest: wait %s: %w", txID, domain.ErrConfirmationTimeout)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[txID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if !t.done {
		t.done = true
		if t.status == domain.TxConfirmed {
			if err := t.apply(); err != nil {
				t.status = domain.TxFailed
			} else {
				f.block++
			}
		}
	}
	return t.status, nil
}

// ReadPrediction implements domain.Ledger.
func (f *Fake) ReadPrediction(_ context.Context, predictionID string) (domain.Prediction, error) {
	f.ReadCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[predictionID]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	p = clonePrediction(p)
	p.Participants = len(f.stakes[predictionID])
	p.Block = f.block
	return p, nil
}

// ReadStake implements domain.Ledger.
func (f *Fake) ReadStake(_ context.Context, predictionID, user string) (domain.Stake, error) {
	f.ReadCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.preds[predictionID]; !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	user = strings.ToLower(user)
	s, ok := f.stakes[predictionID][user]
	if !ok {
		s = domain.Stake{PredictionID: predictionID, User: user}
	}
	s = cloneStake(s)
	s.Block = f.block
	return s, nil
}

// ListActivePredictions implements domain.Ledger.
func (f *Fake) ListActivePredictions(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, p := range f.preds {
		if p.IsOpen() && p.Approval != domain.ApprovalRejected {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListParticipants implements domain.Ledger.
func (f *Fake) ListParticipants(_ context.Context, predictionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]string, 0, len(f.stakes[predictionID]))
	for u := range f.stakes[predictionID] {
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

// applyStake must be called with f.mu held.
func (f *Fake) applyStake(intent domain.StakeIntent) error {
	p, ok := f.preds[intent.PredictionID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.IsOpen() {
		return fmt.Errorf("prediction %s is not open", intent.PredictionID)
	}
	pool := p.Pool(intent.Token)
	addSide(&pool, intent.Side, intent.Amount)
	p.Pools[intent.Token] = pool
	f.preds[intent.PredictionID] = p

	user := strings.ToLower(intent.User)
	if f.stakes[intent.PredictionID] == nil {
		f.stakes[intent.PredictionID] = make(map[string]domain.Stake)
	}
	s, ok := f.stakes[intent.PredictionID][user]
	if !ok {
		s = domain.Stake{PredictionID: intent.PredictionID, User: user, Amounts: make(map[domain.Token]domain.Pool)}
	}
	amt := s.Amount(intent.Token)
	addSide(&amt, intent.Side, intent.Amount)
	s.Amounts[intent.Token] = amt
	f.stakes[intent.PredictionID][user] = s
	return nil
}

// mutate must be called with f.mu held.
func (f *Fake) mutate(predictionID string, fn func(*domain.Prediction) error) error {
	p, ok := f.preds[predictionID]
	if !ok {
		return domain.ErrNotFound
	}
	p = clonePrediction(p)
	if err := fn(&p); err != nil {
		return err
	}
	f.preds[predictionID] = p
	return nil
}

func addSide(p *domain.Pool, side domain.Side, amount *big.Int) {
	if side == domain.SideYes {
		p.Yes = new(big.Int).Add(p.Yes, amount)
	} else {
		p.No = new(big.Int).Add(p.No, amount)
	}
}

func clonePrediction(p domain.Prediction) domain.Prediction {
	pools := make(map[domain.Token]domain.Pool, len(p.Pools))
	for t := range p.Pools {
		pools[t] = p.Pool(t)
	}
	p.Pools = pools
	return p
}

func cloneStake(s domain.Stake) domain.Stake {
	amounts := make(map[domain.Token]domain.Pool, len(s.Amounts))
	for t := range s.Amounts {
		amounts[t] = s.Amount(t)
	}
	s.Amounts = amounts
	return s
}

// Compile-time interface check.
var _ domain.Ledger = (*Fake)(nil)

// Package portfolio folds a user's cached positions into win/loss records and
// per-token profit totals. The fold functions are pure; Aggregator only adds
// the cache read in front of them.
package portfolio

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/payout"
)

// Record counts settled outcomes. A resolved prediction is a win when the
// user had stake on the winning side in any token.
type Record struct {
	Wins      int `json:"wins"`
	Losses    int `json:"losses"`
	Open      int `json:"open"`
	Cancelled int `json:"cancelled"`
}

// TokenTotals sums one token over settled (resolved or cancelled)
// predictions. Stake in open predictions is reported only as OpenStake.
type TokenTotals struct {
	Token     domain.Token `json:"token"`
	Staked    *big.Int     `json:"staked"`
	Payout    *big.Int     `json:"payout"`
	Profit    *big.Int     `json:"profit"`
	ROI       float64      `json:"roi"`
	OpenStake *big.Int     `json:"open_stake"`
}

// PositionSummary is the per-prediction line of a portfolio.
type PositionSummary struct {
	PredictionID string                       `json:"prediction_id"`
	Question     string                       `json:"question"`
	Status       domain.ResolutionStatus      `json:"status"`
	Votes        map[domain.Token]domain.Vote `json:"votes"`
	Claimable    map[domain.Token]*big.Int    `json:"claimable"`
}

// Summary is a user's full portfolio.
type Summary struct {
	User      string            `json:"user"`
	Record    Record            `json:"record"`
	Totals    []TokenTotals     `json:"totals"`
	Positions []PositionSummary `json:"positions"`
}

// WinsLosses counts wins and losses across positions. Predictions the user
// has no stake in are ignored; open and cancelled predictions are counted
// separately and are neither wins nor losses.
func WinsLosses(positions []domain.Position) Record {
	var r Record
	for _, pos := range positions {
		if pos.Stake.Empty() {
			continue
		}
		switch pos.Prediction.Resolution.Status {
		case domain.ResolutionOpen:
			r.Open++
		case domain.ResolutionCancelled:
			r.Cancelled++
		case domain.ResolutionResolved:
			if wonAnyToken(pos) {
				r.Wins++
			} else {
				r.Losses++
			}
		}
	}
	return r
}

func wonAnyToken(pos domain.Position) bool {
	win, ok := pos.Prediction.Resolution.WinningSide()
	if !ok {
		return false
	}
	for _, t := range domain.Tokens {
		if pos.Stake.Amount(t).SideTotal(win).Sign() > 0 {
			return true
		}
	}
	return false
}

// Totals sums staked, paid out and profit for token over settled positions.
func Totals(positions []domain.Position, token domain.Token) (TokenTotals, error) {
	tt := TokenTotals{
		Token:     token,
		Staked:    new(big.Int),
		Payout:    new(big.Int),
		Profit:    new(big.Int),
		OpenStake: new(big.Int),
	}
	for _, pos := range positions {
		amt := pos.Stake.Amount(token).Total()
		if amt.Sign() == 0 {
			continue
		}
		if pos.Prediction.IsOpen() {
			tt.OpenStake.Add(tt.OpenStake, amt)
			continue
		}
		claim, err := payout.Claimable(pos.Prediction, pos.Stake, token)
		if err != nil {
			return TokenTotals{}, fmt.Errorf("portfolio: claimable %s: %w", pos.Prediction.ID, err)
		}
		tt.Staked.Add(tt.Staked, amt)
		tt.Payout.Add(tt.Payout, claim)
	}
	tt.Profit.Sub(tt.Payout, tt.Staked)
	if tt.Staked.Sign() > 0 {
		roi := new(big.Rat).SetFrac(new(big.Int).Mul(tt.Profit, big.NewInt(100)), tt.Staked)
		tt.ROI, _ = roi.Float64()
	}
	return tt, nil
}

// Summarize builds the full portfolio of user from positions.
func Summarize(user string, positions []domain.Position) (Summary, error) {
	s := Summary{
		User:      user,
		Record:    WinsLosses(positions),
		Totals:    make([]TokenTotals, 0, len(domain.Tokens)),
		Positions: make([]PositionSummary, 0, len(positions)),
	}
	for _, t := range domain.Tokens {
		tt, err := Totals(positions, t)
		if err != nil {
			return Summary{}, err
		}
		s.Totals = append(s.Totals, tt)
	}
	for _, pos := range positions {
		if pos.Stake.Empty() {
			continue
		}
		line := PositionSummary{
			PredictionID: pos.Prediction.ID,
			Question:     pos.Prediction.Question,
			Status:       pos.Prediction.Resolution.Status,
			Votes:        make(map[domain.Token]domain.Vote),
			Claimable:    make(map[domain.Token]*big.Int),
		}
		for _, t := range domain.Tokens {
			if !pos.Stake.HasStake(t) {
				continue
			}
			line.Votes[t] = pos.Stake.Vote(t)
			claim, err := payout.Claimable(pos.Prediction, pos.Stake, t)
			if err != nil {
				return Summary{}, fmt.Errorf("portfolio: claimable %s: %w", pos.Prediction.ID, err)
			}
			line.Claimable[t] = claim
		}
		s.Positions = append(s.Positions, line)
	}
	return s, nil
}

// PositionReader reads a user's cached positions.
type PositionReader interface {
	Positions(ctx context.Context, user string) ([]domain.Position, error)
}

// Aggregator answers portfolio queries from the cache. It never reads the
// ledger and never writes the cache.
type Aggregator struct {
	reader PositionReader
}

// NewAggregator creates an Aggregator over reader.
func NewAggregator(reader PositionReader) *Aggregator {
	return &Aggregator{reader: reader}
}

// Summary returns the portfolio of user.
func (a *Aggregator) Summary(ctx context.Context, user string) (Summary, error) {
	if user == "" {
		return Summary{}, domain.Invalid("user", "is required")
	}
	positions, err := a.reader.Positions(ctx, user)
	if err != nil {
		return Summary{}, fmt.Errorf("portfolio: positions %s: %w", user, err)
	}
	return Summarize(user, positions)
}

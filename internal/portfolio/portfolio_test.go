package portfolio

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/cache/memory"
	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/projection"
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func pools(ethYes, ethNo, swipeYes, swipeNo int64) map[domain.Token]domain.Pool {
	return map[domain.Token]domain.Pool{
		domain.TokenETH:   domain.NewPool(eth(ethYes), eth(ethNo)),
		domain.TokenSWIPE: domain.NewPool(eth(swipeYes), eth(swipeNo)),
	}
}

func stake(pid string, ethYes, ethNo, swipeYes, swipeNo int64) domain.Stake {
	return domain.Stake{PredictionID: pid, User: "0xuser", Amounts: pools(ethYes, ethNo, swipeYes, swipeNo)}
}

// fixture: one resolved YES market where the user lost in ETH and won in
// SWIPE, one cancelled market and one open market.
func fixture() []domain.Position {
	return []domain.Position{
		{
			Prediction: domain.Prediction{
				ID:         "pred_v2_mixed",
				Pools:      pools(4, 1, 2, 6),
				Resolution: domain.Resolution{Status: domain.ResolutionResolved, Outcome: true},
			},
			Stake: stake("pred_v2_mixed", 0, 1, 1, 0),
		},
		{
			Prediction: domain.Prediction{
				ID:         "pred_v2_void",
				Pools:      pools(2, 2, 0, 0),
				Resolution: domain.Resolution{Status: domain.ResolutionCancelled, Reason: "ambiguous"},
			},
			Stake: stake("pred_v2_void", 2, 0, 0, 0),
		},
		{
			Prediction: domain.Prediction{
				ID:         "pred_v2_live",
				Pools:      pools(5, 5, 0, 0),
				Resolution: domain.Resolution{Status: domain.ResolutionOpen},
			},
			Stake: stake("pred_v2_live", 5, 0, 0, 0),
		},
	}
}

func TestWinsLossesAnyTokenWins(t *testing.T) {
	r := WinsLosses(fixture()[:1])
	assert.Equal(t, Record{Wins: 1}, r, "a loss in ETH and a win in SWIPE is one win")
}

func TestWinsLossesCounts(t *testing.T) {
	positions := append(fixture(), domain.Position{
		Prediction: domain.Prediction{
			ID:         "pred_v2_lost",
			Pools:      pools(1, 1, 1, 1),
			Resolution: domain.Resolution{Status: domain.ResolutionResolved, Outcome: false},
		},
		Stake: stake("pred_v2_lost", 1, 0, 1, 0),
	}, domain.Position{
		Prediction: domain.Prediction{ID: "pred_v2_none", Resolution: domain.Resolution{Status: domain.ResolutionResolved}},
		Stake:      domain.Stake{PredictionID: "pred_v2_none"},
	})

	assert.Equal(t, Record{Wins: 1, Losses: 1, Open: 1, Cancelled: 1}, WinsLosses(positions))
}

func TestTotals(t *testing.T) {
	positions := fixture()

	swipe, err := Totals(positions, domain.TokenSWIPE)
	require.NoError(t, err)
	assert.Equal(t, eth(1), swipe.Staked)
	assert.Equal(t, eth(4), swipe.Payout)
	assert.Equal(t, eth(3), swipe.Profit)
	assert.InDelta(t, 300.0, swipe.ROI, 1e-9)
	assert.Zero(t, swipe.OpenStake.Sign())

	ethT, err := Totals(positions, domain.TokenETH)
	require.NoError(t, err)
	assert.Equal(t, eth(3), ethT.Staked, "lost stake plus refunded stake")
	assert.Equal(t, eth(2), ethT.Payout, "refund only")
	assert.Equal(t, eth(-1), ethT.Profit)
	assert.InDelta(t, -100.0/3, ethT.ROI, 1e-9)
	assert.Equal(t, eth(5), ethT.OpenStake)
}

func TestTotalsNoSettledStake(t *testing.T) {
	tt, err := Totals(fixture()[2:], domain.TokenETH)
	require.NoError(t, err)
	assert.Zero(t, tt.Staked.Sign())
	assert.Equal(t, 0.0, tt.ROI)
}

func TestAggregatorSummaryReadsCacheOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	proj := projection.New(store)
	for i, pos := range fixture() {
		pos.Prediction.Block = uint64(i + 1)
		pos.Stake.Block = uint64(i + 1)
		require.NoError(t, proj.PutPrediction(ctx, pos.Prediction))
		require.NoError(t, proj.PutStake(ctx, pos.Stake))
	}
	before := store.Len()

	sum, err := NewAggregator(proj).Summary(ctx, "0xUSER")
	require.NoError(t, err)
	assert.Equal(t, before, store.Len())

	assert.Equal(t, Record{Wins: 1, Open: 1, Cancelled: 1}, sum.Record)
	require.Len(t, sum.Totals, 2)
	assert.Equal(t, domain.TokenETH, sum.Totals[0].Token)
	require.Len(t, sum.Positions, 3)

	byID := make(map[string]PositionSummary)
	for _, p := range sum.Positions {
		byID[p.PredictionID] = p
	}
	mixed := byID["pred_v2_mixed"]
	assert.Equal(t, domain.VoteNo, mixed.Votes[domain.TokenETH])
	assert.Equal(t, domain.VoteYes, mixed.Votes[domain.TokenSWIPE])
	assert.Zero(t, mixed.Claimable[domain.TokenETH].Sign())
	assert.Equal(t, eth(4), mixed.Claimable[domain.TokenSWIPE])
	assert.Zero(t, byID["pred_v2_live"].Claimable[domain.TokenETH].Sign())
}

type failingReader struct{}

func (failingReader) Positions(context.Context, string) ([]domain.Position, error) {
	return nil, errors.New("cache down")
}

func TestAggregatorErrors(t *testing.T) {
	_, err := NewAggregator(failingReader{}).Summary(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewAggregator(failingReader{}).Summary(context.Background(), "0xa")
	assert.ErrorContains(t, err, "cache down")
}

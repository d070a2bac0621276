package payout

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/domain"
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v
}

func TestPotentialPayoutFormulaSubstitution(t *testing.T) {
	// YES 7e18, NO 3e18, 1% fee, new YES stake of 1e18:
	// 1e18 + 1e18*3e18*9900/(8e18*10000) = 1e18 + 0.37125e18, exactly.
	// 1.371875e18 is sometimes quoted for this case; that figure is an
	// arithmetic slip, not a rounding difference.
	q, err := PotentialPayout(eth(7), eth(3), eth(1), 100)
	require.NoError(t, err)

	assert.Equal(t, mustInt(t, "1371250000000000000"), q.Payout)
	assert.Equal(t, mustInt(t, "371250000000000000"), q.Profit)
	assert.Equal(t, mustInt(t, "3750000000000000"), q.Fee)
	assert.InDelta(t, 0.125, q.ShareOfPool, 1e-12)
}

func TestPotentialPayoutEmptyPools(t *testing.T) {
	q, err := PotentialPayout(big.NewInt(0), big.NewInt(0), eth(2), 500)
	require.NoError(t, err)
	assert.Equal(t, eth(2), q.Payout)
	assert.Zero(t, q.Profit.Sign())
	assert.InDelta(t, 1.0, q.ShareOfPool, 1e-12)
}

func TestPotentialPayoutProfitNeverNegative(t *testing.T) {
	pools := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(999), eth(3), mustInt(t, "123456789012345678901")}
	fees := []int64{0, 1, 100, 5000, 9999}
	stakes := []*big.Int{big.NewInt(1), big.NewInt(7), eth(1)}

	for _, win := range pools {
		for _, lose := range pools {
			for _, fee := range fees {
				for _, s := range stakes {
					q, err := PotentialPayout(win, lose, s, fee)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, q.Profit.Sign(), 0)
					assert.GreaterOrEqual(t, q.Fee.Sign(), 0)
				}
			}
		}
	}
}

func TestPotentialPayoutValidation(t *testing.T) {
	cases := map[string]func() error{
		"negative winning pool": func() error { _, err := PotentialPayout(big.NewInt(-1), eth(1), eth(1), 0); return err },
		"negative losing pool":  func() error { _, err := PotentialPayout(eth(1), big.NewInt(-1), eth(1), 0); return err },
		"zero stake":            func() error { _, err := PotentialPayout(eth(1), eth(1), big.NewInt(0), 0); return err },
		"nil stake":             func() error { _, err := PotentialPayout(eth(1), eth(1), nil, 0); return err },
		"fee at denominator":    func() error { _, err := PotentialPayout(eth(1), eth(1), eth(1), 10_000); return err },
		"negative fee":          func() error { _, err := PotentialPayout(eth(1), eth(1), eth(1), -1); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			var ve *domain.ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestWinnerPayoutConservation(t *testing.T) {
	winners := []*big.Int{eth(1), big.NewInt(25e17), new(big.Int).Add(big.NewInt(33e17), big.NewInt(7))}
	winningPool := new(big.Int)
	for _, w := range winners {
		winningPool.Add(winningPool, w)
	}
	losingPool := new(big.Int).Add(eth(4), big.NewInt(13))
	const fee = 250

	paid := new(big.Int)
	for _, w := range winners {
		p, err := WinnerPayout(w, winningPool, losingPool, fee)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Cmp(w), 0)
		paid.Add(paid, p)
	}
	platform, err := PlatformFee(losingPool, fee)
	require.NoError(t, err)
	paid.Add(paid, platform)

	total := new(big.Int).Add(winningPool, losingPool)
	require.LessOrEqual(t, paid.Cmp(total), 0, "payouts must not exceed the pooled value")

	dust := new(big.Int).Sub(total, paid)
	assert.LessOrEqual(t, dust.Int64(), int64(len(winners)), "rounding dust is at most one unit per winner")
}

func TestWinnerPayoutSoleWinnerTakesAllButFee(t *testing.T) {
	p, err := WinnerPayout(eth(2), eth(2), eth(8), 100)
	require.NoError(t, err)
	assert.Equal(t, mustInt(t, "9920000000000000000"), p)
}

func TestWinnerPayoutValidation(t *testing.T) {
	_, err := WinnerPayout(eth(3), eth(2), eth(1), 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = WinnerPayout(eth(1), eth(2), big.NewInt(-5), 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := WinnerPayout(big.NewInt(0), big.NewInt(0), eth(5), 0)
	require.NoError(t, err)
	assert.Zero(t, p.Sign())
}

func TestNeutralDefaults(t *testing.T) {
	assert.Equal(t, 50.0, Confidence(big.NewInt(0), big.NewInt(0)))
	assert.Equal(t, 50.0, Confidence(nil, nil))
	assert.Equal(t, 0.0, ShareOfPool(eth(1), big.NewInt(0)))
	assert.InDelta(t, 70.0, Confidence(eth(7), eth(3)), 1e-9)
}

func TestClaimable(t *testing.T) {
	pred := domain.Prediction{
		ID:     "pred_v2_claim",
		FeeBps: 100,
		Pools: map[domain.Token]domain.Pool{
			domain.TokenETH: domain.NewPool(eth(8), eth(2)),
		},
	}
	stake := domain.Stake{Amounts: map[domain.Token]domain.Pool{
		domain.TokenETH: domain.NewPool(eth(2), eth(1)),
	}}

	open, err := Claimable(pred, stake, domain.TokenETH)
	require.NoError(t, err)
	assert.Zero(t, open.Sign())

	pred.Resolution = domain.Resolution{Status: domain.ResolutionCancelled, Reason: "void"}
	refund, err := Claimable(pred, stake, domain.TokenETH)
	require.NoError(t, err)
	assert.Equal(t, eth(3), refund)

	pred.Resolution = domain.Resolution{Status: domain.ResolutionResolved, Outcome: true}
	won, err := Claimable(pred, stake, domain.TokenETH)
	require.NoError(t, err)
	// 2e18 + 2e18*2e18*9900/(8e18*10000)
	assert.Equal(t, mustInt(t, "2495000000000000000"), won)

	swipe, err := Claimable(pred, stake, domain.TokenSWIPE)
	require.NoError(t, err)
	assert.Zero(t, swipe.Sign())
}

func TestQuoteStakeRejectsClosedPrediction(t *testing.T) {
	pred := domain.Prediction{
		ID:         "pred_v2_closed",
		Resolution: domain.Resolution{Status: domain.ResolutionResolved},
	}
	_, err := QuoteStake(pred, domain.SideYes, domain.TokenETH, eth(1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	pred.Resolution = domain.Resolution{Status: domain.ResolutionOpen}
	pred.Pools = map[domain.Token]domain.Pool{domain.TokenSWIPE: domain.NewPool(eth(3), eth(7))}
	q, err := QuoteStake(pred, domain.SideNo, domain.TokenSWIPE, eth(1))
	require.NoError(t, err)
	// NO is the winning side here: 7e18 before, 3e18 losing.
	assert.Equal(t, mustInt(t, "1375000000000000000"), q.Payout)
}

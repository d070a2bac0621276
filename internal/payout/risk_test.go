package payout

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/domain"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name  string
		in    RiskInput
		score int
		tier  Tier
	}{
		{
			name:  "empty coin flip closing now",
			in:    RiskInput{Confidence: 50, TotalStaked: big.NewInt(0), Participants: 0, SecondsToDeadline: 0},
			score: 100,
			tier:  TierHigh,
		},
		{
			name:  "deep decided market far out",
			in:    RiskInput{Confidence: 100, TotalStaked: eth(10), Participants: 20, SecondsToDeadline: 8 * 24 * 3600},
			score: 0,
			tier:  TierLow,
		},
		{
			name:  "halfway",
			in:    RiskInput{Confidence: 75, TotalStaked: eth(5), Participants: 10, SecondsToDeadline: 2 * 3600},
			score: 52,
			tier:  TierMedium,
		},
		{
			name:  "over references clip to zero",
			in:    RiskInput{Confidence: 0, TotalStaked: eth(500), Participants: 400, SecondsToDeadline: 3 * 24 * 3600},
			score: 6,
			tier:  TierLow,
		},
		{
			name:  "past deadline",
			in:    RiskInput{Confidence: 90, TotalStaked: eth(10), Participants: 20, SecondsToDeadline: -60},
			score: 26,
			tier:  TierLow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := RiskScore(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.score, r.Score)
			assert.Equal(t, tc.tier, r.Tier)
			assert.LessOrEqual(t, r.Components.Skew, float64(MaxSkewScore))
			assert.LessOrEqual(t, r.Components.Liquidity, float64(MaxLiquidityScore))
			assert.LessOrEqual(t, r.Components.Participation, float64(MaxParticipationScore))
			assert.LessOrEqual(t, r.Components.Time, float64(MaxTimeScore))
		})
	}
}

func TestRiskScoreValidation(t *testing.T) {
	_, err := RiskScore(RiskInput{Confidence: 101, TotalStaked: big.NewInt(0)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = RiskScore(RiskInput{Confidence: 50, TotalStaked: big.NewInt(-1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = RiskScore(RiskInput{Confidence: 50, TotalStaked: big.NewInt(0), Participants: -2})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTierBoundaries(t *testing.T) {
	assert.Equal(t, TierLow, TierFor(29))
	assert.Equal(t, TierMedium, TierFor(30))
	assert.Equal(t, TierMedium, TierFor(59))
	assert.Equal(t, TierHigh, TierFor(60))
}

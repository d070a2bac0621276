package payout

import (
	"math"
	"math/big"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// Risk score weights. They are part of the public contract of the score and
// must not be tuned per deployment.
const (
	MaxSkewScore          = 30
	MaxLiquidityScore     = 25
	MaxParticipationScore = 25
	MaxTimeScore          = 20

	// ParticipationReference is the participant count at which the
	// participation sub-score reaches zero.
	ParticipationReference = 20
)

// LiquidityReference is the total stake (10 tokens of 18 decimals) at which
// the liquidity sub-score reaches zero.
var LiquidityReference = new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Tier buckets a risk score.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// RiskInput is the market state a risk score is derived from.
type RiskInput struct {
	Confidence        float64 // YES share in percent, [0, 100]
	TotalStaked       *big.Int
	Participants      int
	SecondsToDeadline int64
}

// RiskComponents are the individual bounded sub-scores.
type RiskComponents struct {
	Skew          float64 `json:"skew"`
	Liquidity     float64 `json:"liquidity"`
	Participation float64 `json:"participation"`
	Time          float64 `json:"time"`
}

// Risk is a 0-100 heuristic of how uncertain and thin a market is.
type Risk struct {
	Score      int            `json:"score"`
	Tier       Tier           `json:"tier"`
	Components RiskComponents `json:"components"`
}

// RiskScore combines the skew, liquidity, participation and time sub-scores.
func RiskScore(in RiskInput) (Risk, error) {
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 100 {
		return Risk{}, domain.Invalid("confidence", "must be in [0, 100]")
	}
	if err := nonNegative("total_staked", in.TotalStaked); err != nil {
		return Risk{}, err
	}
	if in.Participants < 0 {
		return Risk{}, domain.Invalid("participants", "must not be negative")
	}

	c := RiskComponents{
		Skew:          clip(MaxSkewScore*(1-math.Abs(in.Confidence-50)/50), MaxSkewScore),
		Liquidity:     clip(MaxLiquidityScore*(1-math.Min(ratio(in.TotalStaked, LiquidityReference), 1)), MaxLiquidityScore),
		Participation: clip(MaxParticipationScore*(1-math.Min(float64(in.Participants)/ParticipationReference, 1)), MaxParticipationScore),
		Time:          timeScore(in.SecondsToDeadline),
	}
	score := int(math.Round(c.Skew + c.Liquidity + c.Participation + c.Time))
	score = min(max(score, 0), 100)

	return Risk{Score: score, Tier: TierFor(score), Components: c}, nil
}

// TierFor maps a score to its tier.
func TierFor(score int) Tier {
	switch {
	case score >= 60:
		return TierHigh
	case score >= 30:
		return TierMedium
	default:
		return TierLow
	}
}

func timeScore(secs int64) float64 {
	switch {
	case secs < 3600:
		return MaxTimeScore
	case secs < 24*3600:
		return 12
	case secs < 7*24*3600:
		return 6
	default:
		return 0
	}
}

func ratio(a, b *big.Int) float64 {
	f, _ := new(big.Rat).SetFrac(a, b).Float64()
	return f
}

func clip(v, hi float64) float64 {
	return math.Min(math.Max(v, 0), hi)
}

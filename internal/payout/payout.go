// Package payout implements the parimutuel payout math for the two
// independent settlement-token pools. Every function is pure: the same
// inputs always produce the same outputs, so quotes can be previewed before a
// transaction is submitted and cross-checked against on-chain settlement.
//
// Amounts are integers in the token's smallest unit. Division floors, as the
// contract's settlement does.
package payout

import (
	"math/big"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// BpsDenominator is the basis-point scale of fee rates.
const BpsDenominator = 10_000

var bpsDenominator = big.NewInt(BpsDenominator)

// Quote is a pre-outcome payout preview for a candidate stake.
type Quote struct {
	Stake       *big.Int `json:"stake"`
	Payout      *big.Int `json:"payout"`
	Profit      *big.Int `json:"profit"`
	Fee         *big.Int `json:"fee"`
	ShareOfPool float64  `json:"share_of_pool"`
}

// PotentialPayout previews the payout of stake if its side wins, given the
// pool totals before the stake is added:
//
//	payout = stake + stake/(winningBefore+stake) * losingBefore * (1 - feeBps/10000)
//
// The share term is zero when winningBefore+stake is zero.
func PotentialPayout(winningPoolBefore, losingPoolBefore, stake *big.Int, feeBps int64) (Quote, error) {
	if err := nonNegative("winning_pool", winningPoolBefore); err != nil {
		return Quote{}, err
	}
	if err := nonNegative("losing_pool", losingPoolBefore); err != nil {
		return Quote{}, err
	}
	if stake == nil || stake.Sign() <= 0 {
		return Quote{}, domain.Invalid("stake", "must be positive")
	}
	if err := validFee(feeBps); err != nil {
		return Quote{}, err
	}

	winningAfter := new(big.Int).Add(winningPoolBefore, stake)
	net, fee := share(stake, winningAfter, losingPoolBefore, feeBps)
	payout := new(big.Int).Add(stake, net)

	return Quote{
		Stake:       new(big.Int).Set(stake),
		Payout:      payout,
		Profit:      net,
		Fee:         fee,
		ShareOfPool: ShareOfPool(stake, winningAfter),
	}, nil
}

// WinnerPayout computes the claimable amount of a winning stake after
// resolution. userSideTotal is the final winning-side total and already
// includes stake. The arithmetic matches the contract's settlement.
func WinnerPayout(stake, userSideTotal, otherSideTotal *big.Int, feeBps int64) (*big.Int, error) {
	if err := nonNegative("stake", stake); err != nil {
		return nil, err
	}
	if err := nonNegative("user_side_total", userSideTotal); err != nil {
		return nil, err
	}
	if err := nonNegative("other_side_total", otherSideTotal); err != nil {
		return nil, err
	}
	if err := validFee(feeBps); err != nil {
		return nil, err
	}
	if stake.Cmp(userSideTotal) > 0 {
		return nil, domain.Invalid("stake", "exceeds its side total")
	}

	net, _ := share(stake, userSideTotal, otherSideTotal, feeBps)
	return net.Add(net, stake), nil
}

// PlatformFee is the fee retained from a losing pool at settlement.
func PlatformFee(losingPool *big.Int, feeBps int64) (*big.Int, error) {
	if err := nonNegative("losing_pool", losingPool); err != nil {
		return nil, err
	}
	if err := validFee(feeBps); err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(losingPool, big.NewInt(feeBps))
	return fee.Quo(fee, bpsDenominator), nil
}

// ShareOfPool returns stake/winningPoolAfter, or 0 when the pool is empty.
func ShareOfPool(stake, winningPoolAfter *big.Int) float64 {
	if stake == nil || winningPoolAfter == nil || winningPoolAfter.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(stake, winningPoolAfter).Float64()
	return f
}

// Confidence is the YES share of a pool as a percentage. Both totals being
// zero yields the neutral prior of 50.
func Confidence(yesTotal, noTotal *big.Int) float64 {
	yes, no := orZero(yesTotal), orZero(noTotal)
	total := new(big.Int).Add(yes, no)
	if total.Sign() == 0 {
		return 50
	}
	pct := new(big.Rat).SetFrac(new(big.Int).Mul(yes, big.NewInt(100)), total)
	f, _ := pct.Float64()
	return f
}

// QuoteStake previews a candidate stake against the cached pools of token.
func QuoteStake(p domain.Prediction, side domain.Side, token domain.Token, amount *big.Int) (Quote, error) {
	if !p.IsOpen() {
		return Quote{}, domain.Invalid("prediction", "is not open for staking")
	}
	pool := p.Pool(token)
	return PotentialPayout(pool.SideTotal(side), pool.SideTotal(opposite(side)), amount, p.FeeBps)
}

// Claimable returns what stake can claim in token: the winner payout of its
// winning-side amount once resolved, a full refund once cancelled, and zero
// while the prediction is open.
func Claimable(p domain.Prediction, stake domain.Stake, token domain.Token) (*big.Int, error) {
	amt := stake.Amount(token)
	switch p.Resolution.Status {
	case domain.ResolutionCancelled:
		return amt.Total(), nil
	case domain.ResolutionResolved:
		win, _ := p.Resolution.WinningSide()
		pool := p.Pool(token)
		return WinnerPayout(amt.SideTotal(win), pool.SideTotal(win), pool.SideTotal(opposite(win)), p.FeeBps)
	default:
		return new(big.Int), nil
	}
}

// share returns the fee-adjusted share of the other pool owed to stake, and
// the fee withheld from it.
func share(stake, sideTotal, otherTotal *big.Int, feeBps int64) (net, fee *big.Int) {
	if sideTotal.Sign() == 0 || otherTotal.Sign() == 0 || stake.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	num := new(big.Int).Mul(stake, otherTotal)
	den := new(big.Int).Mul(sideTotal, bpsDenominator)

	gross := new(big.Int).Mul(num, bpsDenominator)
	gross.Quo(gross, den)

	net = num.Mul(num, big.NewInt(BpsDenominator-feeBps))
	net.Quo(net, den)

	return net, gross.Sub(gross, net)
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideYes {
		return domain.SideNo
	}
	return domain.SideYes
}

func nonNegative(field string, v *big.Int) error {
	if v == nil {
		return domain.Invalid(field, "is required")
	}
	if v.Sign() < 0 {
		return domain.Invalid(field, "must not be negative")
	}
	return nil
}

func validFee(feeBps int64) error {
	if feeBps < 0 || feeBps >= BpsDenominator {
		return domain.Invalid("fee_bps", "must be in [0, 10000)")
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

package domain

import "math/big"

// Vote summarises which side(s) a user backed in one token.
type Vote string

const (
	VoteYes  Vote = "YES"
	VoteNo   Vote = "NO"
	VoteBoth Vote = "BOTH"
	VoteNone Vote = "NONE"
)

// Stake is a user's per-token position in one prediction. Amounts only grow
// while the prediction is open.
type Stake struct {
	PredictionID string         `json:"prediction_id"`
	User         string         `json:"user"`
	Amounts      map[Token]Pool `json:"amounts"`
	Block        uint64         `json:"block"`
}

// Amount returns the user's yes/no amounts in token t.
func (s Stake) Amount(t Token) Pool {
	if a, ok := s.Amounts[t]; ok {
		return NewPool(a.Yes, a.No)
	}
	return NewPool(nil, nil)
}

// Vote derives the vote for token t.
func (s Stake) Vote(t Token) Vote {
	a := s.Amount(t)
	yes, no := a.Yes.Sign() > 0, a.No.Sign() > 0
	switch {
	case yes && no:
		return VoteBoth
	case yes:
		return VoteYes
	case no:
		return VoteNo
	default:
		return VoteNone
	}
}

// HasStake reports whether the user staked anything in token t.
func (s Stake) HasStake(t Token) bool {
	return s.Vote(t) != VoteNone
}

// Empty reports whether the user has no stake in any token.
func (s Stake) Empty() bool {
	for _, t := range Tokens {
		if s.HasStake(t) {
			return false
		}
	}
	return true
}

// Position pairs a cached prediction with the user's stake in it.
type Position struct {
	Prediction Prediction `json:"prediction"`
	Stake      Stake      `json:"stake"`
}

// StakeIntent is a request to place a stake on the ledger.
type StakeIntent struct {
	PredictionID string
	User         string
	Side         Side
	Token        Token
	Amount       *big.Int
}

// SameState reports whether two snapshots hold the same amounts, ignoring
// the block they were read at.
func (s Stake) SameState(o Stake) bool {
	if s.PredictionID != o.PredictionID || s.User != o.User {
		return false
	}
	for _, t := range Tokens {
		a, b := s.Amount(t), o.Amount(t)
		if a.Yes.Cmp(b.Yes) != 0 || a.No.Cmp(b.No) != 0 {
			return false
		}
	}
	return true
}

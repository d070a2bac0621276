package domain

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// Token is the settlement currency of a stake. Pools are tracked and paid
// out independently per token.
type Token string

const (
	TokenETH   Token = "ETH"
	TokenSWIPE Token = "SWIPE"
)

// Tokens lists every settlement token in display order.
var Tokens = []Token{TokenETH, TokenSWIPE}

// ParseToken accepts "ETH" or "SWIPE" in any case.
func ParseToken(s string) (Token, error) {
	switch Token(strings.ToUpper(strings.TrimSpace(s))) {
	case TokenETH:
		return TokenETH, nil
	case TokenSWIPE:
		return TokenSWIPE, nil
	}
	return "", Invalid("token", strconv.Quote(s)+" is not ETH or SWIPE")
}

// Side is the direction of a stake.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide accepts "yes"/"no" (any case) or "true"/"false".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return SideYes, nil
	case "no", "false":
		return SideNo, nil
	}
	return "", Invalid("side", strconv.Quote(s)+" is not yes or no")
}

// Pool holds the YES/NO totals of one token in its smallest unit.
type Pool struct {
	Yes *big.Int `json:"yes"`
	No  *big.Int `json:"no"`
}

// NewPool copies yes and no into a fresh Pool; nil values become zero.
func NewPool(yes, no *big.Int) Pool {
	return Pool{Yes: cloneInt(yes), No: cloneInt(no)}
}

// Total returns Yes+No.
func (p Pool) Total() *big.Int {
	return new(big.Int).Add(orZero(p.Yes), orZero(p.No))
}

// SideTotal returns the total staked on one side.
func (p Pool) SideTotal(s Side) *big.Int {
	if s == SideYes {
		return cloneInt(p.Yes)
	}
	return cloneInt(p.No)
}

// ResolutionStatus is the lifecycle state of a prediction on the ledger.
type ResolutionStatus string

const (
	ResolutionOpen      ResolutionStatus = "open"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionCancelled ResolutionStatus = "cancelled"
)

// Resolution is Open, Resolved(Outcome) or Cancelled(Reason).
type Resolution struct {
	Status  ResolutionStatus `json:"status"`
	Outcome bool             `json:"outcome,omitempty"` // true = YES won
	Reason  string           `json:"reason,omitempty"`
}

// WinningSide reports the winning side of a resolved prediction.
func (r Resolution) WinningSide() (Side, bool) {
	if r.Status != ResolutionResolved {
		return "", false
	}
	if r.Outcome {
		return SideYes, true
	}
	return SideNo, true
}

// ApprovalStatus is the moderation state of a prediction.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending_approval"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Prediction is the canonical projection of a ledger prediction. Block is the
// ledger height the snapshot was read at and doubles as its cache version.
type Prediction struct {
	ID           string         `json:"id"`
	Question     string         `json:"question"`
	Category     string         `json:"category"`
	Creator      string         `json:"creator"`
	Deadline     int64          `json:"deadline"`
	Pools        map[Token]Pool `json:"pools"`
	FeeBps       int64          `json:"fee_bps"`
	Resolution   Resolution     `json:"resolution"`
	Approval     ApprovalStatus `json:"approval"`
	Participants int            `json:"participants"`
	Block        uint64         `json:"block"`
}

// Pool returns the pool for token t, zero-valued if absent.
func (p Prediction) Pool(t Token) Pool {
	if pool, ok := p.Pools[t]; ok {
		return NewPool(pool.Yes, pool.No)
	}
	return NewPool(nil, nil)
}

// IsOpen reports whether stakes may still be placed.
func (p Prediction) IsOpen() bool {
	return p.Resolution.Status == ResolutionOpen
}

// SameState reports whether two snapshots describe the same ledger state,
// ignoring the block they were read at.
func (p Prediction) SameState(o Prediction) bool {
	if p.ID != o.ID || p.FeeBps != o.FeeBps || p.Resolution != o.Resolution ||
		p.Approval != o.Approval || p.Participants != o.Participants ||
		p.Deadline != o.Deadline {
		return false
	}
	for _, t := range Tokens {
		a, b := p.Pool(t), o.Pool(t)
		if a.Yes.Cmp(b.Yes) != 0 || a.No.Cmp(b.No) != 0 {
			return false
		}
	}
	return true
}

var predictionIDPattern = regexp.MustCompile(`^pred_v([1-9][0-9]{0,3})_([A-Za-z0-9_-]{1,96})$`)

// ParsePredictionID validates a canonical prediction identifier of the form
// pred_v<version>_<suffix> and returns its schema version. Legacy numeric IDs
// are rejected rather than reinterpreted.
func ParsePredictionID(id string) (int, error) {
	m := predictionIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, Invalid("prediction_id", strconv.Quote(id)+" is not of the form pred_v<N>_<suffix>")
	}
	v, _ := strconv.Atoi(m[1])
	return v, nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

package domain

import (
	"fmt"
	"math/big"
	"time"
)

// OperationKind names a ledger write that the reconciliation engine tracks.
type OperationKind string

const (
	OpStake   OperationKind = "stake"
	OpResolve OperationKind = "resolve"
	OpCancel  OperationKind = "cancel"
	OpApprove OperationKind = "approve"
	OpReject  OperationKind = "reject"
)

// Operation is a user- or admin-initiated ledger write. Only the fields
// relevant to Kind are read.
type Operation struct {
	Kind         OperationKind
	PredictionID string
	User         string
	Side         Side
	Token        Token
	Amount       *big.Int
	Outcome      bool   // resolve
	Reason       string // cancel, reject
}

// Fingerprint identifies logically identical operations for duplicate
// suppression.
func (o Operation) Fingerprint() string {
	amount := "0"
	if o.Amount != nil {
		amount = o.Amount.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%t", o.Kind, o.PredictionID, o.User, o.Side, o.Token, amount, o.Outcome)
}

// Validate checks that the operation carries everything its kind needs.
func (o Operation) Validate() error {
	if _, err := ParsePredictionID(o.PredictionID); err != nil {
		return err
	}
	switch o.Kind {
	case OpStake:
		if o.User == "" {
			return Invalid("user", "required for stake")
		}
		if o.Side != SideYes && o.Side != SideNo {
			return Invalid("side", "must be yes or no")
		}
		if o.Token != TokenETH && o.Token != TokenSWIPE {
			return Invalid("token", "must be ETH or SWIPE")
		}
		if o.Amount == nil || o.Amount.Sign() <= 0 {
			return Invalid("amount", "must be positive")
		}
	case OpResolve, OpApprove:
	case OpCancel, OpReject:
		if o.Reason == "" {
			return Invalid("reason", "required for "+string(o.Kind))
		}
	default:
		return Invalid("kind", fmt.Sprintf("unknown operation %q", o.Kind))
	}
	return nil
}

// SyncState is the per-operation reconciliation state.
type SyncState string

const (
	StateSubmitted            SyncState = "submitted"
	StateAwaitingConfirmation SyncState = "awaiting_confirmation"
	StateConfirmed            SyncState = "confirmed"
	StateFailed               SyncState = "failed"
	StateUnknown              SyncState = "unknown" // confirmation timed out
	StateSyncing              SyncState = "syncing"
	StateSyncRetry            SyncState = "sync_retry"
	StateSyncOK               SyncState = "sync_ok"
	StateSyncAbandoned        SyncState = "sync_abandoned"
)

// Terminal reports whether no further transitions follow.
func (s SyncState) Terminal() bool {
	switch s {
	case StateFailed, StateUnknown, StateSyncOK, StateSyncAbandoned:
		return true
	}
	return false
}

// PendingSync is the in-process record of a submitted transaction awaiting
// reconciliation. It is not persisted.
type PendingSync struct {
	TxID         string        `json:"tx_id"`
	Kind         OperationKind `json:"kind"`
	PredictionID string        `json:"prediction_id"`
	User         string        `json:"user,omitempty"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	Attempts     int           `json:"attempts"`
	State        SyncState     `json:"state"`
}

// Confirmation is a ledger confirmation event delivered to the engine.
type Confirmation struct {
	TxID         string
	Kind         OperationKind
	PredictionID string
	User         string
	Token        Token
	Side         Side
	Amount       *big.Int
}

// Outcome is the result reported back to callers of the sync endpoint.
type Outcome struct {
	TxID     string    `json:"tx_id"`
	State    SyncState `json:"state"`
	Attempts int       `json:"attempts"`
	Degraded bool      `json:"degraded"`
	Message  string    `json:"message,omitempty"`
}

// TxRecord is one entry of a user's transaction history.
type TxRecord struct {
	TxID         string        `json:"tx_id"`
	Kind         OperationKind `json:"kind"`
	PredictionID string        `json:"prediction_id"`
	Token        Token         `json:"token,omitempty"`
	Side         Side          `json:"side,omitempty"`
	Amount       *big.Int      `json:"amount,omitempty"`
	ConfirmedAt  time.Time     `json:"confirmed_at"`
	Block        uint64        `json:"block"`
}

// ResyncReport summarises one full resync pass.
type ResyncReport struct {
	Predictions int           `json:"predictions"`
	Stakes      int           `json:"stakes"`
	Drifted     int           `json:"drifted"`
	Failed      int           `json:"failed"`
	Repaired    int           `json:"repaired"` // abandoned syncs whose history entry was rewritten
	Skipped     bool          `json:"skipped,omitempty"`
	Duration    time.Duration `json:"duration"`
}

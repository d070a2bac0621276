package domain

import "context"

// TxStatus is the final receipt status of a ledger transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Ledger is the read/write facade over the authoritative prediction
// contract. Submit methods return a transaction identifier as soon as the
// ledger accepts the transaction; they are never retried by callers.
type Ledger interface {
	SubmitStake(ctx context.Context, intent StakeIntent) (string, error)
	SubmitResolve(ctx context.Context, predictionID string, outcome bool) (string, error)
	SubmitCancel(ctx context.Context, predictionID, reason string) (string, error)
	SubmitApproval(ctx context.Context, predictionID string, approve bool, reason string) (string, error)

	// WaitForConfirmation blocks until the transaction is mined or ctx is
	// done, in which case it returns ErrConfirmationTimeout.
	WaitForConfirmation(ctx context.Context, txID string) (TxStatus, error)

	ReadPrediction(ctx context.Context, predictionID string) (Prediction, error)
	ReadStake(ctx context.Context, predictionID, user string) (Stake, error)
	ListActivePredictions(ctx context.Context) ([]string, error)
	ListParticipants(ctx context.Context, predictionID string) ([]string, error)
}

package domain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredictionID(t *testing.T) {
	v, err := ParsePredictionID("pred_v2_abc-123")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	for _, bad := range []string{"", "42", "pred_abc", "pred_v0_x", "pred_v2_", "pred_v2_a b", "1700000000"} {
		_, err := ParsePredictionID(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestParseTokenAndSide(t *testing.T) {
	tok, err := ParseToken(" swipe ")
	require.NoError(t, err)
	assert.Equal(t, TokenSWIPE, tok)
	_, err = ParseToken("usdc")
	assert.ErrorIs(t, err, ErrValidation)

	side, err := ParseSide("TRUE")
	require.NoError(t, err)
	assert.Equal(t, SideYes, side)
	_, err = ParseSide("maybe")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "side", verr.Field)
}

func TestStakeVote(t *testing.T) {
	s := Stake{Amounts: map[Token]Pool{
		TokenETH:   NewPool(big.NewInt(5), big.NewInt(0)),
		TokenSWIPE: NewPool(big.NewInt(1), big.NewInt(2)),
	}}
	assert.Equal(t, VoteYes, s.Vote(TokenETH))
	assert.Equal(t, VoteBoth, s.Vote(TokenSWIPE))
	assert.False(t, s.Empty())
	assert.Equal(t, VoteNone, Stake{}.Vote(TokenETH))
	assert.True(t, Stake{}.Empty())
}

func TestPredictionSameStateIgnoresBlock(t *testing.T) {
	a := Prediction{ID: "pred_v2_a", Pools: map[Token]Pool{TokenETH: NewPool(big.NewInt(1), big.NewInt(2))}, Block: 10}
	b := a
	b.Block = 11
	assert.True(t, a.SameState(b))

	b.Pools = map[Token]Pool{TokenETH: NewPool(big.NewInt(1), big.NewInt(3))}
	assert.False(t, a.SameState(b))
}

func TestOperationValidate(t *testing.T) {
	op := Operation{Kind: OpStake, PredictionID: "pred_v2_a", User: "0xabc", Side: SideYes, Token: TokenETH, Amount: big.NewInt(1)}
	require.NoError(t, op.Validate())

	op.Amount = big.NewInt(0)
	assert.ErrorIs(t, op.Validate(), ErrValidation)

	assert.ErrorIs(t, Operation{Kind: OpCancel, PredictionID: "pred_v2_a"}.Validate(), ErrValidation)
	assert.NoError(t, Operation{Kind: OpResolve, PredictionID: "pred_v2_a", Outcome: true}.Validate())
}

func TestSubmissionErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("execution reverted")
	err := error(&SubmissionError{Kind: OpStake, Err: cause})
	assert.ErrorIs(t, err, ErrLedgerSubmission)
	assert.ErrorIs(t, err, cause)
}

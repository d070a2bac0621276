package projection

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/cache/memory"
	"github.com/alanyoungcy/predsync/internal/domain"
)

func samplePrediction(id string, block uint64, yes int64) domain.Prediction {
	return domain.Prediction{
		ID:     id,
		FeeBps: 100,
		Pools: map[domain.Token]domain.Pool{
			domain.TokenETH: domain.NewPool(big.NewInt(yes), big.NewInt(3)),
		},
		Resolution: domain.Resolution{Status: domain.ResolutionOpen},
		Approval:   domain.ApprovalApproved,
		Block:      block,
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "prediction:pred_v2_a", PredictionKey("pred_v2_a"))
	assert.Equal(t, "stakes:pred_v2_a:0xabc", StakeKey("pred_v2_a", "0xABC"))
	assert.Equal(t, "user-stakes:0xabc:pred_v2_a", UserStakeKey(" 0xAbC ", "pred_v2_a"))
	assert.Equal(t, "user-tx-history:0xabc:0xdead", TxKey("0xABC", "0xdead"))
}

func TestPredictionRoundTripAndStaleWrite(t *testing.T) {
	ctx := context.Background()
	p := New(memory.NewStore())

	require.NoError(t, p.PutPrediction(ctx, samplePrediction("pred_v2_a", 20, 7)))
	require.NoError(t, p.PutPrediction(ctx, samplePrediction("pred_v2_a", 19, 1)))

	got, err := p.Prediction(ctx, "pred_v2_a")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got.Block)
	assert.Equal(t, int64(7), got.Pool(domain.TokenETH).Yes.Int64())

	_, err = p.Prediction(ctx, "pred_v2_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdempotentApply(t *testing.T) {
	ctx := context.Background()
	once, many := memory.NewStore(), memory.NewStore()
	snap := samplePrediction("pred_v2_idem", 5, 9)
	stake := domain.Stake{
		PredictionID: "pred_v2_idem",
		User:         "0xA",
		Amounts:      map[domain.Token]domain.Pool{domain.TokenETH: domain.NewPool(big.NewInt(2), nil)},
		Block:        5,
	}

	require.NoError(t, New(once).PutPrediction(ctx, snap))
	require.NoError(t, New(once).PutStake(ctx, stake))
	for i := 0; i < 5; i++ {
		require.NoError(t, New(many).PutPrediction(ctx, snap))
		require.NoError(t, New(many).PutStake(ctx, stake))
	}

	assert.Equal(t, once.Len(), many.Len())
	for _, key := range []string{PredictionKey("pred_v2_idem"), StakeKey("pred_v2_idem", "0xa"), UserStakeKey("0xa", "pred_v2_idem")} {
		a, err := once.Get(ctx, key)
		require.NoError(t, err)
		b, err := many.Get(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, string(a), string(b), key)
	}
}

func TestPositionsSkipsUncachedPredictions(t *testing.T) {
	ctx := context.Background()
	p := New(memory.NewStore())

	require.NoError(t, p.PutPrediction(ctx, samplePrediction("pred_v2_b", 3, 1)))
	for _, pid := range []string{"pred_v2_b", "pred_v2_c"} {
		require.NoError(t, p.PutStake(ctx, domain.Stake{PredictionID: pid, User: "0xUser", Block: 3}))
	}

	stakes, err := p.UserStakes(ctx, "0xuser")
	require.NoError(t, err)
	require.Len(t, stakes, 2)
	assert.Equal(t, "pred_v2_b", stakes[0].PredictionID)
	assert.Equal(t, "0xuser", stakes[0].User)

	positions, err := p.Positions(ctx, "0xUSER")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "pred_v2_b", positions[0].Prediction.ID)
}

func TestTxHistoryIsKeyedByTx(t *testing.T) {
	ctx := context.Background()
	p := New(memory.NewStore())
	t0 := time.Unix(1_700_000_000, 0).UTC()

	rec := domain.TxRecord{TxID: "0x1", Kind: domain.OpStake, PredictionID: "pred_v2_a", Amount: big.NewInt(5), ConfirmedAt: t0, Block: 4}
	require.NoError(t, p.PutTx(ctx, "0xA", rec))
	require.NoError(t, p.PutTx(ctx, "0xA", rec))
	require.NoError(t, p.PutTx(ctx, "0xA", domain.TxRecord{TxID: "0x2", ConfirmedAt: t0.Add(time.Minute), Block: 6}))

	hist, err := p.TxHistory(ctx, "0xa")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "0x2", hist[0].TxID)
	assert.Equal(t, int64(5), hist[1].Amount.Int64())
}

func TestPredictionsSorted(t *testing.T) {
	ctx := context.Background()
	p := New(memory.NewStore())
	for _, id := range []string{"pred_v2_z", "pred_v2_a", "pred_v2_m"} {
		require.NoError(t, p.PutPrediction(ctx, samplePrediction(id, 1, 1)))
	}
	preds, err := p.Predictions(ctx)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	assert.Equal(t, []string{"pred_v2_a", "pred_v2_m", "pred_v2_z"}, []string{preds[0].ID, preds[1].ID, preds[2].ID})
}

package ledger

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestDecodePrediction(t *testing.T) {
	creator := common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	data, err := predictionABI.Methods["getPrediction"].Outputs.Pack(
		true, "Will it rain?", "weather", creator,
		big.NewInt(1_700_000_000),
		big.NewInt(7), big.NewInt(3), big.NewInt(11), big.NewInt(0),
		big.NewInt(100),
		statusResolved, true, approvalApproved,
		big.NewInt(4), "",
	)
	require.NoError(t, err)

	p, err := decodePrediction("pred_v2_rain", data, 42)
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", p.Question)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", p.Creator)
	assert.Equal(t, int64(7), p.Pool(domain.TokenETH).Yes.Int64())
	assert.Equal(t, int64(11), p.Pool(domain.TokenSWIPE).Yes.Int64())
	assert.Equal(t, int64(100), p.FeeBps)
	assert.Equal(t, domain.Resolution{Status: domain.ResolutionResolved, Outcome: true}, p.Resolution)
	assert.Equal(t, domain.ApprovalApproved, p.Approval)
	assert.Equal(t, 4, p.Participants)
	assert.Equal(t, uint64(42), p.Block)
}

func TestDecodePredictionMissing(t *testing.T) {
	data, err := predictionABI.Methods["getPrediction"].Outputs.Pack(
		false, "", "", common.Address{},
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		statusOpen, false, approvalPending, big.NewInt(0), "",
	)
	require.NoError(t, err)
	_, err = decodePrediction("pred_v2_nope", data, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecodeStakeAndLists(t *testing.T) {
	data, err := predictionABI.Methods["getUserStakes"].Outputs.Pack(big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4))
	require.NoError(t, err)
	s, err := decodeStake("pred_v2_a", "0xABCDEF0000000000000000000000000000000001", data, 9)
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", s.User)
	assert.Equal(t, domain.VoteBoth, s.Vote(domain.TokenETH))
	assert.Equal(t, int64(4), s.Amount(domain.TokenSWIPE).No.Int64())

	ids, err := predictionABI.Methods["getActivePredictions"].Outputs.Pack([]string{"pred_v2_a", "pred_v2_b"})
	require.NoError(t, err)
	got, err := decodeStrings("getActivePredictions", ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"pred_v2_a", "pred_v2_b"}, got)

	addrs, err := predictionABI.Methods["getParticipants"].Outputs.Pack([]common.Address{common.HexToAddress("0x01")})
	require.NoError(t, err)
	users, err := decodeAddresses("getParticipants", addrs)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x0000000000000000000000000000000000000001"}, users)
}

func TestPackStake(t *testing.T) {
	sel, err := tokenSelector(domain.TokenSWIPE)
	require.NoError(t, err)
	_, err = predictionABI.Pack("placeStakeFor", "pred_v2_a", common.HexToAddress("0x01"), true, sel, big.NewInt(5))
	require.NoError(t, err)

	_, err = tokenSelector("DOGE")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIsTxHash(t *testing.T) {
	assert.True(t, isTxHash("0x"+common.Bytes2Hex(make([]byte, 32))))
	assert.False(t, isTxHash("0x1234"))
	assert.False(t, isTxHash("0x"+string(make([]byte, 64))))
}

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, common.Bytes2Hex(crypto.FromECDSA(key)))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
	_, err = DecryptKey(blob, "")
	assert.Error(t, err)
}

func TestLoadKeyRaw(t *testing.T) {
	key, err := LoadKey(KeySource{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", crypto.PubkeyToAddress(key.PublicKey).Hex())

	_, err = LoadKey(KeySource{RawPrivateKey: "zz"})
	assert.Error(t, err)
	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
}

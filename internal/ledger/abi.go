package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// Token selectors understood by placeStakeFor.
const (
	tokenSelectorETH   uint8 = 0
	tokenSelectorSWIPE uint8 = 1
)

// On-chain status enums.
const (
	statusOpen      uint8 = 0
	statusResolved  uint8 = 1
	statusCancelled uint8 = 2

	approvalPending  uint8 = 0
	approvalApproved uint8 = 1
	approvalRejected uint8 = 2
)

var predictionABI abi.ABI

func init() {
	var err error
	predictionABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "placeStakeFor",
			"type": "function",
			"stateMutability": "payable",
			"inputs": [
				{"name": "predictionId", "type": "string"},
				{"name": "user", "type": "address"},
				{"name": "isYes", "type": "bool"},
				{"name": "token", "type": "uint8"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "resolvePrediction",
			"type": "function",
			"inputs": [
				{"name": "predictionId", "type": "string"},
				{"name": "outcome", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "cancelPrediction",
			"type": "function",
			"inputs": [
				{"name": "predictionId", "type": "string"},
				{"name": "reason", "type": "string"}
			],
			"outputs": []
		},
		{
			"name": "approvePrediction",
			"type": "function",
			"inputs": [
				{"name": "predictionId", "type": "string"}
			],
			"outputs": []
		},
		{
			"name": "rejectPrediction",
			"type": "function",
			"inputs": [
				{"name": "predictionId", "type": "string"},
				{"name": "reason", "type": "string"}
			],
			"outputs": []
		},
		{
			"name": "getPrediction",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "predictionId", "type": "string"}
			],
			"outputs": [
				{"name": "exists", "type": "bool"},
				{"name": "question", "type": "string"},
				{"name": "category", "type": "string"},
				{"name": "creator", "type": "address"},
				{"name": "deadline", "type": "uint256"},
				{"name": "yesEth", "type": "uint256"},
				{"name": "noEth", "type": "uint256"},
				{"name": "yesSwipe", "type": "uint256"},
				{"name": "noSwipe", "type": "uint256"},
				{"name": "feeBps", "type": "uint256"},
				{"name": "status", "type": "uint8"},
				{"name": "outcome", "type": "bool"},
				{"name": "approval", "type": "uint8"},
				{"name": "participants", "type": "uint256"},
				{"name": "cancelReason", "type": "string"}
			]
		},
		{
			"name": "getUserStakes",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "predictionId", "type": "string"},
				{"name": "user", "type": "address"}
			],
			"outputs": [
				{"name": "yesEth", "type": "uint256"},
				{"name": "noEth", "type": "uint256"},
				{"name": "yesSwipe", "type": "uint256"},
				{"name": "noSwipe", "type": "uint256"}
			]
		},
		{
			"name": "getActivePredictions",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "string[]"}]
		},
		{
			"name": "getParticipants",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "predictionId", "type": "string"}
			],
			"outputs": [{"name": "", "type": "address[]"}]
		}
	]`))
	if err != nil {
		panic("prediction abi parse: " + err.Error())
	}
}

func tokenSelector(t domain.Token) (uint8, error) {
	switch t {
	case domain.TokenETH:
		return tokenSelectorETH, nil
	case domain.TokenSWIPE:
		return tokenSelectorSWIPE, nil
	}
	return 0, domain.Invalid("token", string(t))
}

// decodePrediction unpacks getPrediction return data.
func decodePrediction(id string, data []byte, block uint64) (domain.Prediction, error) {
	vals, err := predictionABI.Unpack("getPrediction", data)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("ledger: unpack prediction %s: %w", id, err)
	}
	if len(vals) != 15 {
		return domain.Prediction{}, fmt.Errorf("ledger: unpack prediction %s: got %d values", id, len(vals))
	}
	if exists, _ := vals[0].(bool); !exists {
		return domain.Prediction{}, domain.ErrNotFound
	}

	p := domain.Prediction{
		ID:       id,
		Question: vals[1].(string),
		Category: vals[2].(string),
		Creator:  strings.ToLower(vals[3].(common.Address).Hex()),
		Deadline: vals[4].(*big.Int).Int64(),
		Pools: map[domain.Token]domain.Pool{
			domain.TokenETH:   domain.NewPool(vals[5].(*big.Int), vals[6].(*big.Int)),
			domain.TokenSWIPE: domain.NewPool(vals[7].(*big.Int), vals[8].(*big.Int)),
		},
		FeeBps:       vals[9].(*big.Int).Int64(),
		Participants: int(vals[13].(*big.Int).Int64()),
		Block:        block,
	}

	switch vals[10].(uint8) {
	case statusOpen:
		p.Resolution = domain.Resolution{Status: domain.ResolutionOpen}
	case statusResolved:
		p.Resolution = domain.Resolution{Status: domain.ResolutionResolved, Outcome: vals[11].(bool)}
	case statusCancelled:
		p.Resolution = domain.Resolution{Status: domain.ResolutionCancelled, Reason: vals[14].(string)}
	default:
		return domain.Prediction{}, fmt.Errorf("ledger: prediction %s: unknown status %d", id, vals[10].(uint8))
	}

	switch vals[12].(uint8) {
	case approvalPending:
		p.Approval = domain.ApprovalPending
	case approvalApproved:
		p.Approval = domain.ApprovalApproved
	case approvalRejected:
		p.Approval = domain.ApprovalRejected
	default:
		return domain.Prediction{}, fmt.Errorf("ledger: prediction %s: unknown approval %d", id, vals[12].(uint8))
	}
	return p, nil
}

// decodeStake unpacks getUserStakes return data.
func decodeStake(predictionID, user string, data []byte, block uint64) (domain.Stake, error) {
	vals, err := predictionABI.Unpack("getUserStakes", data)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("ledger: unpack stake %s/%s: %w", predictionID, user, err)
	}
	if len(vals) != 4 {
		return domain.Stake{}, fmt.Errorf("ledger: unpack stake %s/%s: got %d values", predictionID, user, len(vals))
	}
	return domain.Stake{
		PredictionID: predictionID,
		User:         strings.ToLower(user),
		Amounts: map[domain.Token]domain.Pool{
			domain.TokenETH:   domain.NewPool(vals[0].(*big.Int), vals[1].(*big.Int)),
			domain.TokenSWIPE: domain.NewPool(vals[2].(*big.Int), vals[3].(*big.Int)),
		},
		Block: block,
	}, nil
}

func decodeStrings(method string, data []byte) ([]string, error) {
	vals, err := predictionABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("ledger: unpack %s: empty result", method)
	}
	out, ok := vals[0].([]string)
	if !ok {
		return nil, fmt.Errorf("ledger: unpack %s: unexpected type %T", method, vals[0])
	}
	return out, nil
}

func decodeAddresses(method string, data []byte) ([]string, error) {
	vals, err := predictionABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("ledger: unpack %s: empty result", method)
	}
	addrs, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("ledger: unpack %s: unexpected type %T", method, vals[0])
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a.Hex())
	}
	return out, nil
}

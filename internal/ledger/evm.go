// Package ledger implements domain.Ledger against the prediction market
// contract on an EVM chain. Writes are signed with the operator key and
// relayed on behalf of users; reads are pinned to a block so the height can
// version the cached snapshot.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predsync/internal/domain"
)

const (
	defaultGasLimit     = uint64(300_000)
	defaultPollInterval = 3 * time.Second
	defaultReadRPS      = 20
)

// Config holds the connection parameters of the EVM ledger.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64 // 0 queries the node
	GasLimit        uint64
	ReadRPS         float64
	ReadBurst       int
	PollInterval    time.Duration
}

// Client implements domain.Ledger over ethclient.
type Client struct {
	client   *ethclient.Client
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	poll     time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	// submitMu serialises nonce allocation and broadcast.
	submitMu sync.Mutex
}

// Dial connects to the RPC endpoint and resolves the chain ID.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	if key == nil {
		return nil, errors.New("ledger: operator key is required")
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial rpc %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("ledger: chain id: %w", err)
		}
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	rps, burst := cfg.ReadRPS, cfg.ReadBurst
	if rps <= 0 {
		rps = defaultReadRPS
	}
	if burst <= 0 {
		burst = int(rps)
	}

	c := &Client{
		client:   ec,
		contract: common.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		gasLimit: gasLimit,
		poll:     poll,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger.With(slog.String("component", "ledger")),
	}
	c.logger.Info("ledger connected",
		slog.String("contract", c.contract.Hex()),
		slog.String("operator", c.from.Hex()),
		slog.String("chain_id", chainID.String()),
	)
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// SubmitStake relays a stake for intent.User. ETH stakes carry their amount
// as transaction value; SWIPE stakes rely on an allowance the user granted
// the contract beforehand.
func (c *Client) SubmitStake(ctx context.Context, intent domain.StakeIntent) (string, error) {
	if !common.IsHexAddress(intent.User) {
		return "", domain.Invalid("user", "not a hex address")
	}
	sel, err := tokenSelector(intent.Token)
	if err != nil {
		return "", err
	}
	value := big.NewInt(0)
	if intent.Token == domain.TokenETH {
		value = intent.Amount
	}
	return c.send(ctx, value, "placeStakeFor",
		intent.PredictionID,
		common.HexToAddress(intent.User),
		intent.Side == domain.SideYes,
		sel,
		intent.Amount,
	)
}

// SubmitResolve records the outcome of a prediction.
func (c *Client) SubmitResolve(ctx context.Context, predictionID string, outcome bool) (string, error) {
	return c.send(ctx, big.NewInt(0), "resolvePrediction", predictionID, outcome)
}

// SubmitCancel cancels a prediction; stakers become eligible for refunds.
func (c *Client) SubmitCancel(ctx context.Context, predictionID, reason string) (string, error) {
	return c.send(ctx, big.NewInt(0), "cancelPrediction", predictionID, reason)
}

// SubmitApproval approves or rejects a pending prediction.
func (c *Client) SubmitApproval(ctx context.Context, predictionID string, approve bool, reason string) (string, error) {
	if approve {
		return c.send(ctx, big.NewInt(0), "approvePrediction", predictionID)
	}
	return c.send(ctx, big.NewInt(0), "rejectPrediction", predictionID, reason)
}

// gasFor pads an estimate by 20%, capped at limit but never below the
// estimate itself.
func gasFor(estimate, limit uint64) uint64 {
	return max(min(estimate*12/10, limit), estimate)
}

// send packs, signs and broadcasts one contract call. It returns as soon as
// the node accepts the transaction.
func (c *Client) send(ctx context.Context, value *big.Int, method string, args ...any) (string, error) {
	callData, err := predictionABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("ledger: nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: gas price: %w", err)
	}

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &c.contract,
		GasPrice: gasPrice,
		Value:    value,
		Data:     callData,
	})
	if err != nil {
		// A failed estimate usually means the call would revert; nothing is
		// broadcast so the caller sees the rejection instead of a mined revert.
		return "", fmt.Errorf("ledger: estimate gas %s: %w", method, err)
	}

	tx := types.NewTransaction(nonce, c.contract, value, gasFor(gas, c.gasLimit), gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("ledger: send %s: %w", method, err)
	}

	txID := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", method),
		slog.String("tx", txID),
		slog.Uint64("nonce", nonce),
	)
	return txID, nil
}

// WaitForConfirmation polls for the receipt of txID until it is mined or ctx
// is done.
func (c *Client) WaitForConfirmation(ctx context.Context, txID string) (domain.TxStatus, error) {
	if !isTxHash(txID) {
		return "", domain.Invalid("tx_id", "not a transaction hash")
	}
	hash := common.HexToHash(txID)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				return domain.TxConfirmed, nil
			}
			return domain.TxFailed, nil
		case !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			c.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", txID),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("ledger: wait %s: %w", txID, domain.ErrConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

// ReadPrediction reads the canonical prediction state.
func (c *Client) ReadPrediction(ctx context.Context, predictionID string) (domain.Prediction, error) {
	data, block, err := c.call(ctx, "getPrediction", predictionID)
	if err != nil {
		return domain.Prediction{}, err
	}
	return decodePrediction(predictionID, data, block)
}

// ReadStake reads a user's canonical stake. A user who never staked reads as
// an empty stake.
func (c *Client) ReadStake(ctx context.Context, predictionID, user string) (domain.Stake, error) {
	if !common.IsHexAddress(user) {
		return domain.Stake{}, domain.Invalid("user", "not a hex address")
	}
	data, block, err := c.call(ctx, "getUserStakes", predictionID, common.HexToAddress(user))
	if err != nil {
		return domain.Stake{}, err
	}
	return decodeStake(predictionID, user, data, block)
}

// ListActivePredictions returns the IDs of open predictions.
func (c *Client) ListActivePredictions(ctx context.Context) ([]string, error) {
	data, _, err := c.call(ctx, "getActivePredictions")
	if err != nil {
		return nil, err
	}
	return decodeStrings("getActivePredictions", data)
}

// ListParticipants returns the addresses that staked in a prediction.
func (c *Client) ListParticipants(ctx context.Context, predictionID string) ([]string, error) {
	data, _, err := c.call(ctx, "getParticipants", predictionID)
	if err != nil {
		return nil, err
	}
	return decodeAddresses("getParticipants", data)
}

// call executes a read-only call pinned to the current head and returns the
// head height with the result.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]byte, uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("ledger: %s: %w", method, err)
	}
	callData, err := predictionABI.Pack(method, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	block, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: block number: %w", err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: callData,
	}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: call %s: %w", method, err)
	}
	return out, block, nil
}

func isTxHash(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// Compile-time interface check.
var _ domain.Ledger = (*Client)(nil)

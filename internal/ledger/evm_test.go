package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcNode answers the JSON-RPC calls send makes and records broadcasts.
type rpcNode struct {
	estimate    any // hex quantity or *rpcError
	mu          sync.Mutex
	broadcasts  []string
	unsupported []string
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_getTransactionCount":
		resp["result"] = "0x0"
	case "eth_gasPrice":
		resp["result"] = "0x1"
	case "eth_estimateGas":
		if e, ok := n.estimate.(*rpcError); ok {
			resp["error"] = e
		} else {
			resp["result"] = n.estimate
		}
	case "eth_sendRawTransaction":
		var raw string
		_ = json.Unmarshal(req.Params[0], &raw)
		n.mu.Lock()
		n.broadcasts = append(n.broadcasts, raw)
		n.mu.Unlock()
		resp["result"] = "0x" + strings.Repeat("ab", 32)
	default:
		n.mu.Lock()
		n.unsupported = append(n.unsupported, req.Method)
		n.mu.Unlock()
		resp["error"] = &rpcError{Code: -32601, Message: "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *rpcNode) Broadcasts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.broadcasts...)
}

func (n *rpcNode) Unsupported() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.unsupported...)
}

func dialNode(t *testing.T, node *rpcNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := Dial(context.Background(), Config{
		RPCURL:          srv.URL,
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		ChainID:         31337,
	}, key, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSendRefusesWhenEstimateFails(t *testing.T) {
	node := &rpcNode{estimate: &rpcError{Code: 3, Message: "execution reverted"}}
	c := dialNode(t, node)

	_, err := c.SubmitResolve(context.Background(), "pred_v2_rain", true)
	require.Error(t, err)
	assert.ErrorContains(t, err, "estimate gas resolvePrediction")
	assert.ErrorContains(t, err, "execution reverted")
	assert.Empty(t, node.Broadcasts())
}

func TestSendPadsEstimate(t *testing.T) {
	node := &rpcNode{estimate: hexutil.EncodeUint64(50_000)}
	c := dialNode(t, node)

	txID, err := c.SubmitResolve(context.Background(), "pred_v2_rain", false)
	require.NoError(t, err)

	sent := node.Broadcasts()
	require.Len(t, sent, 1)
	raw, err := hexutil.Decode(sent[0])
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, tx.Hash().Hex(), txID)
	assert.Empty(t, node.Unsupported())
}

func TestGasFor(t *testing.T) {
	tests := []struct {
		name            string
		estimate, limit uint64
		want            uint64
	}{
		{"padded", 100_000, 300_000, 120_000},
		{"capped", 280_000, 300_000, 300_000},
		{"estimate above limit", 400_000, 300_000, 400_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gasFor(tt.estimate, tt.limit))
		})
	}
}

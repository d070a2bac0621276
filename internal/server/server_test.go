package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predsync/internal/cache/memory"
	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/ledger/ledgertest"
	"github.com/alanyoungcy/predsync/internal/portfolio"
	"github.com/alanyoungcy/predsync/internal/projection"
	"github.com/alanyoungcy/predsync/internal/reconcile"
	"github.com/alanyoungcy/predsync/internal/server/handler"
)

const (
	predID = "pred_v2_http"
	user   = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

type fixture struct {
	ledger *ledgertest.Fake
	engine *reconcile.Engine
	proj   *projection.Projection
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfg Config, deps Deps, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{ledger: ledgertest.New(), proj: projection.New(memory.NewStore())}
	f.ledger.AddPrediction(predID, 100)

	metrics := &reconcile.Metrics{}
	if deps.Registry != nil {
		metrics.Register(deps.Registry)
	}
	f.engine = reconcile.New(reconcile.Config{
		GracePeriod:    time.Millisecond,
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
		ConfirmTimeout: time.Second,
	}, reconcile.Deps{Ledger: f.ledger, Cache: f.proj, Metrics: metrics}, logger)

	h := NewHandler(cfg, Handlers{
		Health:      handler.NewHealthHandler(checks, func() int { return len(f.engine.Pending()) }, logger),
		Sync:        handler.NewSyncHandler(f.engine, nil, logger),
		Predictions: handler.NewPredictionHandler(f.proj, logger),
		Portfolio:   handler.NewPortfolioHandler(portfolio.NewAggregator(f.proj), f.proj, logger),
	}, deps, logger)
	f.srv = httptest.NewServer(h)
	t.Cleanup(func() {
		f.srv.Close()
		f.engine.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.engine.Pending()) == 0 }, 2*time.Second, 2*time.Millisecond)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, map[string]handler.HealthCheck{
		"cache": func(context.Context) error { return nil },
	})
	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	f = newFixture(t, Config{}, Deps{}, map[string]handler.HealthCheck{
		"audit": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestStakeFlow(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)

	resp, body := f.do(t, http.MethodPost, "/api/stakes",
		`{"prediction_id":"`+predID+`","user":"`+user+`","side":"yes","token":"eth","amount":"1000000000000000000"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(domain.StateAwaitingConfirmation), body["state"])
	f.waitIdle(t)

	resp, body = f.do(t, http.MethodGet, "/api/predictions/"+predID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	markets := body["markets"].([]any)
	require.Len(t, markets, 2)
	eth := markets[0].(map[string]any)
	assert.Equal(t, "ETH", eth["token"])
	assert.Equal(t, float64(100), eth["confidence"])

	resp, body = f.do(t, http.MethodGet, "/api/predictions/"+predID+"/quote?side=no&token=ETH&amount=1000000000000000000", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := body["quote"].(map[string]any)
	// 1e18 + 1e18*1e18*9900/(1e18*10000)
	assert.Equal(t, float64(1.99e18), quote["payout"])

	resp, body = f.do(t, http.MethodGet, "/api/portfolio/"+user, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	record := body["record"].(map[string]any)
	assert.Equal(t, float64(1), record["open"])

	resp, body = f.do(t, http.MethodGet, "/api/portfolio/"+user+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["transactions"], 1)
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)
	cases := map[string]string{
		"bad side":      `{"prediction_id":"` + predID + `","user":"` + user + `","side":"maybe","token":"ETH","amount":"1"}`,
		"bad amount":    `{"prediction_id":"` + predID + `","user":"` + user + `","side":"yes","token":"ETH","amount":"1.5"}`,
		"legacy id":     `{"prediction_id":"1700000000","user":"` + user + `","side":"yes","token":"ETH","amount":"1"}`,
		"unknown field": `{"prediction_id":"` + predID + `","wallet":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/api/stakes", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Zero(t, f.ledger.SubmitCalls.Load())
}

func TestDuplicateStakeConflict(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)
	f.ledger.HangConfirmations(true)
	body := `{"prediction_id":"` + predID + `","user":"` + user + `","side":"no","token":"SWIPE","amount":"5"}`

	resp, _ := f.do(t, http.MethodPost, "/api/stakes", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/stakes", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, out := f.do(t, http.MethodGet, "/api/sync/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["pending"], 1)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/predictions/"+predID+"/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/predictions/"+predID+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/predictions/"+predID+"/resolve", `{"outcome":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.waitIdle(t)

	resp, body := f.do(t, http.MethodGet, "/api/predictions/"+predID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pred := body["prediction"].(map[string]any)
	resolution := pred["resolution"].(map[string]any)
	assert.Equal(t, "resolved", resolution["status"])
	assert.Equal(t, true, resolution["outcome"])
}

func TestReconcileAndResync(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/reconcile", `{"prediction_id":"`+predID+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	txID, err := f.ledger.SubmitStake(context.Background(), domain.StakeIntent{
		PredictionID: predID, User: user, Side: domain.SideYes, Token: domain.TokenETH, Amount: bigOne(),
	})
	require.NoError(t, err)
	resp, body := f.do(t, http.MethodPost, "/api/reconcile",
		`{"prediction_id":"`+predID+`","user":"`+user+`","tx_id":"`+txID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.StateSyncOK), body["state"])

	resp, body = f.do(t, http.MethodPost, "/api/resync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["predictions"])
	assert.Equal(t, float64(0), body["drifted"])
}

func TestNotFoundAndBadAddress(t *testing.T) {
	f := newFixture(t, Config{}, Deps{}, nil)
	resp, _ := f.do(t, http.MethodGet, "/api/predictions/pred_v2_missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/portfolio/not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/sync/0x1/audit", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, Deps{}, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/sync/pending", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/sync/pending", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/sync/pending", "", "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateLimitWindow: time.Minute}, Deps{Limiter: memory.NewRateLimiter()}, nil)

	for range 2 {
		resp, _ := f.do(t, http.MethodGet, "/api/sync/pending", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/api/sync/pending", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	resp, _ = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://app.example"}}, Deps{}, nil)
	resp, _ := f.do(t, http.MethodOptions, "/api/stakes", "", "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = f.do(t, http.MethodOptions, "/api/stakes", "", "Origin", "https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Config{APIKey: "k"}, Deps{Registry: prometheus.NewRegistry()}, nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "predsync_reconcile_pending")
}

func bigOne() *big.Int { return big.NewInt(1) }

package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/payout"
)

// PredictionReader reads cached predictions.
type PredictionReader interface {
	Prediction(ctx context.Context, id string) (domain.Prediction, error)
}

// PredictionHandler serves prediction reads and payout quotes. Every answer
// comes from the cache; the ledger is never consulted.
type PredictionHandler struct {
	predictions PredictionReader
	now         func() time.Time
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(predictions PredictionReader, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{predictions: predictions, now: time.Now, logger: logger}
}

type marketView struct {
	Token       domain.Token `json:"token"`
	Yes         *big.Int     `json:"yes"`
	No          *big.Int     `json:"no"`
	Confidence  float64      `json:"confidence"`
	PlatformFee *big.Int     `json:"platform_fee,omitempty"`
	Risk        payout.Risk  `json:"risk"`
}

type predictionResponse struct {
	Prediction domain.Prediction `json:"prediction"`
	Markets    []marketView      `json:"markets"`
}

// GetPrediction returns a cached prediction with per-token confidence, risk
// and, once resolved, the platform fee taken from the losing pool.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := predictionResponse{Prediction: p, Markets: make([]marketView, 0, len(domain.Tokens))}
	for _, t := range domain.Tokens {
		view, err := h.market(p, t)
		if err != nil {
			writeDomainError(w, r, h.logger, err, "failed to score prediction")
			return
		}
		resp.Markets = append(resp.Markets, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PredictionHandler) market(p domain.Prediction, t domain.Token) (marketView, error) {
	pool := p.Pool(t)
	conf := payout.Confidence(pool.Yes, pool.No)
	risk, err := payout.RiskScore(payout.RiskInput{
		Confidence:        conf,
		TotalStaked:       pool.Total(),
		Participants:      p.Participants,
		SecondsToDeadline: p.Deadline - h.now().Unix(),
	})
	if err != nil {
		return marketView{}, err
	}
	view := marketView{Token: t, Yes: pool.Yes, No: pool.No, Confidence: conf, Risk: risk}
	if side, ok := p.Resolution.WinningSide(); ok {
		losing := pool.SideTotal(domain.SideNo)
		if side == domain.SideNo {
			losing = pool.SideTotal(domain.SideYes)
		}
		fee, err := payout.PlatformFee(losing, p.FeeBps)
		if err != nil {
			return marketView{}, err
		}
		view.PlatformFee = fee
	}
	return view, nil
}

// Quote previews the payout of a stake before it is placed.
// GET /api/predictions/{id}/quote?side=yes&token=ETH&amount=1000000000000000000
func (h *PredictionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	token, err := domain.ParseToken(q.Get("token"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	amount, err := parseAmount("amount", q.Get("amount"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}

	p, ok := h.load(w, r)
	if !ok {
		return
	}
	quote, err := payout.QuoteStake(p, side, token, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to quote stake")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prediction_id": p.ID,
		"side":          side,
		"token":         token,
		"quote":         quote,
	})
}

func (h *PredictionHandler) load(w http.ResponseWriter, r *http.Request) (domain.Prediction, bool) {
	id, err := predictionID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return domain.Prediction{}, false
	}
	p, err := h.predictions.Prediction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read prediction")
		return domain.Prediction{}, false
	}
	return p, true
}

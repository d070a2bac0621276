package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/portfolio"
)

// PortfolioService summarises a user's positions.
type PortfolioService interface {
	Summary(ctx context.Context, user string) (portfolio.Summary, error)
}

// HistoryReader reads a user's transaction history.
type HistoryReader interface {
	TxHistory(ctx context.Context, user string) ([]domain.TxRecord, error)
}

// PortfolioHandler serves per-user portfolio endpoints.
type PortfolioHandler struct {
	portfolios PortfolioService
	history    HistoryReader
	logger     *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolios PortfolioService, history HistoryReader, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolios: portfolios, history: history, logger: logger}
}

// GetPortfolio returns the user's win/loss record, per-token totals and
// positions.
// GET /api/portfolio/{address}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	user, ok := h.address(w, r)
	if !ok {
		return
	}
	summary, err := h.portfolios.Summary(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to build portfolio")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetHistory returns the user's confirmed transactions, most recent first.
// GET /api/portfolio/{address}/history
func (h *PortfolioHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := h.address(w, r)
	if !ok {
		return
	}
	recs, err := h.history.TxHistory(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read history")
		return
	}
	if recs == nil {
		recs = []domain.TxRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "transactions": recs})
}

func (h *PortfolioHandler) address(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeDomainError(w, r, h.logger, domain.Invalid("address", "not a hex address"), "invalid request")
		return "", false
	}
	return addr, true
}

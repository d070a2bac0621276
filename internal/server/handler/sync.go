package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// ReconcileEngine is what the sync handler needs from the reconciliation
// engine.
type ReconcileEngine interface {
	Submit(ctx context.Context, op domain.Operation) (domain.PendingSync, error)
	ReconcileNow(ctx context.Context, predictionID, user, txID string) (domain.Outcome, error)
	ResyncActivePredictions(ctx context.Context) (domain.ResyncReport, error)
	Pending() []domain.PendingSync
}

// SyncHandler serves the ledger write and reconciliation endpoints.
type SyncHandler struct {
	engine ReconcileEngine
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler. audit may be nil.
func NewSyncHandler(engine ReconcileEngine, audit domain.AuditStore, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{engine: engine, audit: audit, logger: logger}
}

type stakeRequest struct {
	PredictionID string `json:"prediction_id"`
	User         string `json:"user"`
	Side         string `json:"side"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
}

// PlaceStake submits a stake on behalf of a user.
// POST /api/stakes
func (h *SyncHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	op, err := req.operation()
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	h.submit(w, r, op)
}

func (req stakeRequest) operation() (domain.Operation, error) {
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return domain.Operation{}, err
	}
	token, err := domain.ParseToken(req.Token)
	if err != nil {
		return domain.Operation{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return domain.Operation{}, err
	}
	return domain.Operation{
		Kind:         domain.OpStake,
		PredictionID: req.PredictionID,
		User:         strings.TrimSpace(req.User),
		Side:         side,
		Token:        token,
		Amount:       amount,
	}, nil
}

type adminRequest struct {
	Outcome *bool  `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Resolve submits the resolution of a prediction.
// POST /api/predictions/{id}/resolve {"outcome": true}
func (h *SyncHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, domain.OpResolve)
}

// Cancel submits the cancellation of a prediction.
// POST /api/predictions/{id}/cancel {"reason": "..."}
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, domain.OpCancel)
}

// Approve submits moderation approval.
// POST /api/predictions/{id}/approve
func (h *SyncHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, domain.OpApprove)
}

// Reject submits moderation rejection.
// POST /api/predictions/{id}/reject {"reason": "..."}
func (h *SyncHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, domain.OpReject)
}

func (h *SyncHandler) admin(w http.ResponseWriter, r *http.Request, kind domain.OperationKind) {
	id, err := predictionID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	var req adminRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeDomainError(w, r, h.logger, err, "invalid request")
			return
		}
	}
	op := domain.Operation{Kind: kind, PredictionID: id, Reason: strings.TrimSpace(req.Reason)}
	if kind == domain.OpResolve {
		if req.Outcome == nil {
			writeDomainError(w, r, h.logger, errMissing("outcome"), "invalid request")
			return
		}
		op.Outcome = *req.Outcome
	}
	h.submit(w, r, op)
}

func (h *SyncHandler) submit(w http.ResponseWriter, r *http.Request, op domain.Operation) {
	ps, err := h.engine.Submit(r.Context(), op)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to submit operation")
		return
	}
	writeJSON(w, http.StatusAccepted, ps)
}

type reconcileRequest struct {
	PredictionID string `json:"prediction_id"`
	User         string `json:"user,omitempty"`
	TxID         string `json:"tx_id"`
}

// Reconcile verifies a transaction and syncs the cache for it. Degraded
// outcomes are still 200: the ledger write succeeded.
// POST /api/reconcile
func (h *SyncHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err, "invalid request")
		return
	}
	out, err := h.engine.ReconcileNow(r.Context(), req.PredictionID, req.User, req.TxID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to reconcile")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Resync re-reads every active prediction from the ledger.
// POST /api/resync
func (h *SyncHandler) Resync(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.ResyncActivePredictions(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "resync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPending returns in-flight transactions.
// GET /api/sync/pending
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": h.engine.Pending()})
}

// AuditTrail returns the audit entries of one transaction.
// GET /api/sync/{tx}/audit
func (h *SyncHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}
	txID := r.PathValue("tx")
	if txID == "" {
		writeDomainError(w, r, h.logger, errMissing("tx"), "invalid request")
		return
	}
	entries, err := h.audit.ListByTx(r.Context(), txID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_id": txID, "entries": entries})
}

// ListAudit returns recent audit entries.
// GET /api/audit?limit=50&offset=0
func (h *SyncHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

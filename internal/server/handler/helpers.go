package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v and writes it with status. If marshalling fails it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps err onto a status code. Unexpected errors are logged
// and reported as 500 with msg.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, msg string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, "an identical operation is already pending")
	case errors.Is(err, domain.ErrLedgerSubmission):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+msg, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("body", err.Error())
	}
	return nil
}

// parseAmount parses a non-negative integer amount in the token's smallest
// unit.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, domain.Invalid(field, strconv.Quote(s)+" is not an integer amount")
	}
	if v.Sign() < 0 {
		return nil, domain.Invalid(field, "must not be negative")
	}
	return v, nil
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// predictionID returns the {id} path value after validating it.
func predictionID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if _, err := domain.ParsePredictionID(id); err != nil {
		return "", err
	}
	return id, nil
}

func errMissing(field string) error {
	return domain.Invalid(field, fmt.Sprintf("%s is required", field))
}

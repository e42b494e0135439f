package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("handler: encode response", "error", err)
	}
}

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError sends a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain errors onto HTTP status codes and writes the
// error envelope. Unknown errors become 500 with a generic message so
// internals are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrWrongMode):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrAuctionActive),
		errors.Is(err, domain.ErrAlreadyRequested),
		errors.Is(err, domain.ErrAlreadySlashed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotStaker),
		errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNothingToClaim):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, http.StatusAccepted, err.Error())
	case errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrRefundFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("handler: internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts pagination parameters from query string.
// Supported: limit, offset, since (RFC3339), until (RFC3339).
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{
		Limit:  50,
		Offset: 0,
	}

	q := r.URL.Query()

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 500 {
			opts.Limit = limit
		}
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			opts.Offset = offset
		}
	}

	if sinceStr := q.Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			opts.Since = &since
		}
	}

	if untilStr := q.Get("until"); untilStr != "" {
		if until, err := time.Parse(time.RFC3339, untilStr); err == nil {
			opts.Until = &until
		}
	}

	return opts
}

// parseAddress validates and parses a hex account address from a request
// field.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount parses a decimal big integer amount. Negative and malformed
// values are rejected.
func parseAmount(s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

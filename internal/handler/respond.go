package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/websocket"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps economy errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, economy.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, economy.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, economy.ErrTicketsInsufficient):
		return http.StatusPaymentRequired, "tickets_insufficient"
	case errors.Is(err, economy.ErrMemberNotAllowed):
		return http.StatusForbidden, "member_not_allowed"
	case errors.Is(err, economy.ErrMemberNotOwned):
		return http.StatusForbidden, "member_not_owned"
	case errors.Is(err, economy.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, economy.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, economy.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, economy.ErrIdempotencyMismatch):
		return http.StatusConflict, "idempotency_mismatch"
	case errors.Is(err, economy.ErrBidTooLow):
		return http.StatusUnprocessableEntity, "bid_too_low"
	case errors.Is(err, economy.ErrLimitExceeded):
		return http.StatusTooManyRequests, "limit_exceeded"
	case errors.Is(err, economy.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, "concurrency_conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err as {"error", "code"}. Unexpected errors are logged
// and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return economy.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	return parsePathID(r, "id")
}

func parsePathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, economy.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, economy.Invalid("limit", "must be a non-negative integer")
	}
	return n, nil
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, body string) string {
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		return k
	}
	return body
}

// memberParam resolves the {id} path member. Members may read their own
// records; owners may read anyone in the family.
func memberParam(r *http.Request, families *store.FamilyStore) (int64, error) {
	id, err := parseIDParam(r)
	if err != nil {
		return 0, err
	}
	ctx := r.Context()
	if id != auth.MemberID(ctx) && !auth.IsOwner(ctx) {
		return 0, fmt.Errorf("%w: member %d may not read member %d", economy.ErrMemberNotAllowed, auth.MemberID(ctx), id)
	}
	if _, err := economy.RequireFamilyMember(ctx, families, auth.FamilyID(ctx), id); err != nil {
		return 0, err
	}
	return id, nil
}

// broadcast notifies the acting family's clients.
func broadcast(hub *websocket.Hub, r *http.Request, entity, action string, id int64) {
	if hub != nil {
		hub.Broadcast(auth.FamilyID(r.Context()), websocket.NewMessage(entity, action, id))
	}
}

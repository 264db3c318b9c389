package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zy54321/after-school/internal/economy"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{economy.Invalid("points", "must be positive"), http.StatusBadRequest, "validation"},
		{&economy.InsufficientBalanceError{MemberID: 1, Balance: 5, Required: 10}, http.StatusPaymentRequired, "insufficient_balance"},
		{&economy.TicketsInsufficientError{Required: 2, Available: 1}, http.StatusPaymentRequired, "tickets_insufficient"},
		{economy.NotFound("offer", 3), http.StatusNotFound, "not_found"},
		{&economy.ExpiredError{Resource: "offer", ID: 3}, http.StatusGone, "expired"},
		{economy.InvalidState("lot", 4, "settled", "bid"), http.StatusConflict, "invalid_state"},
		{economy.ErrIdempotencyMismatch, http.StatusConflict, "idempotency_mismatch"},
		{&economy.BidTooLowError{Bid: 10, Minimum: 11}, http.StatusUnprocessableEntity, "bid_too_low"},
		{&economy.LimitExceededError{Resource: "sku", ID: 1, Window: "daily", Max: 1, Used: 1, Requested: 1}, http.StatusTooManyRequests, "limit_exceeded"},
		{fmt.Errorf("%w: nope", economy.ErrMemberNotAllowed), http.StatusForbidden, "member_not_allowed"},
		{economy.ErrMemberNotOwned, http.StatusForbidden, "member_not_owned"},
		{fmt.Errorf("settle: %w", economy.ErrConcurrencyConflict), http.StatusServiceUnavailable, "concurrency_conflict"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("GET", "/api/x", nil), logger, errors.New("sql: secret detail"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error","code":"internal"}`, rec.Body.String())
}

func TestWriteErrorConflictRetryAfter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("POST", "/api/orders", nil), logger, economy.ErrConcurrencyConflict)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var v struct {
		Points int64 `json:"points"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"points": 5, "extra": 1}`))
	err := decode(httptest.NewRecorder(), req, &v)
	assert.ErrorIs(t, err, economy.ErrValidation)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"points": 5}`))
	assert.NoError(t, decode(httptest.NewRecorder(), req, &v))
	assert.Equal(t, int64(5), v.Points)
}

func TestIdempotencyKeyPrefersHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	assert.Equal(t, "body", idempotencyKey(req, "body"))

	req.Header.Set("Idempotency-Key", " header ")
	assert.Equal(t, "header", idempotencyKey(req, "body"))
}

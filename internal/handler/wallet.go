package handler

import (
	"log/slog"
	"net/http"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
	"github.com/zy54321/after-school/internal/websocket"
)

type WalletHandler struct {
	wallet   *wallet.Service
	families *store.FamilyStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewWalletHandler(w *wallet.Service, fs *store.FamilyStore, hub *websocket.Hub, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: w, families: fs, hub: hub, logger: logger}
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	balance, err := h.wallet.Balance(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"member_id": id, "balance": balance})
}

func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entries, err := h.wallet.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.PointsLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *WalletHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	balances, err := h.wallet.Leaderboard(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if balances == nil {
		balances = []model.PointBalance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

type grantRequest struct {
	Points         int64  `json:"points"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Grant is an owner's manual credit or debit.
func (h *WalletHandler) Grant(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req grantRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.wallet.Grant(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.Points, req.Description, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	} else {
		broadcast(h.hub, r, "ledger_entry", "created", res.Entry.ID)
	}
	writeJSON(w, status, res)
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/zy54321/after-school/internal/auction"
	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/websocket"
)

type AuctionHandler struct {
	auction *auction.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewAuctionHandler(a *auction.Service, hub *websocket.Hub, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auction: a, hub: hub, logger: logger}
}

func (h *AuctionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.auction.ListSessions(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []model.AuctionSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *AuctionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sess, err := h.auction.GetSession(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AuctionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title           string `json:"title"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	sess, err := h.auction.CreateSession(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), req.Title, req.DurationMinutes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "auction_session", "created", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

// GenerateLots draws the session's lots. Repeating the call returns the lots
// already generated with 200 instead of 201.
func (h *AuctionHandler) GenerateLots(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		RarityCounts map[model.Rarity]int `json:"rarity_counts"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.auction.GenerateLots(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.RarityCounts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyGenerated {
		status = http.StatusOK
	} else {
		broadcast(h.hub, r, "auction_session", "lots_generated", id)
	}
	writeJSON(w, status, res)
}

func (h *AuctionHandler) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	sess, err := h.auction.ScheduleSession(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.ScheduledAt)
	h.sessionResponse(w, r, sess, err, "scheduled")
}

func (h *AuctionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	sess, err := h.auction.StartSession(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id)
	h.sessionResponse(w, r, sess, err, "started")
}

func (h *AuctionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	sess, err := h.auction.EndSession(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id)
	h.sessionResponse(w, r, sess, err, "ended")
}

func (h *AuctionHandler) sessionResponse(w http.ResponseWriter, r *http.Request, sess *model.AuctionSession, err error, action string) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	broadcast(h.hub, r, "auction_session", action, sess.ID)
	writeJSON(w, http.StatusOK, sess)
}

// SettleSession settles every pending lot. Lots that failed are listed in
// the response and stay pending for a retry.
func (h *AuctionHandler) SettleSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.auction.SettleSession(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "auction_session", "settled", id)
	writeJSON(w, http.StatusOK, res)
}

func (h *AuctionHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	lots, err := h.auction.ListLots(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

func (h *AuctionHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	results, err := h.auction.ListResults(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if results == nil {
		results = []model.AuctionResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *AuctionHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	lotID, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		Points int64 `json:"points"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	bid, err := h.auction.SubmitBid(ctx, auction.BidRequest{
		FamilyID: auth.FamilyID(ctx),
		MemberID: auth.MemberID(ctx),
		LotID:    lotID,
		Points:   req.Points,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "lot", "bid", lotID)
	writeJSON(w, http.StatusOK, bid)
}

func (h *AuctionHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	lotID, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	key := idempotencyKey(r, req.IdempotencyKey)
	if err := economy.ValidateKey(key); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.auction.BuyNow(ctx, auction.BuyNowRequest{
		FamilyID:       auth.FamilyID(ctx),
		MemberID:       auth.MemberID(ctx),
		LotID:          lotID,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	} else {
		broadcast(h.hub, r, "lot", "bought", lotID)
	}
	writeJSON(w, status, res)
}

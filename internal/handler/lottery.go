package handler

import (
	"log/slog"
	"net/http"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/lottery"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/websocket"
)

type LotteryHandler struct {
	lottery *lottery.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewLotteryHandler(l *lottery.Service, hub *websocket.Hub, logger *slog.Logger) *LotteryHandler {
	return &LotteryHandler{lottery: l, hub: hub, logger: logger}
}

func (h *LotteryHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.lottery.ListPools(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if pools == nil {
		pools = []model.DrawPool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

func (h *LotteryHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	detail, err := h.lottery.GetPool(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *LotteryHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req lottery.PoolRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	pool, err := h.lottery.CreatePool(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "draw_pool", "created", pool.ID)
	writeJSON(w, http.StatusCreated, pool)
}

func (h *LotteryHandler) PublishVersion(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req lottery.VersionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	v, err := h.lottery.PublishVersion(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "draw_pool", "version_published", id)
	writeJSON(w, http.StatusCreated, v)
}

func (h *LotteryHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	v, err := h.lottery.Version(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *LotteryHandler) SetPoolStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		Status model.PoolStatus `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	if err := h.lottery.SetPoolStatus(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.Status); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "draw_pool", string(req.Status), id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// Spin draws once from the pool as the calling member.
func (h *LotteryHandler) Spin(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
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

	ctx := r.Context()
	res, err := h.lottery.Spin(ctx, lottery.SpinRequest{
		FamilyID:       auth.FamilyID(ctx),
		MemberID:       auth.MemberID(ctx),
		PoolID:         id,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	} else {
		broadcast(h.hub, r, "draw", "completed", res.Log.ID)
	}
	writeJSON(w, status, res)
}

// History lists the caller's draws from the pool.
func (h *LotteryHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	if _, err := h.lottery.GetPool(ctx, auth.FamilyID(ctx), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	logs, err := h.lottery.History(ctx, auth.MemberID(ctx), id, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if logs == nil {
		logs = []model.DrawLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}


package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/bounty"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/websocket"
)

type BountyHandler struct {
	bounty *bounty.Service
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewBountyHandler(b *bounty.Service, hub *websocket.Hub, logger *slog.Logger) *BountyHandler {
	return &BountyHandler{bounty: b, hub: hub, logger: logger}
}

func (h *BountyHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := h.bounty.ListTasks(r.Context(), auth.FamilyID(r.Context()), status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if tasks == nil {
		tasks = []model.BountyTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *BountyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	detail, err := h.bounty.GetTask(r.Context(), auth.FamilyID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type publishRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Points         int64      `json:"points"`
	DueAt          *time.Time `json:"due_at"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// Publish posts a task and escrows its reward from the caller's wallet.
func (h *BountyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.bounty.Publish(ctx, bounty.PublishRequest{
		FamilyID:       auth.FamilyID(ctx),
		MemberID:       auth.MemberID(ctx),
		Title:          req.Title,
		Description:    req.Description,
		Points:         req.Points,
		DueAt:          req.DueAt,
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
		broadcast(h.hub, r, "task", "published", res.Task.ID)
	}
	writeJSON(w, status, res)
}

func (h *BountyHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	claim, err := h.bounty.Claim(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "task", "claimed", id)
	writeJSON(w, http.StatusCreated, claim)
}

func (h *BountyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	ctx := r.Context()
	claim, err := h.bounty.Submit(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.Note)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "task", "submitted", id)
	writeJSON(w, http.StatusOK, claim)
}

type reviewRequest struct {
	ClaimID      int64                `json:"claim_id"`
	Decision     model.ReviewDecision `json:"decision"`
	Comment      string               `json:"comment"`
	AllowReclaim bool                 `json:"allow_reclaim"`
}

func (h *BountyHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req reviewRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	res, err := h.bounty.Review(ctx, bounty.ReviewRequest{
		FamilyID:     auth.FamilyID(ctx),
		ReviewerID:   auth.MemberID(ctx),
		TaskID:       id,
		ClaimID:      req.ClaimID,
		Decision:     req.Decision,
		Comment:      req.Comment,
		AllowReclaim: req.AllowReclaim,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if !res.Idempotent {
		broadcast(h.hub, r, "task", string(res.Task.Status), id)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BountyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	task, err := h.bounty.Cancel(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "task", "cancelled", id)
	writeJSON(w, http.StatusOK, task)
}

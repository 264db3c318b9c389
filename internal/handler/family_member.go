package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/websocket"
)

type FamilyMemberHandler struct {
	families *store.FamilyStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewFamilyMemberHandler(fs *store.FamilyStore, hub *websocket.Hub, logger *slog.Logger) *FamilyMemberHandler {
	return &FamilyMemberHandler{families: fs, hub: hub, logger: logger}
}

// List returns the caller's family. ?active=true hides deactivated members.
func (h *FamilyMemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.families.ListMembers(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if r.URL.Query().Get("active") == "true" {
		members = lo.Filter(members, func(m model.Member, _ int) bool { return m.Active })
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// Create adds a member to the caller's family. Owner only.
func (h *FamilyMemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, h.logger, economy.Invalid("name", "required"))
		return
	}
	switch req.Role {
	case "":
		req.Role = model.RoleMember
	case model.RoleMember, model.RoleOwner:
	default:
		writeError(w, r, h.logger, economy.Invalid("role", "must be owner or member"))
		return
	}

	m, err := h.families.CreateMember(r.Context(), auth.FamilyID(r.Context()), req.Name, req.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "member", "created", m.ID)
	writeJSON(w, http.StatusCreated, m)
}

// SetActive deactivates or reactivates a member. Owner only; members are never
// deleted because the ledger references them.
func (h *FamilyMemberHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !req.Active && id == auth.MemberID(r.Context()) {
		writeError(w, r, h.logger, economy.Invalid("active", "owners cannot deactivate themselves"))
		return
	}

	if err := h.families.SetActive(r.Context(), id, req.Active); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "member", "updated", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": req.Active})
}

func (h *FamilyMemberHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if len(req.PIN) != 4 || !isDigits(req.PIN) {
		writeError(w, r, h.logger, economy.Invalid("pin", "must be exactly 4 digits"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.families.SetPIN(r.Context(), id, string(hash)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

func (h *FamilyMemberHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.families.ClearPIN(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pin cleared"})
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

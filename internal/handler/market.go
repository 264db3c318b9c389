package handler

import (
	"log/slog"
	"net/http"

	"github.com/zy54321/after-school/internal/auth"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/websocket"
)

type MarketHandler struct {
	market   *market.Service
	families *store.FamilyStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewMarketHandler(m *market.Service, fs *store.FamilyStore, hub *websocket.Hub, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: m, families: fs, hub: hub, logger: logger}
}

func (h *MarketHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.market.ListOffers(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (h *MarketHandler) ListSKUs(w http.ResponseWriter, r *http.Request) {
	typ := model.SKUType(r.URL.Query().Get("type"))
	skus, err := h.market.ListSKUs(r.Context(), auth.FamilyID(r.Context()), typ)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if skus == nil {
		skus = []model.SKU{}
	}
	writeJSON(w, http.StatusOK, skus)
}

func (h *MarketHandler) CreateSKU(w http.ResponseWriter, r *http.Request) {
	var req market.SKURequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	sku, err := h.market.CreateSKU(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "sku", "created", sku.ID)
	writeJSON(w, http.StatusCreated, sku)
}

func (h *MarketHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req market.OfferRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	offer, err := h.market.CreateOffer(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "offer", "created", offer.ID)
	writeJSON(w, http.StatusCreated, offer)
}

func (h *MarketHandler) SetOfferActive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
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

	ctx := r.Context()
	if err := h.market.SetOfferActive(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), id, req.Active); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "offer", "updated", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": req.Active})
}

func (h *MarketHandler) CreateTicketType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		SKUID int64  `json:"sku_id"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	tt, err := h.market.CreateTicketType(ctx, auth.FamilyID(ctx), auth.MemberID(ctx), req.Name, req.SKUID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, r, "ticket_type", "created", tt.ID)
	writeJSON(w, http.StatusCreated, tt)
}

type orderRequest struct {
	OfferID        int64  `json:"offer_id"`
	SKUID          int64  `json:"sku_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateOrder buys from the marketplace as the calling member.
func (h *MarketHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	ctx := r.Context()
	res, err := h.market.CreateOrderAndFulfill(ctx, market.OrderRequest{
		FamilyID:       auth.FamilyID(ctx),
		MemberID:       auth.MemberID(ctx),
		OfferID:        req.OfferID,
		SKUID:          req.SKUID,
		Quantity:       req.Quantity,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Source:         model.SourceMarket,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	} else {
		broadcast(h.hub, r, "order", "created", res.Order.ID)
	}
	writeJSON(w, status, res)
}

func (h *MarketHandler) Orders(w http.ResponseWriter, r *http.Request) {
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

	orders, err := h.market.Orders(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *MarketHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items, err := h.market.Inventory(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []model.InventoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Package market fulfills purchases: every order pairs one ledger debit with
// one inventory credit inside a single transaction.
package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

// MaxQuantity caps the units a single order may carry.
const MaxQuantity = 1000

type Service struct {
	db     *sql.DB
	wallet *wallet.Service
	now    economy.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewService returns a marketplace. loc is the zone purchase-limit windows are
// computed in.
func NewService(db *sql.DB, w *wallet.Service, clock economy.Clock, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{db: db, wallet: w, now: clock, loc: loc, logger: logger}
}

// OrderRequest is a purchase intent. Exactly one of OfferID and SKUID is set;
// a SKU resolves to its default standard offer.
type OrderRequest struct {
	FamilyID       int64
	MemberID       int64
	OfferID        int64
	SKUID          int64
	Quantity       int64
	IdempotencyKey string

	// Source defaults to market. Only market orders count against SKU
	// purchase limits, and only auction orders may buy auction lot offers.
	Source model.OrderSource
	// UnitCost replaces the offer's cost without touching the offer row.
	UnitCost *int64
}

type OrderResult struct {
	Order      *model.Order          `json:"order"`
	Entry      *model.PointsLogEntry `json:"ledger_entry,omitempty"`
	Item       *model.InventoryItem  `json:"inventory_item,omitempty"`
	Idempotent bool                  `json:"idempotent"`
}

func (r *OrderRequest) normalize() error {
	if r.Source == "" {
		r.Source = model.SourceMarket
	}
	switch {
	case r.FamilyID <= 0:
		return economy.Invalid("family_id", "required")
	case r.MemberID <= 0:
		return economy.Invalid("member_id", "required")
	case (r.OfferID > 0) == (r.SKUID > 0):
		return economy.Invalid("offer_id", "exactly one of offer_id and sku_id is required")
	case r.Quantity <= 0:
		return economy.Invalid("quantity", "must be positive")
	case r.Quantity > MaxQuantity:
		return economy.Invalid("quantity", fmt.Sprintf("must be at most %d", MaxQuantity))
	case r.UnitCost != nil && *r.UnitCost < 0:
		return economy.Invalid("unit_cost", "must not be negative")
	}
	return economy.ValidateKey(r.IdempotencyKey)
}

// CreateOrderAndFulfill places an order in its own transaction. Replaying an
// idempotency key returns the original order with Idempotent set and writes
// nothing.
func (s *Service) CreateOrderAndFulfill(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	var res *OrderResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.FulfillTx(ctx, tx, req)
		return err
	})
	if err != nil && database.IsUniqueViolation(err) {
		res, err = s.replay(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	s.record(res)
	return res, nil
}

func (s *Service) replay(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	existing, err := store.NewOrderStore(s.db).GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("order %q vanished after conflict", req.IdempotencyKey)
	}
	if existing.MemberID != req.MemberID {
		return nil, economy.ErrIdempotencyMismatch
	}
	return &OrderResult{Order: existing, Idempotent: true}, nil
}

// record publishes metrics and logs for a committed order.
func (s *Service) record(res *OrderResult) {
	if res.Idempotent {
		metrics.RecordReplay("order")
		return
	}
	o := res.Order
	metrics.RecordOrder(string(o.Source))
	metrics.RecordPoints(-o.Cost)
	s.logger.Info("order fulfilled",
		"order_id", o.ID, "member_id", o.MemberID, "sku_id", o.SKUID,
		"quantity", o.Quantity, "cost", o.Cost, "source", o.Source)
}

// FulfillTx places an order inside the caller's transaction. Auction
// settlement calls it with a derived key and a UnitCost override.
func (s *Service) FulfillTx(ctx context.Context, tx database.DBTX, req OrderRequest) (*OrderResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	orders := store.NewOrderStore(tx)
	catalog := store.NewCatalogStore(tx)
	now := s.now().UTC()

	existing, err := orders.GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.MemberID != req.MemberID {
			return nil, economy.ErrIdempotencyMismatch
		}
		return &OrderResult{Order: existing, Idempotent: true}, nil
	}

	member, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), req.FamilyID, req.MemberID)
	if err != nil {
		return nil, err
	}

	offer, err := s.resolveOffer(ctx, catalog, req, now)
	if err != nil {
		return nil, err
	}
	sku, err := catalog.GetSKU(ctx, offer.SKUID)
	if err != nil {
		return nil, err
	}
	if sku == nil || !sku.IsActive {
		return nil, economy.NotFound("sku", offer.SKUID)
	}

	unit := offer.Cost
	if req.UnitCost != nil {
		unit = *req.UnitCost
	}
	if unit > 0 && req.Quantity > math.MaxInt64/unit {
		return nil, economy.Invalid("quantity", "total cost too large")
	}
	total := unit * req.Quantity
	if err := s.wallet.RequireBalanceTx(ctx, tx, member.ID, total); err != nil {
		return nil, err
	}

	if req.Source == model.SourceMarket {
		if err := s.checkLimit(ctx, orders, sku, member.ID, req.Quantity, now); err != nil {
			return nil, err
		}
	}

	if !sku.Allows(member.ID) {
		return nil, fmt.Errorf("%w: member %d may not buy sku %d", economy.ErrMemberNotAllowed, member.ID, sku.ID)
	}

	if offer.Quantity != nil {
		ok, err := catalog.TakeStock(ctx, offer.ID, req.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &economy.LimitExceededError{
				Resource: "offer", ID: offer.ID, Window: "stock",
				Max: *offer.Quantity, Used: 0, Requested: req.Quantity,
			}
		}
	}

	order, err := orders.Insert(ctx, &model.Order{
		FamilyID:       req.FamilyID,
		MemberID:       member.ID,
		OfferID:        &offer.ID,
		SKUID:          sku.ID,
		Source:         req.Source,
		Cost:           total,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	return s.settleOrderTx(ctx, tx, order, reasonFor(req.Source), fmt.Sprintf("%s x%d", sku.Name, req.Quantity))
}

// GrantRequest delivers a SKU at no cost, as a lottery prize does. The order
// still gets its zero-point ledger entry so every order has exactly one.
type GrantRequest struct {
	FamilyID       int64
	MemberID       int64
	SKUID          int64
	Quantity       int64
	Source         model.OrderSource
	IdempotencyKey string
}

// GrantTx records a zero-cost order and its inventory credit inside the
// caller's transaction.
func (s *Service) GrantTx(ctx context.Context, tx database.DBTX, req GrantRequest) (*OrderResult, error) {
	if req.Quantity <= 0 || req.Quantity > MaxQuantity {
		return nil, economy.Invalid("quantity", fmt.Sprintf("must be between 1 and %d", MaxQuantity))
	}
	orders := store.NewOrderStore(tx)
	existing, err := orders.GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &OrderResult{Order: existing, Idempotent: true}, nil
	}

	sku, err := store.NewCatalogStore(tx).GetSKU(ctx, req.SKUID)
	if err != nil {
		return nil, err
	}
	if sku == nil || sku.FamilyID != req.FamilyID {
		return nil, economy.NotFound("sku", req.SKUID)
	}

	order, err := orders.Insert(ctx, &model.Order{
		FamilyID:       req.FamilyID,
		MemberID:       req.MemberID,
		SKUID:          sku.ID,
		Source:         req.Source,
		Cost:           0,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return s.settleOrderTx(ctx, tx, order, reasonFor(req.Source), fmt.Sprintf("%s x%d", sku.Name, req.Quantity))
}

// settleOrderTx writes the ledger debit and inventory credit for a new order.
func (s *Service) settleOrderTx(ctx context.Context, tx database.DBTX, order *model.Order, reason, description string) (*OrderResult, error) {
	entry, err := s.wallet.CreateEntryTx(ctx, tx, wallet.EntryRequest{
		FamilyID:       order.FamilyID,
		MemberID:       order.MemberID,
		PointsChange:   -order.Cost,
		ReasonCode:     reason,
		Description:    description,
		IdempotencyKey: economy.DeriveKey("order-debit", order.ID),
		OrderID:        &order.ID,
	})
	if err != nil {
		return nil, err
	}

	item, err := store.NewInventoryStore(tx).Credit(ctx, order.FamilyID, order.MemberID, order.SKUID,
		order.Quantity, &order.ID, order.CreatedAt)
	if errors.Is(err, store.ErrQuantityOverflow) {
		return nil, economy.Invalid("quantity", "inventory total too large")
	}
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Entry: entry.Entry, Item: item}, nil
}

func (s *Service) resolveOffer(ctx context.Context, catalog *store.CatalogStore, req OrderRequest, now time.Time) (*model.Offer, error) {
	var offer *model.Offer
	var err error
	if req.OfferID > 0 {
		offer, err = catalog.GetOffer(ctx, req.OfferID)
		if err != nil {
			return nil, err
		}
		if offer == nil || offer.FamilyID != req.FamilyID || !offer.IsActive {
			return nil, economy.NotFound("offer", req.OfferID)
		}
	} else {
		offer, err = catalog.DefaultOffer(ctx, req.SKUID, now)
		if err != nil {
			return nil, err
		}
		if offer == nil || offer.FamilyID != req.FamilyID {
			return nil, economy.NotFound("offer for sku", req.SKUID)
		}
	}

	if offer.Kind == model.OfferAuctionLot && req.Source != model.SourceAuction {
		return nil, economy.NotFound("offer", offer.ID)
	}
	if !offer.InWindow(now) {
		return nil, &economy.ExpiredError{Resource: "offer", ID: offer.ID}
	}
	return offer, nil
}

func (s *Service) checkLimit(ctx context.Context, orders *store.OrderStore, sku *model.SKU, memberID, quantity int64, now time.Time) error {
	since, ok := economy.WindowStart(sku.LimitType, now, s.loc)
	if !ok || sku.LimitMax <= 0 {
		return nil
	}
	used, err := orders.PurchasedSince(ctx, memberID, sku.ID, since)
	if err != nil {
		return err
	}
	if used+quantity > sku.LimitMax {
		return &economy.LimitExceededError{
			Resource: "sku", ID: sku.ID, Window: string(sku.LimitType),
			Max: sku.LimitMax, Used: used, Requested: quantity,
		}
	}
	return nil
}

func reasonFor(source model.OrderSource) string {
	switch source {
	case model.SourceAuction:
		return model.ReasonAuctionWin
	case model.SourceLottery:
		return model.ReasonLotteryPrize
	}
	return model.ReasonMarketOrder
}

package market

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

// SKURequest creates a catalog SKU. TargetMembers, when set, is the only set
// of members allowed to buy it.
type SKURequest struct {
	Name          string          `json:"name"`
	Type          model.SKUType   `json:"type"`
	BaseCost      int64           `json:"base_cost"`
	LimitType     model.LimitType `json:"limit_type"`
	LimitMax      int64           `json:"limit_max"`
	TargetMembers []int64         `json:"target_members"`
}

func (r SKURequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return economy.Invalid("name", "required")
	}
	switch r.Type {
	case model.SKUReward, model.SKUAuction, model.SKUTicket:
	default:
		return economy.Invalid("type", "must be reward, auction or ticket")
	}
	if r.BaseCost < 0 {
		return economy.Invalid("base_cost", "must not be negative")
	}
	switch r.LimitType {
	case "", model.LimitUnlimited:
	case model.LimitDaily, model.LimitWeekly, model.LimitMonthly:
		if r.LimitMax <= 0 {
			return economy.Invalid("limit_max", "must be positive for a limited sku")
		}
	default:
		return economy.Invalid("limit_type", "must be unlimited, daily, weekly or monthly")
	}
	return nil
}

// CreateSKU adds a SKU to the family catalog. Only owners may edit the catalog.
func (s *Service) CreateSKU(ctx context.Context, familyID, ownerID int64, req SKURequest) (*model.SKU, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var sku *model.SKU
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		members := store.NewFamilyStore(tx)
		if _, err := economy.RequireOwner(ctx, members, familyID, ownerID); err != nil {
			return err
		}
		for _, id := range req.TargetMembers {
			if _, err := economy.RequireFamilyMember(ctx, members, familyID, id); err != nil {
				return err
			}
		}

		var err error
		sku, err = store.NewCatalogStore(tx).CreateSKU(ctx, &model.SKU{
			FamilyID:      familyID,
			Name:          strings.TrimSpace(req.Name),
			Type:          req.Type,
			BaseCost:      req.BaseCost,
			LimitType:     req.LimitType,
			LimitMax:      req.LimitMax,
			TargetMembers: req.TargetMembers,
			IsActive:      true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("sku created", "sku_id", sku.ID, "family_id", familyID, "type", sku.Type)
	return sku, nil
}

// OfferRequest prices a SKU. A nil Quantity is unlimited stock.
type OfferRequest struct {
	SKUID      int64      `json:"sku_id"`
	Cost       int64      `json:"cost"`
	Quantity   *int64     `json:"quantity"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (r OfferRequest) validate() error {
	switch {
	case r.SKUID <= 0:
		return economy.Invalid("sku_id", "required")
	case r.Cost < 0:
		return economy.Invalid("cost", "must not be negative")
	case r.Quantity != nil && *r.Quantity < 0:
		return economy.Invalid("quantity", "must not be negative")
	case r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidUntil.After(*r.ValidFrom):
		return economy.Invalid("valid_until", "must be after valid_from")
	}
	return nil
}

// CreateOffer adds a standard offer for one of the family's SKUs.
func (s *Service) CreateOffer(ctx context.Context, familyID, ownerID int64, req OfferRequest) (*model.Offer, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var offer *model.Offer
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		catalog := store.NewCatalogStore(tx)
		sku, err := catalog.GetSKU(ctx, req.SKUID)
		if err != nil {
			return err
		}
		if sku == nil || sku.FamilyID != familyID {
			return economy.NotFound("sku", req.SKUID)
		}
		offer, err = catalog.CreateOffer(ctx, &model.Offer{
			SKUID:      sku.ID,
			FamilyID:   familyID,
			Kind:       model.OfferStandard,
			Cost:       req.Cost,
			Quantity:   req.Quantity,
			ValidFrom:  req.ValidFrom,
			ValidUntil: req.ValidUntil,
			IsActive:   true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("offer created", "offer_id", offer.ID, "sku_id", offer.SKUID, "cost", offer.Cost)
	return offer, nil
}

// SetOfferActive retires or restores an offer.
func (s *Service) SetOfferActive(ctx context.Context, familyID, ownerID, offerID int64, active bool) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		catalog := store.NewCatalogStore(tx)
		offer, err := catalog.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if offer == nil || offer.FamilyID != familyID {
			return economy.NotFound("offer", offerID)
		}
		return catalog.SetOfferActive(ctx, offerID, active)
	})
}

// CreateTicketType registers a lottery ticket backed by a ticket SKU.
func (s *Service) CreateTicketType(ctx context.Context, familyID, ownerID int64, name string, skuID int64) (*model.TicketType, error) {
	if strings.TrimSpace(name) == "" {
		return nil, economy.Invalid("name", "required")
	}

	var tt *model.TicketType
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		catalog := store.NewCatalogStore(tx)
		sku, err := catalog.GetSKU(ctx, skuID)
		if err != nil {
			return err
		}
		if sku == nil || sku.FamilyID != familyID {
			return economy.NotFound("sku", skuID)
		}
		if sku.Type != model.SKUTicket {
			return economy.Invalid("sku_id", "must reference a ticket sku")
		}
		tt, err = catalog.CreateTicketType(ctx, familyID, strings.TrimSpace(name), skuID)
		return err
	})
	return tt, err
}

// ListOffers returns the family's purchasable offers right now.
func (s *Service) ListOffers(ctx context.Context, familyID int64) ([]model.Offer, error) {
	return store.NewCatalogStore(s.db).ListActiveOffers(ctx, familyID, s.now())
}

// ListSKUs returns the family's active SKUs; an empty type matches all.
func (s *Service) ListSKUs(ctx context.Context, familyID int64, skuType model.SKUType) ([]model.SKU, error) {
	return store.NewCatalogStore(s.db).ListSKUs(ctx, familyID, skuType)
}

// Orders returns the member's newest orders.
func (s *Service) Orders(ctx context.Context, memberID int64, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return store.NewOrderStore(s.db).ListByMember(ctx, memberID, limit)
}

// Inventory returns the member's unused items.
func (s *Service) Inventory(ctx context.Context, memberID int64) ([]model.InventoryItem, error) {
	return store.NewInventoryStore(s.db).ListByMember(ctx, memberID)
}

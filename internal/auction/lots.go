package auction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/lo"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

// MaxLots bounds a single generation request.
const MaxLots = 100

// multipliers are rarity price multipliers in tenths.
var multipliers = map[model.Rarity]int64{
	model.RarityCommon:    10,
	model.RarityRare:      15,
	model.RarityEpic:      25,
	model.RarityLegendary: 50,
}

// StartPrice is half the base cost scaled by rarity, rounded down.
func StartPrice(baseCost int64, r model.Rarity) int64 {
	return baseCost * multipliers[r] / 20
}

// BuyNowPrice is twice the base cost scaled by rarity, rounded down.
func BuyNowPrice(baseCost int64, r model.Rarity) int64 {
	return baseCost * multipliers[r] / 5
}

// GenerateResult reports the session's lots. AlreadyGenerated is set when the
// session had lots before the call; nothing was written in that case.
type GenerateResult struct {
	SessionID        int64       `json:"session_id"`
	Lots             []model.Lot `json:"lots"`
	AlreadyGenerated bool        `json:"already_generated"`
}

func validateCounts(counts map[model.Rarity]int) error {
	for r, n := range counts {
		if _, ok := multipliers[r]; !ok {
			return economy.Invalid("rarity_counts", fmt.Sprintf("unknown rarity %q", r))
		}
		if n < 0 {
			return economy.Invalid("rarity_counts", "counts must not be negative")
		}
	}
	total := lo.Sum(lo.Values(counts))
	if total == 0 {
		return economy.Invalid("rarity_counts", "at least one lot is required")
	}
	if total > MaxLots {
		return economy.Invalid("rarity_counts", fmt.Sprintf("at most %d lots per session", MaxLots))
	}
	return nil
}

// GenerateLots draws the session's lots from the family's active auction SKUs.
// Each lot gets its own single-unit auction offer priced at the start price.
// A session is generated at most once.
func (s *Service) GenerateLots(ctx context.Context, familyID, ownerID, sessionID int64, counts map[model.Rarity]int) (*GenerateResult, error) {
	if err := validateCounts(counts); err != nil {
		return nil, err
	}

	var res *GenerateResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		auctions := store.NewAuctionStore(tx)
		sess, err := s.sessionTx(ctx, auctions, familyID, sessionID)
		if err != nil {
			return err
		}

		n, err := auctions.CountLots(ctx, sessionID)
		if err != nil {
			return err
		}
		if n > 0 {
			lots, err := auctions.ListLots(ctx, sessionID)
			if err != nil {
				return err
			}
			res = &GenerateResult{SessionID: sessionID, Lots: lots, AlreadyGenerated: true}
			return nil
		}
		if sess.Status != model.SessionDraft && sess.Status != model.SessionScheduled {
			return economy.InvalidState("auction session", sess.ID, string(sess.Status), "generate lots for")
		}

		lots, err := s.generateTx(ctx, tx, sess, counts)
		if err != nil {
			return err
		}
		res = &GenerateResult{SessionID: sessionID, Lots: lots}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.AlreadyGenerated {
		s.logger.Info("auction lots generated", "session_id", sessionID, "lots", len(res.Lots))
	}
	return res, nil
}

func (s *Service) generateTx(ctx context.Context, tx database.DBTX, sess *model.AuctionSession, counts map[model.Rarity]int) ([]model.Lot, error) {
	catalog := store.NewCatalogStore(tx)
	auctions := store.NewAuctionStore(tx)

	pool, err := catalog.ListSKUs(ctx, sess.FamilyID, model.SKUAuction)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, economy.Invalid("rarity_counts", "the family has no active auction skus")
	}
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	now := s.now().UTC()
	var lots []model.Lot
	cursor := 0
	for _, rarity := range model.Rarities {
		for range counts[rarity] {
			sku := pool[cursor%len(pool)]
			name := sku.Name
			if round := cursor / len(pool); round > 0 {
				name = fmt.Sprintf("%s #%d", sku.Name, round+1)
			}
			cursor++

			start := StartPrice(sku.BaseCost, rarity)
			buyNow := BuyNowPrice(sku.BaseCost, rarity)
			offer, err := catalog.CreateOffer(ctx, &model.Offer{
				SKUID:    sku.ID,
				FamilyID: sess.FamilyID,
				Kind:     model.OfferAuctionLot,
				Cost:     start,
				Quantity: lo.ToPtr(int64(1)),
				IsActive: true,
			})
			if err != nil {
				return nil, err
			}
			lot, err := auctions.InsertLot(ctx, &model.Lot{
				SessionID:   sess.ID,
				SKUID:       sku.ID,
				OfferID:     offer.ID,
				Name:        name,
				Rarity:      rarity,
				StartPrice:  start,
				BuyNowPrice: &buyNow,
				CreatedAt:   now,
			})
			if err != nil {
				return nil, err
			}
			lots = append(lots, *lot)
		}
	}
	return lots, nil
}

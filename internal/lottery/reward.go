package lottery

import (
	"context"
	"errors"
	"fmt"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

// Reward is the payout of a prize. The set of implementations is closed:
// PointsReward, TicketReward, SKUReward and EmptyReward.
type Reward interface {
	// pay writes the payout and records the side-effect row ids on d.
	pay(ctx context.Context, s *Service, tx database.DBTX, d *model.DrawLog) error
}

// PointsReward credits the member's wallet.
type PointsReward struct{ Points int64 }

// TicketReward credits tickets of a ticket type to the member's inventory.
type TicketReward struct {
	TicketTypeID int64
	Count        int64
}

// SKUReward grants a SKU through a zero-cost lottery order.
type SKUReward struct {
	SKUID    int64
	Quantity int64
}

// EmptyReward pays nothing.
type EmptyReward struct{}

// RewardOf decodes a stored prize row.
func RewardOf(p model.Prize) (Reward, error) {
	switch p.Type {
	case model.PrizePoints:
		return PointsReward{Points: p.Value}, nil
	case model.PrizeTicket:
		if p.TicketTypeID == nil {
			return nil, fmt.Errorf("prize %d has no ticket type", p.ID)
		}
		return TicketReward{TicketTypeID: *p.TicketTypeID, Count: p.Value}, nil
	case model.PrizeSKU:
		if p.SKUID == nil {
			return nil, fmt.Errorf("prize %d has no sku", p.ID)
		}
		return SKUReward{SKUID: *p.SKUID, Quantity: p.Value}, nil
	case model.PrizeEmpty:
		return EmptyReward{}, nil
	}
	return nil, fmt.Errorf("prize %d has unknown type %q", p.ID, p.Type)
}

func (r PointsReward) pay(ctx context.Context, s *Service, tx database.DBTX, d *model.DrawLog) error {
	entry, err := s.wallet.CreateEntryTx(ctx, tx, wallet.EntryRequest{
		FamilyID:       d.FamilyID,
		MemberID:       d.MemberID,
		PointsChange:   r.Points,
		ReasonCode:     model.ReasonLotteryPrize,
		Description:    "Lottery: " + d.PrizeName,
		IdempotencyKey: economy.DeriveKey("lottery-points", d.IdempotencyKey),
	})
	if err != nil {
		return err
	}
	d.PointsLogID = &entry.Entry.ID
	return nil
}

func (r TicketReward) pay(ctx context.Context, s *Service, tx database.DBTX, d *model.DrawLog) error {
	tt, err := store.NewCatalogStore(tx).GetTicketType(ctx, r.TicketTypeID)
	if err != nil {
		return err
	}
	if tt == nil {
		return economy.NotFound("ticket type", r.TicketTypeID)
	}
	item, err := store.NewInventoryStore(tx).Credit(ctx, d.FamilyID, d.MemberID, tt.SKUID, r.Count, nil, d.CreatedAt)
	if errors.Is(err, store.ErrQuantityOverflow) {
		return economy.Invalid("prize", "ticket inventory total too large")
	}
	if err != nil {
		return err
	}
	d.InventoryItemID = &item.ID
	return nil
}

func (r SKUReward) pay(ctx context.Context, s *Service, tx database.DBTX, d *model.DrawLog) error {
	res, err := s.market.GrantTx(ctx, tx, market.GrantRequest{
		FamilyID:       d.FamilyID,
		MemberID:       d.MemberID,
		SKUID:          r.SKUID,
		Quantity:       r.Quantity,
		Source:         model.SourceLottery,
		IdempotencyKey: economy.DeriveKey("lottery-sku", d.IdempotencyKey),
	})
	if err != nil {
		return err
	}
	d.OrderID = &res.Order.ID
	if res.Item != nil {
		d.InventoryItemID = &res.Item.ID
	}
	if res.Entry != nil {
		d.PointsLogID = &res.Entry.ID
	}
	return nil
}

func (EmptyReward) pay(context.Context, *Service, database.DBTX, *model.DrawLog) error { return nil }

package model

import "time"

type SKUType string

const (
	SKUReward  SKUType = "reward"
	SKUAuction SKUType = "auction"
	SKUTicket  SKUType = "ticket"
)

type LimitType string

const (
	LimitUnlimited LimitType = "unlimited"
	LimitDaily     LimitType = "daily"
	LimitWeekly    LimitType = "weekly"
	LimitMonthly   LimitType = "monthly"
)

// SKU is the abstract good, owned by the family account.
type SKU struct {
	ID            int64     `json:"id"`
	FamilyID      int64     `json:"family_id"`
	Name          string    `json:"name"`
	Type          SKUType   `json:"type"`
	BaseCost      int64     `json:"base_cost"`
	LimitType     LimitType `json:"limit_type"`
	LimitMax      int64     `json:"limit_max"`
	TargetMembers []int64   `json:"target_members,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Allows reports whether memberID may buy the SKU. An empty allow-list admits everyone.
func (s *SKU) Allows(memberID int64) bool {
	if len(s.TargetMembers) == 0 {
		return true
	}
	for _, id := range s.TargetMembers {
		if id == memberID {
			return true
		}
	}
	return false
}

type OfferKind string

const (
	OfferStandard   OfferKind = "standard"
	OfferAuctionLot OfferKind = "auction_lot"
)

// Offer is a priced, time-boxed instance of a SKU. A nil Quantity is unlimited stock.
type Offer struct {
	ID         int64      `json:"id"`
	SKUID      int64      `json:"sku_id"`
	FamilyID   int64      `json:"family_id"`
	Kind       OfferKind  `json:"kind"`
	Cost       int64      `json:"cost"`
	Quantity   *int64     `json:"quantity,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InWindow reports whether t falls inside the offer's validity window.
func (o *Offer) InWindow(t time.Time) bool {
	if o.ValidFrom != nil && t.Before(*o.ValidFrom) {
		return false
	}
	if o.ValidUntil != nil && !t.Before(*o.ValidUntil) {
		return false
	}
	return true
}

// TicketType names a lottery entry ticket and the SKU whose inventory backs it.
type TicketType struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	Name      string    `json:"name"`
	SKUID     int64     `json:"sku_id"`
	CreatedAt time.Time `json:"created_at"`
}

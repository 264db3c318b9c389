package model

import "time"

type OrderSource string

const (
	SourceMarket  OrderSource = "market"
	SourceAuction OrderSource = "auction"
	SourceLottery OrderSource = "lottery"
)

const OrderPaid = "paid"

// Order pairs one ledger debit (pointsChange = -Cost) with one inventory credit.
type Order struct {
	ID             int64       `json:"id"`
	FamilyID       int64       `json:"family_id"`
	MemberID       int64       `json:"member_id"`
	OfferID        *int64      `json:"offer_id,omitempty"`
	SKUID          int64       `json:"sku_id"`
	Source         OrderSource `json:"source"`
	Cost           int64       `json:"cost"`
	Quantity       int64       `json:"quantity"`
	Status         string      `json:"status"`
	IdempotencyKey string      `json:"idempotency_key"`
	CreatedAt      time.Time   `json:"created_at"`
}

const (
	InventoryUnused = "unused"
	InventoryUsed   = "used"
)

type InventoryItem struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	MemberID  int64     `json:"member_id"`
	SKUID     int64     `json:"sku_id"`
	Quantity  int64     `json:"quantity"`
	Status    string    `json:"status"`
	OrderID   *int64    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

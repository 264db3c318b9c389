package model

import "time"

type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
)

type AuctionSession struct {
	ID              int64         `json:"id"`
	FamilyID        int64         `json:"family_id"`
	Title           string        `json:"title"`
	Status          SessionStatus `json:"status"`
	ScheduledAt     *time.Time    `json:"scheduled_at,omitempty"`
	DurationMinutes int           `json:"duration_minutes"`
	EndsAt          *time.Time    `json:"ends_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rarities lists every rarity from most to least common.
var Rarities = []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}

type LotStatus string

const (
	LotPending LotStatus = "pending"
	LotSettled LotStatus = "settled"
	LotUnsold  LotStatus = "unsold"
)

type Lot struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	SKUID       int64     `json:"sku_id"`
	OfferID     int64     `json:"offer_id"`
	Name        string    `json:"name"`
	Rarity      Rarity    `json:"rarity"`
	StartPrice  int64     `json:"start_price"`
	BuyNowPrice *int64    `json:"buy_now_price,omitempty"`
	Status      LotStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bid is a member's single standing bid on a lot. UpdatedAt is the bid time used
// for tie breaks and moves forward whenever the bid is raised.
type Bid struct {
	ID             int64     `json:"id"`
	LotID          int64     `json:"lot_id"`
	BidderMemberID int64     `json:"bidder_member_id"`
	BidPoints      int64     `json:"bid_points"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AuctionResult struct {
	ID             int64     `json:"id"`
	LotID          int64     `json:"lot_id"`
	SessionID      int64     `json:"session_id"`
	WinnerMemberID *int64    `json:"winner_member_id,omitempty"`
	WinningBid     *int64    `json:"winning_bid,omitempty"`
	PricePaid      int64     `json:"price_paid"`
	SecondPrice    *int64    `json:"second_price,omitempty"`
	OrderID        *int64    `json:"order_id,omitempty"`
	Status         LotStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

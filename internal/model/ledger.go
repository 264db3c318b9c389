package model

import "time"

// Reason codes recorded on ledger entries.
const (
	ReasonManualAdjust  = "manual_adjust"
	ReasonMarketOrder   = "market_order"
	ReasonAuctionWin    = "auction_win"
	ReasonLotteryPrize  = "lottery_prize"
	ReasonBountyEscrow  = "bounty_escrow"
	ReasonBountyPayout  = "bounty_payout"
	ReasonBountyRefund  = "bounty_refund"
)

// PointsLogEntry is one append-only ledger movement. A member's balance is the
// sum of PointsChange over their entries.
type PointsLogEntry struct {
	ID             int64     `json:"id"`
	MemberID       int64     `json:"member_id"`
	FamilyID       int64     `json:"family_id"`
	PointsChange   int64     `json:"points_change"`
	ReasonCode     string    `json:"reason_code"`
	Description    string    `json:"description"`
	RelatedOrderID *int64    `json:"related_order_id,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type PointBalance struct {
	MemberID    int64  `json:"member_id"`
	MemberName  string `json:"member_name"`
	TotalEarned int64  `json:"total_earned"`
	TotalSpent  int64  `json:"total_spent"`
	Balance     int64  `json:"balance"`
}

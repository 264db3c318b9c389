package model

import "time"

type PoolStatus string

const (
	PoolDraft  PoolStatus = "draft"
	PoolActive PoolStatus = "active"
	PoolPaused PoolStatus = "paused"
)

type DrawPool struct {
	ID                int64      `json:"id"`
	FamilyID          int64      `json:"family_id"`
	Name              string     `json:"name"`
	EntryTicketTypeID *int64     `json:"entry_ticket_type_id,omitempty"`
	TicketsPerDraw    int64      `json:"tickets_per_draw"`
	DailyLimit        int64      `json:"daily_limit"`
	WeeklyLimit       int64      `json:"weekly_limit"`
	Status            PoolStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
}

type PrizeType string

const (
	PrizePoints PrizeType = "points"
	PrizeTicket PrizeType = "ticket"
	PrizeSKU    PrizeType = "sku"
	PrizeEmpty  PrizeType = "empty"
)

// Prize is one row of a versioned prize table.
type Prize struct {
	ID           int64     `json:"id"`
	VersionID    int64     `json:"version_id"`
	Position     int       `json:"position"`
	Name         string    `json:"name"`
	Type         PrizeType `json:"type"`
	Value        int64     `json:"value"`
	Weight       int64     `json:"weight"`
	SKUID        *int64    `json:"sku_id,omitempty"`
	TicketTypeID *int64    `json:"ticket_type_id,omitempty"`
}

// DrawPoolVersion is an immutable snapshot of a pool's prize table.
type DrawPoolVersion struct {
	ID                int64     `json:"id"`
	PoolID            int64     `json:"pool_id"`
	Version           int       `json:"version"`
	IsCurrent         bool      `json:"is_current"`
	Prizes            []Prize   `json:"prizes"`
	TotalWeight       int64     `json:"total_weight"`
	MinGuaranteeCount *int64    `json:"min_guarantee_count,omitempty"`
	GuaranteePrizeID  *int64    `json:"guarantee_prize_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DrawLog records one spin against the exact version it drew from.
type DrawLog struct {
	ID               int64     `json:"id"`
	FamilyID         int64     `json:"family_id"`
	PoolID           int64     `json:"pool_id"`
	PoolVersionID    int64     `json:"pool_version_id"`
	MemberID         int64     `json:"member_id"`
	TicketTypeID     *int64    `json:"ticket_type_id,omitempty"`
	TicketsUsed      int64     `json:"tickets_used"`
	PrizeID          int64     `json:"prize_id"`
	PrizeName        string    `json:"prize_name"`
	PrizeType        PrizeType `json:"prize_type"`
	PrizeValue       int64     `json:"prize_value"`
	IsGuarantee      bool      `json:"is_guarantee"`
	HitGuarantee     bool      `json:"hit_guarantee"`
	ConsecutiveCount int64     `json:"consecutive_count"`
	OrderID          *int64    `json:"order_id,omitempty"`
	InventoryItemID  *int64    `json:"inventory_item_id,omitempty"`
	PointsLogID      *int64    `json:"points_log_id,omitempty"`
	IdempotencyKey   string    `json:"idempotency_key"`
	CreatedAt        time.Time `json:"created_at"`
}

package lottery

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

// PoolRequest creates a draw pool. A pool with an entry ticket type charges
// TicketsPerDraw tickets per spin, one when unset. Zero limits are uncapped.
type PoolRequest struct {
	Name              string `json:"name"`
	EntryTicketTypeID *int64 `json:"entry_ticket_type_id"`
	TicketsPerDraw    int64  `json:"tickets_per_draw"`
	DailyLimit        int64  `json:"daily_limit"`
	WeeklyLimit       int64  `json:"weekly_limit"`
}

func (r *PoolRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return economy.Invalid("name", "required")
	case r.TicketsPerDraw < 0:
		return economy.Invalid("tickets_per_draw", "must not be negative")
	case r.DailyLimit < 0:
		return economy.Invalid("daily_limit", "must not be negative")
	case r.WeeklyLimit < 0:
		return economy.Invalid("weekly_limit", "must not be negative")
	}
	if r.EntryTicketTypeID != nil && r.TicketsPerDraw == 0 {
		r.TicketsPerDraw = 1
	}
	return nil
}

func (s *Service) poolTx(ctx context.Context, lottery *store.LotteryStore, familyID, poolID int64) (*model.DrawPool, error) {
	pool, err := lottery.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil || pool.FamilyID != familyID {
		return nil, economy.NotFound("draw pool", poolID)
	}
	return pool, nil
}

func requireTicketType(ctx context.Context, tx database.DBTX, familyID, id int64) error {
	tt, err := store.NewCatalogStore(tx).GetTicketType(ctx, id)
	if err != nil {
		return err
	}
	if tt == nil || tt.FamilyID != familyID {
		return economy.NotFound("ticket type", id)
	}
	return nil
}

// CreatePool adds a draft pool. It takes spins once a version is published
// and the pool is activated.
func (s *Service) CreatePool(ctx context.Context, familyID, ownerID int64, req PoolRequest) (*model.DrawPool, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	var pool *model.DrawPool
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		if req.EntryTicketTypeID != nil {
			if err := requireTicketType(ctx, tx, familyID, *req.EntryTicketTypeID); err != nil {
				return err
			}
		}
		var err error
		pool, err = store.NewLotteryStore(tx).CreatePool(ctx, &model.DrawPool{
			FamilyID:          familyID,
			Name:              req.Name,
			EntryTicketTypeID: req.EntryTicketTypeID,
			TicketsPerDraw:    req.TicketsPerDraw,
			DailyLimit:        req.DailyLimit,
			WeeklyLimit:       req.WeeklyLimit,
			Status:            model.PoolDraft,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("draw pool created", "pool_id", pool.ID, "family_id", familyID)
	return pool, nil
}

// VersionRequest is a new prize table. GuaranteeIndex picks the pity prize by
// position and is required exactly when MinGuaranteeCount is set.
type VersionRequest struct {
	Prizes            []model.Prize `json:"prizes"`
	MinGuaranteeCount *int64        `json:"min_guarantee_count"`
	GuaranteeIndex    *int          `json:"guarantee_index"`
}

func (r *VersionRequest) normalize() error {
	if len(r.Prizes) == 0 {
		return economy.Invalid("prizes", "at least one prize is required")
	}
	r.Prizes = slices.Clone(r.Prizes)
	var total int64
	for i := range r.Prizes {
		p := &r.Prizes[i]
		field := fmt.Sprintf("prizes[%d]", i)
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return economy.Invalid(field+".name", "required")
		}
		if p.Weight <= 0 {
			return economy.Invalid(field+".weight", "must be positive")
		}
		if p.Weight > math.MaxInt64-total {
			return economy.Invalid("prizes", "total weight too large")
		}
		total += p.Weight
		switch p.Type {
		case model.PrizePoints:
			if p.Value <= 0 {
				return economy.Invalid(field+".value", "points prizes need a positive value")
			}
		case model.PrizeTicket:
			if p.TicketTypeID == nil {
				return economy.Invalid(field+".ticket_type_id", "required for ticket prizes")
			}
		case model.PrizeSKU:
			if p.SKUID == nil {
				return economy.Invalid(field+".sku_id", "required for sku prizes")
			}
		case model.PrizeEmpty:
			p.Value = 0
		default:
			return economy.Invalid(field+".type", "must be points, ticket, sku or empty")
		}
		if p.Type == model.PrizeTicket || p.Type == model.PrizeSKU {
			if p.Value < 0 || p.Value > market.MaxQuantity {
				return economy.Invalid(field+".value", fmt.Sprintf("must be between 0 and %d", market.MaxQuantity))
			}
			if p.Value == 0 {
				p.Value = 1
			}
		}
	}

	switch {
	case r.MinGuaranteeCount == nil && r.GuaranteeIndex != nil:
		return economy.Invalid("min_guarantee_count", "required with guarantee_index")
	case r.MinGuaranteeCount != nil && r.GuaranteeIndex == nil:
		return economy.Invalid("guarantee_index", "required with min_guarantee_count")
	case r.MinGuaranteeCount != nil && *r.MinGuaranteeCount <= 0:
		return economy.Invalid("min_guarantee_count", "must be positive")
	case r.GuaranteeIndex != nil && (*r.GuaranteeIndex < 0 || *r.GuaranteeIndex >= len(r.Prizes)):
		return economy.Invalid("guarantee_index", "out of range")
	}
	return nil
}

// PublishVersion appends a prize table and makes it current. Earlier versions
// stay readable for the draws that used them.
func (s *Service) PublishVersion(ctx context.Context, familyID, ownerID, poolID int64, req VersionRequest) (*model.DrawPoolVersion, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	var v *model.DrawPoolVersion
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		lottery := store.NewLotteryStore(tx)
		if _, err := s.poolTx(ctx, lottery, familyID, poolID); err != nil {
			return err
		}

		catalog := store.NewCatalogStore(tx)
		for _, p := range req.Prizes {
			if p.TicketTypeID != nil {
				if err := requireTicketType(ctx, tx, familyID, *p.TicketTypeID); err != nil {
					return err
				}
			}
			if p.SKUID != nil {
				sku, err := catalog.GetSKU(ctx, *p.SKUID)
				if err != nil {
					return err
				}
				if sku == nil || sku.FamilyID != familyID {
					return economy.NotFound("sku", *p.SKUID)
				}
			}
		}

		next, err := lottery.NextVersion(ctx, poolID)
		if err != nil {
			return err
		}
		v, err = lottery.InsertVersion(ctx, &model.DrawPoolVersion{
			PoolID:            poolID,
			Version:           next,
			Prizes:            req.Prizes,
			TotalWeight:       TotalWeight(req.Prizes),
			MinGuaranteeCount: req.MinGuaranteeCount,
			CreatedAt:         s.now().UTC(),
		}, req.GuaranteeIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("draw pool version published", "pool_id", poolID, "version", v.Version, "prizes", len(v.Prizes))
	return v, nil
}

// SetPoolStatus activates or pauses a pool. Activation needs a published
// version.
func (s *Service) SetPoolStatus(ctx context.Context, familyID, ownerID, poolID int64, status model.PoolStatus) error {
	switch status {
	case model.PoolActive, model.PoolPaused:
	default:
		return economy.Invalid("status", "must be active or paused")
	}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		lottery := store.NewLotteryStore(tx)
		pool, err := s.poolTx(ctx, lottery, familyID, poolID)
		if err != nil {
			return err
		}
		if status == model.PoolActive {
			v, err := lottery.CurrentVersion(ctx, pool.ID)
			if err != nil {
				return err
			}
			if v == nil {
				return economy.InvalidState("draw pool", pool.ID, "no prizes", "activate")
			}
		}
		return lottery.SetPoolStatus(ctx, pool.ID, status)
	})
}

// PoolDetail is a pool with its current prize table, if any.
type PoolDetail struct {
	Pool    *model.DrawPool        `json:"pool"`
	Current *model.DrawPoolVersion `json:"current_version,omitempty"`
}

func (s *Service) GetPool(ctx context.Context, familyID, poolID int64) (*PoolDetail, error) {
	lottery := store.NewLotteryStore(s.db)
	pool, err := s.poolTx(ctx, lottery, familyID, poolID)
	if err != nil {
		return nil, err
	}
	v, err := lottery.CurrentVersion(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	return &PoolDetail{Pool: pool, Current: v}, nil
}

func (s *Service) ListPools(ctx context.Context, familyID int64) ([]model.DrawPool, error) {
	return store.NewLotteryStore(s.db).ListPools(ctx, familyID)
}

// Version returns a past or current prize table of one of the family's pools.
func (s *Service) Version(ctx context.Context, familyID, versionID int64) (*model.DrawPoolVersion, error) {
	lottery := store.NewLotteryStore(s.db)
	v, err := lottery.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, economy.NotFound("draw pool version", versionID)
	}
	if _, err := s.poolTx(ctx, lottery, familyID, v.PoolID); err != nil {
		return nil, economy.NotFound("draw pool version", versionID)
	}
	return v, nil
}

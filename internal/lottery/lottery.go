// Package lottery spins versioned prize pools with a pity counter.
package lottery

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

type Service struct {
	db     *sql.DB
	wallet *wallet.Service
	market *market.Service
	now    economy.Clock
	loc    *time.Location
	roll   func(n int64) int64
	logger *slog.Logger
}

// NewService returns a lottery. loc is the zone spin caps are counted in.
func NewService(db *sql.DB, w *wallet.Service, m *market.Service, clock economy.Clock, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{db: db, wallet: w, market: m, now: clock, loc: loc, roll: rand.Int64N, logger: logger}
}

// WithRoll replaces the random source. roll(n) must return a value in [0, n).
func (s *Service) WithRoll(roll func(n int64) int64) *Service {
	s.roll = roll
	return s
}

type SpinRequest struct {
	FamilyID       int64
	MemberID       int64
	PoolID         int64
	IdempotencyKey string
}

type SpinResult struct {
	Log        *model.DrawLog `json:"draw"`
	Idempotent bool           `json:"idempotent"`
}

// Spin consumes the entry tickets, draws a prize and pays it out in one
// transaction. Replaying the key returns the stored draw.
func (s *Service) Spin(ctx context.Context, req SpinRequest) (*SpinResult, error) {
	if req.PoolID <= 0 {
		return nil, economy.Invalid("pool_id", "required")
	}
	if err := economy.ValidateKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	var res *SpinResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.spinTx(ctx, tx, req)
		return err
	})
	if err != nil && database.IsUniqueViolation(err) {
		res, err = s.replay(ctx, s.db, req)
		if err == nil && res == nil {
			err = fmt.Errorf("draw %q vanished after conflict", req.IdempotencyKey)
		}
	}
	if err != nil {
		return nil, err
	}

	if res.Idempotent {
		metrics.RecordReplay("spin")
		return res, nil
	}
	d := res.Log
	metrics.RecordSpin(string(d.PrizeType), d.IsGuarantee)
	if d.PrizeType == model.PrizePoints {
		metrics.RecordPoints(d.PrizeValue)
	}
	s.logger.Info("lottery spin",
		"pool_id", d.PoolID, "version_id", d.PoolVersionID, "member_id", d.MemberID,
		"prize", d.PrizeName, "type", d.PrizeType, "guarantee", d.IsGuarantee, "count", d.ConsecutiveCount)
	return res, nil
}

func (s *Service) replay(ctx context.Context, db database.DBTX, req SpinRequest) (*SpinResult, error) {
	d, err := store.NewLotteryStore(db).GetLogByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil || d == nil {
		return nil, err
	}
	if d.MemberID != req.MemberID || d.PoolID != req.PoolID {
		return nil, economy.ErrIdempotencyMismatch
	}
	return &SpinResult{Log: d, Idempotent: true}, nil
}

func (s *Service) spinTx(ctx context.Context, tx database.DBTX, req SpinRequest) (*SpinResult, error) {
	if res, err := s.replay(ctx, tx, req); err != nil || res != nil {
		return res, err
	}

	member, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), req.FamilyID, req.MemberID)
	if err != nil {
		return nil, err
	}
	lottery := store.NewLotteryStore(tx)
	pool, err := s.poolTx(ctx, lottery, req.FamilyID, req.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != model.PoolActive {
		return nil, economy.InvalidState("draw pool", pool.ID, string(pool.Status), "spin")
	}
	version, err := lottery.CurrentVersion(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	if version == nil || len(version.Prizes) == 0 {
		return nil, economy.InvalidState("draw pool", pool.ID, "no prizes", "spin")
	}
	if version.TotalWeight <= 0 {
		return nil, economy.InvalidState("draw pool version", version.ID, "no weight", "spin")
	}

	now := s.now()
	if err := s.checkCaps(ctx, lottery, pool, member.ID, now); err != nil {
		return nil, err
	}
	used, err := s.takeTickets(ctx, tx, pool, member.ID, now)
	if err != nil {
		return nil, err
	}

	since, err := lottery.SpinsSinceGuarantee(ctx, pool.ID, member.ID)
	if err != nil {
		return nil, err
	}
	count := since + 1
	prize, forced := guaranteePrize(version, count)
	if !forced {
		prize = Pick(version.Prizes, s.roll(version.TotalWeight))
	}

	d := &model.DrawLog{
		FamilyID:         req.FamilyID,
		PoolID:           pool.ID,
		PoolVersionID:    version.ID,
		MemberID:         member.ID,
		TicketTypeID:     pool.EntryTicketTypeID,
		TicketsUsed:      used,
		PrizeID:          prize.ID,
		PrizeName:        prize.Name,
		PrizeType:        prize.Type,
		PrizeValue:       prize.Value,
		IsGuarantee:      forced,
		HitGuarantee:     version.GuaranteePrizeID != nil && prize.ID == *version.GuaranteePrizeID,
		ConsecutiveCount: count,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        now.UTC(),
	}
	reward, err := RewardOf(prize)
	if err != nil {
		return nil, err
	}
	if err := reward.pay(ctx, s, tx, d); err != nil {
		return nil, err
	}
	logged, err := lottery.InsertLog(ctx, d)
	if err != nil {
		return nil, err
	}
	return &SpinResult{Log: logged}, nil
}

func (s *Service) checkCaps(ctx context.Context, lottery *store.LotteryStore, pool *model.DrawPool, memberID int64, now time.Time) error {
	caps := []struct {
		limit model.LimitType
		max   int64
	}{
		{model.LimitDaily, pool.DailyLimit},
		{model.LimitWeekly, pool.WeeklyLimit},
	}
	for _, c := range caps {
		if c.max <= 0 {
			continue
		}
		since, _ := economy.WindowStart(c.limit, now, s.loc)
		used, err := lottery.SpinsSince(ctx, pool.ID, memberID, since)
		if err != nil {
			return err
		}
		if used+1 > c.max {
			return &economy.LimitExceededError{
				Resource: "draw pool", ID: pool.ID, Window: string(c.limit),
				Max: c.max, Used: used, Requested: 1,
			}
		}
	}
	return nil
}

// takeTickets consumes the pool's entry fee and returns the number of
// tickets used.
func (s *Service) takeTickets(ctx context.Context, tx database.DBTX, pool *model.DrawPool, memberID int64, now time.Time) (int64, error) {
	if pool.EntryTicketTypeID == nil || pool.TicketsPerDraw <= 0 {
		return 0, nil
	}
	tt, err := store.NewCatalogStore(tx).GetTicketType(ctx, *pool.EntryTicketTypeID)
	if err != nil {
		return 0, err
	}
	if tt == nil {
		return 0, economy.NotFound("ticket type", *pool.EntryTicketTypeID)
	}

	inventory := store.NewInventoryStore(tx)
	item, err := inventory.FindUnused(ctx, memberID, tt.SKUID)
	if err != nil {
		return 0, err
	}
	short := &economy.TicketsInsufficientError{Required: pool.TicketsPerDraw}
	if item == nil {
		return 0, short
	}
	short.Available = item.Quantity
	if item.Quantity < pool.TicketsPerDraw {
		return 0, short
	}
	ok, err := inventory.Consume(ctx, item.ID, pool.TicketsPerDraw, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, short
	}
	return pool.TicketsPerDraw, nil
}

// History returns the member's newest draws. poolID 0 covers every pool.
func (s *Service) History(ctx context.Context, memberID, poolID int64, limit int) ([]model.DrawLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return store.NewLotteryStore(s.db).ListLogs(ctx, memberID, poolID, limit)
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

type LotteryStore struct {
	db database.DBTX
}

func NewLotteryStore(db database.DBTX) *LotteryStore {
	return &LotteryStore{db: db}
}

// --- Pool methods ---

func scanPool(scanner interface{ Scan(...any) error }) (*model.DrawPool, error) {
	var p model.DrawPool
	var ticketType sql.NullInt64
	err := scanner.Scan(&p.ID, &p.FamilyID, &p.Name, &ticketType, &p.TicketsPerDraw, &p.DailyLimit,
		&p.WeeklyLimit, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.EntryTicketTypeID = int64Ptr(ticketType)
	return &p, nil
}

const poolCols = `id, family_id, name, entry_ticket_type_id, tickets_per_draw, daily_limit, weekly_limit, status, created_at`

func (s *LotteryStore) CreatePool(ctx context.Context, p *model.DrawPool) (*model.DrawPool, error) {
	status := p.Status
	if status == "" {
		status = model.PoolDraft
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO draw_pools (family_id, name, entry_ticket_type_id, tickets_per_draw, daily_limit, weekly_limit, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.FamilyID, p.Name, nullInt64(p.EntryTicketTypeID), p.TicketsPerDraw, p.DailyLimit, p.WeeklyLimit, status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert draw pool: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPool(ctx, id)
}

func (s *LotteryStore) GetPool(ctx context.Context, id int64) (*model.DrawPool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolCols+` FROM draw_pools WHERE id = ?`, id)
	p, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draw pool: %w", err)
	}
	return p, nil
}

func (s *LotteryStore) ListPools(ctx context.Context, familyID int64) ([]model.DrawPool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+poolCols+` FROM draw_pools WHERE family_id = ? ORDER BY id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list draw pools: %w", err)
	}
	defer rows.Close()

	var pools []model.DrawPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draw pool: %w", err)
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *LotteryStore) SetPoolStatus(ctx context.Context, id int64, status model.PoolStatus) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE draw_pools SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("set pool status: %w", err)
	}
	return nil
}

// --- Version methods ---

const versionCols = `id, pool_id, version, is_current, total_weight, min_guarantee_count, guarantee_prize_id, created_at`

const prizeCols = `id, version_id, position, name, type, value, weight, sku_id, ticket_type_id`

// NextVersion returns the version number a new prize table for the pool gets.
func (s *LotteryStore) NextVersion(ctx context.Context, poolID int64) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM draw_pool_versions WHERE pool_id = ?`, poolID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next pool version: %w", err)
	}
	return v, nil
}

// InsertVersion writes v and its prizes as the pool's new current version.
// The previous current version is demoted in the same statement sequence, so
// callers run it inside a transaction. guaranteeIndex selects the guarantee
// prize by position in v.Prizes; nil means no guarantee.
func (s *LotteryStore) InsertVersion(ctx context.Context, v *model.DrawPoolVersion, guaranteeIndex *int) (*model.DrawPoolVersion, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE draw_pool_versions SET is_current = 0 WHERE pool_id = ? AND is_current = 1`, v.PoolID,
	); err != nil {
		return nil, fmt.Errorf("demote current version: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO draw_pool_versions (pool_id, version, is_current, total_weight, min_guarantee_count, created_at)
		 VALUES (?, ?, 1, ?, ?, ?)`,
		v.PoolID, v.Version, v.TotalWeight, nullInt64(v.MinGuaranteeCount), v.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert pool version: %w", err)
	}
	versionID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for i, p := range v.Prizes {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO draw_prizes (version_id, position, name, type, value, weight, sku_id, ticket_type_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			versionID, i, p.Name, p.Type, p.Value, p.Weight, nullInt64(p.SKUID), nullInt64(p.TicketTypeID),
		)
		if err != nil {
			return nil, fmt.Errorf("insert prize %d: %w", i, err)
		}
		if guaranteeIndex != nil && *guaranteeIndex == i {
			prizeID, err := result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("last insert id: %w", err)
			}
			if _, err := s.db.ExecContext(ctx,
				`UPDATE draw_pool_versions SET guarantee_prize_id = ? WHERE id = ?`, prizeID, versionID,
			); err != nil {
				return nil, fmt.Errorf("set guarantee prize: %w", err)
			}
		}
	}
	return s.GetVersion(ctx, versionID)
}

// CurrentVersion returns the pool's current version with its prizes, or nil.
func (s *LotteryStore) CurrentVersion(ctx context.Context, poolID int64) (*model.DrawPoolVersion, error) {
	return s.getVersion(ctx,
		`SELECT `+versionCols+` FROM draw_pool_versions WHERE pool_id = ? AND is_current = 1`, poolID)
}

func (s *LotteryStore) GetVersion(ctx context.Context, id int64) (*model.DrawPoolVersion, error) {
	return s.getVersion(ctx, `SELECT `+versionCols+` FROM draw_pool_versions WHERE id = ?`, id)
}

func (s *LotteryStore) getVersion(ctx context.Context, query string, arg int64) (*model.DrawPoolVersion, error) {
	var v model.DrawPoolVersion
	var current int
	var minGuarantee, guaranteePrize sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&v.ID, &v.PoolID, &v.Version, &current,
		&v.TotalWeight, &minGuarantee, &guaranteePrize, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool version: %w", err)
	}
	v.IsCurrent = current != 0
	v.MinGuaranteeCount = int64Ptr(minGuarantee)
	v.GuaranteePrizeID = int64Ptr(guaranteePrize)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prizeCols+` FROM draw_prizes WHERE version_id = ? ORDER BY position`, v.ID)
	if err != nil {
		return nil, fmt.Errorf("list prizes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Prize
		var skuID, ticketTypeID sql.NullInt64
		if err := rows.Scan(&p.ID, &p.VersionID, &p.Position, &p.Name, &p.Type, &p.Value, &p.Weight,
			&skuID, &ticketTypeID); err != nil {
			return nil, fmt.Errorf("scan prize: %w", err)
		}
		p.SKUID = int64Ptr(skuID)
		p.TicketTypeID = int64Ptr(ticketTypeID)
		v.Prizes = append(v.Prizes, p)
	}
	return &v, rows.Err()
}

// --- Draw log methods ---

func scanDrawLog(scanner interface{ Scan(...any) error }) (*model.DrawLog, error) {
	var d model.DrawLog
	var ticketType, orderID, itemID, pointsLogID sql.NullInt64
	var isGuarantee, hitGuarantee int
	err := scanner.Scan(&d.ID, &d.FamilyID, &d.PoolID, &d.PoolVersionID, &d.MemberID, &ticketType,
		&d.TicketsUsed, &d.PrizeID, &d.PrizeName, &d.PrizeType, &d.PrizeValue, &isGuarantee, &hitGuarantee,
		&d.ConsecutiveCount, &orderID, &itemID, &pointsLogID, &d.IdempotencyKey, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.TicketTypeID = int64Ptr(ticketType)
	d.IsGuarantee = isGuarantee != 0
	d.HitGuarantee = hitGuarantee != 0
	d.OrderID = int64Ptr(orderID)
	d.InventoryItemID = int64Ptr(itemID)
	d.PointsLogID = int64Ptr(pointsLogID)
	return &d, nil
}

const drawLogCols = `id, family_id, pool_id, pool_version_id, member_id, ticket_type_id, tickets_used, prize_id,
	prize_name, prize_type, prize_value, is_guarantee, hit_guarantee, consecutive_count, order_id,
	inventory_item_id, points_log_id, idempotency_key, created_at`

// InsertLog records a spin. A duplicate (family, idempotency key) surfaces as
// a unique violation.
func (s *LotteryStore) InsertLog(ctx context.Context, d *model.DrawLog) (*model.DrawLog, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO draw_logs (family_id, pool_id, pool_version_id, member_id, ticket_type_id, tickets_used,
		   prize_id, prize_name, prize_type, prize_value, is_guarantee, hit_guarantee, consecutive_count,
		   order_id, inventory_item_id, points_log_id, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FamilyID, d.PoolID, d.PoolVersionID, d.MemberID, nullInt64(d.TicketTypeID), d.TicketsUsed,
		d.PrizeID, d.PrizeName, d.PrizeType, d.PrizeValue, boolInt(d.IsGuarantee), boolInt(d.HitGuarantee),
		d.ConsecutiveCount, nullInt64(d.OrderID), nullInt64(d.InventoryItemID), nullInt64(d.PointsLogID),
		d.IdempotencyKey, d.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert draw log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+drawLogCols+` FROM draw_logs WHERE id = ?`, id)
	return scanDrawLog(row)
}

func (s *LotteryStore) GetLogByKey(ctx context.Context, familyID int64, key string) (*model.DrawLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+drawLogCols+` FROM draw_logs WHERE family_id = ? AND idempotency_key = ?`, familyID, key)
	d, err := scanDrawLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draw log by key: %w", err)
	}
	return d, nil
}

// SpinsSinceGuarantee counts the member's spins on the pool after their last
// spin that won the guarantee prize.
func (s *LotteryStore) SpinsSinceGuarantee(ctx context.Context, poolID, memberID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM draw_logs
		 WHERE pool_id = ? AND member_id = ?
		   AND id > COALESCE((SELECT MAX(id) FROM draw_logs WHERE pool_id = ? AND member_id = ? AND hit_guarantee = 1), 0)`,
		poolID, memberID, poolID, memberID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count spins since guarantee: %w", err)
	}
	return n, nil
}

// SpinsSince counts the member's spins on the pool at or after since.
func (s *LotteryStore) SpinsSince(ctx context.Context, poolID, memberID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM draw_logs WHERE pool_id = ? AND member_id = ? AND created_at >= ?`,
		poolID, memberID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count spins since: %w", err)
	}
	return n, nil
}

// ListLogs returns a member's spins newest first. poolID 0 matches every pool.
func (s *LotteryStore) ListLogs(ctx context.Context, memberID, poolID int64, limit int) ([]model.DrawLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+drawLogCols+` FROM draw_logs
		 WHERE member_id = ? AND (? = 0 OR pool_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		memberID, poolID, poolID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list draw logs: %w", err)
	}
	defer rows.Close()

	var logs []model.DrawLog
	for rows.Next() {
		d, err := scanDrawLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draw log: %w", err)
		}
		logs = append(logs, *d)
	}
	return logs, rows.Err()
}

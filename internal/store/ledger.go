package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

// LedgerStore reads and appends points_log rows. Rows are never updated.
type LedgerStore struct {
	db database.DBTX
}

func NewLedgerStore(db database.DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanEntry(scanner interface{ Scan(...any) error }) (*model.PointsLogEntry, error) {
	var e model.PointsLogEntry
	var orderID sql.NullInt64
	var key sql.NullString

	err := scanner.Scan(&e.ID, &e.MemberID, &e.FamilyID, &e.PointsChange, &e.ReasonCode,
		&e.Description, &orderID, &key, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		e.RelatedOrderID = &orderID.Int64
	}
	if key.Valid {
		e.IdempotencyKey = &key.String
	}
	return &e, nil
}

const entryCols = `id, member_id, family_id, points_change, reason_code, description, related_order_id, idempotency_key, created_at`

// Insert appends e. A duplicate (family, idempotency key) surfaces as a unique
// violation; see database.IsUniqueViolation.
func (s *LedgerStore) Insert(ctx context.Context, e *model.PointsLogEntry) (*model.PointsLogEntry, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO points_log (member_id, family_id, points_change, reason_code, description, related_order_id, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MemberID, e.FamilyID, e.PointsChange, e.ReasonCode, e.Description,
		nullInt64(e.RelatedOrderID), nullString(e.IdempotencyKey), e.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert points log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *LedgerStore) GetByID(ctx context.Context, id int64) (*model.PointsLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM points_log WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get points log: %w", err)
	}
	return e, nil
}

func (s *LedgerStore) GetByKey(ctx context.Context, familyID int64, key string) (*model.PointsLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM points_log WHERE family_id = ? AND idempotency_key = ?`,
		familyID, key,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get points log by key: %w", err)
	}
	return e, nil
}

// Balance is the live sum of a member's ledger.
func (s *LedgerStore) Balance(ctx context.Context, memberID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points_change), 0) FROM points_log WHERE member_id = ?`,
		memberID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	return balance, nil
}

// ListByMember returns a member's entries newest first.
func (s *LedgerStore) ListByMember(ctx context.Context, memberID int64, limit int) ([]model.PointsLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM points_log WHERE member_id = ? ORDER BY id DESC LIMIT ?`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list points log: %w", err)
	}
	defer rows.Close()

	var entries []model.PointsLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan points log: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Balances returns earned, spent and balance for every active member of a
// family, highest balance first.
func (s *LedgerStore) Balances(ctx context.Context, familyID int64) ([]model.PointBalance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.name,
		        COALESCE(SUM(CASE WHEN p.points_change > 0 THEN p.points_change END), 0),
		        COALESCE(SUM(CASE WHEN p.points_change < 0 THEN -p.points_change END), 0)
		 FROM members m
		 LEFT JOIN points_log p ON p.member_id = m.id
		 WHERE m.family_id = ? AND m.active = 1
		 GROUP BY m.id, m.name`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []model.PointBalance
	for rows.Next() {
		var b model.PointBalance
		if err := rows.Scan(&b.MemberID, &b.MemberName, &b.TotalEarned, &b.TotalSpent); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.Balance = b.TotalEarned - b.TotalSpent
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].Balance != balances[j].Balance {
			return balances[i].Balance > balances[j].Balance
		}
		return balances[i].MemberName < balances[j].MemberName
	})
	return balances, nil
}

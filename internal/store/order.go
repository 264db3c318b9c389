package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

type OrderStore struct {
	db database.DBTX
}

func NewOrderStore(db database.DBTX) *OrderStore {
	return &OrderStore{db: db}
}

func scanOrder(scanner interface{ Scan(...any) error }) (*model.Order, error) {
	var o model.Order
	var offerID sql.NullInt64
	err := scanner.Scan(&o.ID, &o.FamilyID, &o.MemberID, &offerID, &o.SKUID, &o.Source, &o.Cost,
		&o.Quantity, &o.Status, &o.IdempotencyKey, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.OfferID = int64Ptr(offerID)
	return &o, nil
}

const orderCols = `id, family_id, member_id, offer_id, sku_id, source, cost, quantity, status, idempotency_key, created_at`

// Insert records a paid order. A duplicate (family, idempotency key) surfaces
// as a unique violation.
func (s *OrderStore) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (family_id, member_id, offer_id, sku_id, source, cost, quantity, status, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.FamilyID, o.MemberID, nullInt64(o.OfferID), o.SKUID, o.Source, o.Cost, o.Quantity,
		model.OrderPaid, o.IdempotencyKey, o.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *OrderStore) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *OrderStore) GetByKey(ctx context.Context, familyID int64, key string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE family_id = ? AND idempotency_key = ?`,
		familyID, key,
	)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by key: %w", err)
	}
	return o, nil
}

// PurchasedSince sums the quantity of marketplace orders a member placed for
// a SKU at or after since.
func (s *OrderStore) PurchasedSince(ctx context.Context, memberID, skuID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM orders
		 WHERE member_id = ? AND sku_id = ? AND source = 'market' AND created_at >= ?`,
		memberID, skuID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders since: %w", err)
	}
	return n, nil
}

// ListByMember returns a member's orders newest first.
func (s *OrderStore) ListByMember(ctx context.Context, memberID int64, limit int) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE member_id = ? ORDER BY id DESC LIMIT ?`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

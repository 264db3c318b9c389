package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

// ErrQuantityOverflow means a credit would push an item's quantity past the
// int64 range.
var ErrQuantityOverflow = errors.New("inventory quantity overflow")

type InventoryStore struct {
	db database.DBTX
}

func NewInventoryStore(db database.DBTX) *InventoryStore {
	return &InventoryStore{db: db}
}

func scanItem(scanner interface{ Scan(...any) error }) (*model.InventoryItem, error) {
	var it model.InventoryItem
	var orderID sql.NullInt64
	err := scanner.Scan(&it.ID, &it.FamilyID, &it.MemberID, &it.SKUID, &it.Quantity, &it.Status,
		&orderID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.OrderID = int64Ptr(orderID)
	return &it, nil
}

const itemCols = `id, family_id, member_id, sku_id, quantity, status, order_id, created_at, updated_at`

// Credit adds quantity units of a SKU to the member's unused row, creating it
// when none exists. The returned item is the merged row.
func (s *InventoryStore) Credit(ctx context.Context, familyID, memberID, skuID, quantity int64, orderID *int64, now time.Time) (*model.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO inventory_items (family_id, member_id, sku_id, quantity, status, order_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'unused', ?, ?, ?)
		 ON CONFLICT (member_id, sku_id) WHERE status = 'unused'
		 DO UPDATE SET quantity = quantity + excluded.quantity, updated_at = excluded.updated_at
		 WHERE inventory_items.quantity <= ? - excluded.quantity
		 RETURNING `+itemCols,
		familyID, memberID, skuID, quantity, nullInt64(orderID), now.UTC(), now.UTC(), int64(math.MaxInt64),
	)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrQuantityOverflow
	}
	if err != nil {
		return nil, fmt.Errorf("credit inventory: %w", err)
	}
	return it, nil
}

func (s *InventoryStore) GetByID(ctx context.Context, id int64) (*model.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory item: %w", err)
	}
	return it, nil
}

// FindUnused returns the member's unused row for a SKU, or nil.
func (s *InventoryStore) FindUnused(ctx context.Context, memberID, skuID int64) (*model.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM inventory_items WHERE member_id = ? AND sku_id = ? AND status = 'unused'`,
		memberID, skuID,
	)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find unused inventory: %w", err)
	}
	return it, nil
}

// Consume removes n units from an unused row. A row that reaches zero is
// marked used. It returns false when the row holds fewer than n units.
func (s *InventoryStore) Consume(ctx context.Context, id, n int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inventory_items
		 SET quantity = quantity - ?,
		     status = CASE WHEN quantity - ? = 0 THEN 'used' ELSE status END,
		     updated_at = ?
		 WHERE id = ? AND status = 'unused' AND quantity >= ?`,
		n, n, now.UTC(), id, n,
	)
	if err != nil {
		return false, fmt.Errorf("consume inventory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListByMember returns a member's unused items.
func (s *InventoryStore) ListByMember(ctx context.Context, memberID int64) ([]model.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemCols+` FROM inventory_items WHERE member_id = ? AND status = 'unused' ORDER BY sku_id`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

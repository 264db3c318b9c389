package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

// CatalogStore owns SKUs, their offers and ticket types.
type CatalogStore struct {
	db database.DBTX
}

func NewCatalogStore(db database.DBTX) *CatalogStore {
	return &CatalogStore{db: db}
}

// --- SKU methods ---

func scanSKU(scanner interface{ Scan(...any) error }) (*model.SKU, error) {
	var s model.SKU
	var active int
	err := scanner.Scan(&s.ID, &s.FamilyID, &s.Name, &s.Type, &s.BaseCost, &s.LimitType, &s.LimitMax, &active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.IsActive = active != 0
	return &s, nil
}

const skuCols = `id, family_id, name, type, base_cost, limit_type, limit_max, is_active, created_at`

func (s *CatalogStore) CreateSKU(ctx context.Context, sku *model.SKU) (*model.SKU, error) {
	limitType := sku.LimitType
	if limitType == "" {
		limitType = model.LimitUnlimited
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO skus (family_id, name, type, base_cost, limit_type, limit_max, is_active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sku.FamilyID, sku.Name, sku.Type, sku.BaseCost, limitType, sku.LimitMax, boolInt(sku.IsActive),
	)
	if err != nil {
		return nil, fmt.Errorf("insert sku: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, memberID := range sku.TargetMembers {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO sku_target_members (sku_id, member_id) VALUES (?, ?)`, id, memberID,
		); err != nil {
			return nil, fmt.Errorf("insert sku target member %d: %w", memberID, err)
		}
	}
	return s.GetSKU(ctx, id)
}

// GetSKU returns the SKU with its target member allow-list loaded.
func (s *CatalogStore) GetSKU(ctx context.Context, id int64) (*model.SKU, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+skuCols+` FROM skus WHERE id = ?`, id)
	sku, err := scanSKU(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sku: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id FROM sku_target_members WHERE sku_id = ? ORDER BY member_id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list sku target members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var memberID int64
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("scan sku target member: %w", err)
		}
		sku.TargetMembers = append(sku.TargetMembers, memberID)
	}
	return sku, rows.Err()
}

// ListSKUs returns a family's active SKUs of the given type, ordered by id.
// An empty skuType matches every type.
func (s *CatalogStore) ListSKUs(ctx context.Context, familyID int64, skuType model.SKUType) ([]model.SKU, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+skuCols+` FROM skus
		 WHERE family_id = ? AND is_active = 1 AND (? = '' OR type = ?)
		 ORDER BY id`,
		familyID, skuType, skuType,
	)
	if err != nil {
		return nil, fmt.Errorf("list skus: %w", err)
	}
	defer rows.Close()

	var skus []model.SKU
	for rows.Next() {
		sku, err := scanSKU(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sku: %w", err)
		}
		skus = append(skus, *sku)
	}
	return skus, rows.Err()
}

// --- Offer methods ---

func scanOffer(scanner interface{ Scan(...any) error }) (*model.Offer, error) {
	var o model.Offer
	var quantity sql.NullInt64
	var from, until sql.NullTime
	var active int
	err := scanner.Scan(&o.ID, &o.SKUID, &o.FamilyID, &o.Kind, &o.Cost, &quantity, &from, &until, &active, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Quantity = int64Ptr(quantity)
	o.ValidFrom = timePtr(from)
	o.ValidUntil = timePtr(until)
	o.IsActive = active != 0
	return &o, nil
}

const offerCols = `id, sku_id, family_id, kind, cost, quantity, valid_from, valid_until, is_active, created_at`

func (s *CatalogStore) CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error) {
	kind := o.Kind
	if kind == "" {
		kind = model.OfferStandard
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (sku_id, family_id, kind, cost, quantity, valid_from, valid_until, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SKUID, o.FamilyID, kind, o.Cost, nullInt64(o.Quantity), nullTime(o.ValidFrom), nullTime(o.ValidUntil), boolInt(o.IsActive),
	)
	if err != nil {
		return nil, fmt.Errorf("insert offer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetOffer(ctx, id)
}

func (s *CatalogStore) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offerCols+` FROM offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

// DefaultOffer returns the SKU's active standard offer, preferring one whose
// validity window contains now and then the newest. The caller still checks
// the window of the offer returned.
func (s *CatalogStore) DefaultOffer(ctx context.Context, skuID int64, now time.Time) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offerCols+` FROM offers
		 WHERE sku_id = ? AND kind = 'standard' AND is_active = 1
		 ORDER BY ((valid_from IS NULL OR valid_from <= ?) AND (valid_until IS NULL OR valid_until > ?)) DESC, id DESC
		 LIMIT 1`,
		skuID, now.UTC(), now.UTC(),
	)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default offer: %w", err)
	}
	return o, nil
}

// ListActiveOffers returns a family's standard offers that are active and
// inside their validity window at now.
func (s *CatalogStore) ListActiveOffers(ctx context.Context, familyID int64, now time.Time) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+offerCols+` FROM offers
		 WHERE family_id = ? AND kind = 'standard' AND is_active = 1
		   AND (valid_from IS NULL OR valid_from <= ?) AND (valid_until IS NULL OR valid_until > ?)
		 ORDER BY sku_id, id`,
		familyID, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list active offers: %w", err)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// TakeStock decrements a finite offer's remaining quantity. It returns false
// when fewer than n units remain. Unlimited offers always succeed.
func (s *CatalogStore) TakeStock(ctx context.Context, offerID, n int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE offers SET quantity = quantity - ? WHERE id = ? AND quantity IS NOT NULL AND quantity >= ?`,
		n, offerID, n,
	)
	if err != nil {
		return false, fmt.Errorf("take offer stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *CatalogStore) SetOfferActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE offers SET is_active = ? WHERE id = ?`, boolInt(active), id); err != nil {
		return fmt.Errorf("set offer active: %w", err)
	}
	return nil
}

// --- Ticket type methods ---

const ticketTypeCols = `id, family_id, name, sku_id, created_at`

func (s *CatalogStore) CreateTicketType(ctx context.Context, familyID int64, name string, skuID int64) (*model.TicketType, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_types (family_id, name, sku_id) VALUES (?, ?, ?)`,
		familyID, name, skuID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket type: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTicketType(ctx, id)
}

func (s *CatalogStore) GetTicketType(ctx context.Context, id int64) (*model.TicketType, error) {
	var tt model.TicketType
	err := s.db.QueryRowContext(ctx, `SELECT `+ticketTypeCols+` FROM ticket_types WHERE id = ?`, id).
		Scan(&tt.ID, &tt.FamilyID, &tt.Name, &tt.SKUID, &tt.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket type: %w", err)
	}
	return &tt, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

type FamilyStore struct {
	db database.DBTX
}

func NewFamilyStore(db database.DBTX) *FamilyStore {
	return &FamilyStore{db: db}
}

func (s *FamilyStore) CreateFamily(ctx context.Context, name string) (*model.Family, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO families (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFamily(ctx, id)
}

func (s *FamilyStore) GetFamily(ctx context.Context, id int64) (*model.Family, error) {
	var f model.Family
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM families WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return &f, nil
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	var active int
	if err := scanner.Scan(&m.ID, &m.FamilyID, &m.Name, &m.Role, &m.HasPIN, &active, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Active = active != 0
	return &m, nil
}

const memberCols = `id, family_id, name, role, pin IS NOT NULL, active, created_at`

func (s *FamilyStore) CreateMember(ctx context.Context, familyID int64, name, role string) (*model.Member, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO members (family_id, name, role) VALUES (?, ?, ?)`,
		familyID, name, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetMember(ctx, id)
}

// GetMember returns the member or nil if it does not exist.
func (s *FamilyStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *FamilyStore) ListMembers(ctx context.Context, familyID int64) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE family_id = ? ORDER BY id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// SetActive deactivates or reactivates a member. Members are never deleted
// because ledger rows reference them.
func (s *FamilyStore) SetActive(ctx context.Context, id int64, active bool) error {
	var a int
	if active {
		a = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE members SET active = ? WHERE id = ?`, a, id); err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	return nil
}

func (s *FamilyStore) SetPIN(ctx context.Context, id int64, hashedPIN string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE members SET pin = ? WHERE id = ?`, hashedPIN, id); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

func (s *FamilyStore) ClearPIN(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE members SET pin = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	return nil
}

// GetPINHash returns the member's bcrypt hash, or "" when no PIN is set.
func (s *FamilyStore) GetPINHash(ctx context.Context, id int64) (string, error) {
	var pin sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT pin FROM members WHERE id = ?`, id).Scan(&pin)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("member %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query pin: %w", err)
	}
	return pin.String, nil
}

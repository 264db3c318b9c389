package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedFamily creates a family with one owner and one member.
func seedFamily(t *testing.T, db *sql.DB) (*model.Family, *model.Member, *model.Member) {
	t.Helper()
	ctx := context.Background()
	fs := NewFamilyStore(db)

	f, err := fs.CreateFamily(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	owner, err := fs.CreateMember(ctx, f.ID, "Mom", model.RoleOwner)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	kid, err := fs.CreateMember(ctx, f.ID, "Ann", model.RoleMember)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return f, owner, kid
}

func seedSKU(t *testing.T, db *sql.DB, familyID int64, name string, typ model.SKUType, cost int64) *model.SKU {
	t.Helper()
	sku, err := NewCatalogStore(db).CreateSKU(context.Background(), &model.SKU{
		FamilyID: familyID, Name: name, Type: typ, BaseCost: cost, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create sku: %v", err)
	}
	return sku
}

func ptr[T any](v T) *T { return &v }

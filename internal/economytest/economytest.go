// Package economytest provides database fixtures for service tests.
package economytest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

// Now is the fixed instant service tests run at: Wednesday 2026-10-14 12:00 UTC.
var Now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// OpenDB opens a migrated database in a temp file, so goroutines in a test
// share it over real connections.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "economy.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Family is a seeded family: one owner and two children.
type Family struct {
	ID    int64
	Owner *model.Member
	Ann   *model.Member
	Ben   *model.Member
}

func SeedFamily(t testing.TB, db *sql.DB) *Family {
	t.Helper()
	ctx := context.Background()
	fs := store.NewFamilyStore(db)

	f, err := fs.CreateFamily(ctx, "Smith")
	must(t, err)
	owner, err := fs.CreateMember(ctx, f.ID, "Mom", model.RoleOwner)
	must(t, err)
	ann, err := fs.CreateMember(ctx, f.ID, "Ann", model.RoleMember)
	must(t, err)
	ben, err := fs.CreateMember(ctx, f.ID, "Ben", model.RoleMember)
	must(t, err)
	return &Family{ID: f.ID, Owner: owner, Ann: ann, Ben: ben}
}

// Credit gives a member points through a manual ledger entry.
func Credit(t testing.TB, db *sql.DB, familyID, memberID, points int64) {
	t.Helper()
	_, err := store.NewLedgerStore(db).Insert(context.Background(), &model.PointsLogEntry{
		MemberID: memberID, FamilyID: familyID, PointsChange: points,
		ReasonCode: model.ReasonManualAdjust, Description: "fixture", CreatedAt: Now.Add(-time.Hour),
	})
	must(t, err)
}

func Balance(t testing.TB, db *sql.DB, memberID int64) int64 {
	t.Helper()
	b, err := store.NewLedgerStore(db).Balance(context.Background(), memberID)
	must(t, err)
	return b
}

// SKU creates an active SKU; mod adjusts it before insert.
func SKU(t testing.TB, db *sql.DB, familyID int64, name string, typ model.SKUType, cost int64, mod ...func(*model.SKU)) *model.SKU {
	t.Helper()
	sku := &model.SKU{FamilyID: familyID, Name: name, Type: typ, BaseCost: cost, IsActive: true}
	for _, m := range mod {
		m(sku)
	}
	created, err := store.NewCatalogStore(db).CreateSKU(context.Background(), sku)
	must(t, err)
	return created
}

// Offer creates an active standard offer with unlimited stock.
func Offer(t testing.TB, db *sql.DB, sku *model.SKU, cost int64, mod ...func(*model.Offer)) *model.Offer {
	t.Helper()
	o := &model.Offer{SKUID: sku.ID, FamilyID: sku.FamilyID, Cost: cost, IsActive: true}
	for _, m := range mod {
		m(o)
	}
	created, err := store.NewCatalogStore(db).CreateOffer(context.Background(), o)
	must(t, err)
	return created
}

// Tickets creates a ticket type backed by a new ticket SKU.
func Tickets(t testing.TB, db *sql.DB, familyID int64, name string) *model.TicketType {
	t.Helper()
	sku := SKU(t, db, familyID, name, model.SKUTicket, 0)
	tt, err := store.NewCatalogStore(db).CreateTicketType(context.Background(), familyID, name, sku.ID)
	must(t, err)
	return tt
}

// GiveTickets credits n tickets of a type to a member.
func GiveTickets(t testing.TB, db *sql.DB, tt *model.TicketType, memberID, n int64) {
	t.Helper()
	_, err := store.NewInventoryStore(db).Credit(context.Background(), tt.FamilyID, memberID, tt.SKUID, n, nil, Now)
	must(t, err)
}

// Count returns SELECT COUNT(*) FROM table WHERE where.
func Count(t testing.TB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE `+where, args...).Scan(&n)
	must(t, err)
	return n
}

func Ptr[T any](v T) *T { return &v }

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
}

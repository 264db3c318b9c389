package database

import (
	"context"
	"testing"
	"time"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tables := []string{
		"families", "members", "points_log", "skus", "sku_target_members", "offers",
		"ticket_types", "orders", "inventory_items", "auction_sessions", "auction_lots",
		"auction_bids", "auction_results", "draw_pools", "draw_pool_versions", "draw_prizes",
		"draw_logs", "bounty_tasks", "task_claims", "task_reviews",
	}
	for _, name := range tables {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
		if err != nil {
			t.Fatalf("query %s: %v", name, err)
		}
		if n != 1 {
			t.Errorf("table %s missing", name)
		}
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var on int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&on); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestPointsLogAppendOnlyAndUnique(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO families (name) VALUES ('Smith')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO members (family_id, name) VALUES (1, 'Ann')`); err != nil {
		t.Fatal(err)
	}
	insert := `INSERT INTO points_log (member_id, family_id, points_change, reason_code, idempotency_key, created_at)
		VALUES (1, 1, 10, 'manual_adjust', ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "k1", time.Now().UTC()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = db.ExecContext(ctx, insert, "k1", time.Now().UTC())
	if !IsUniqueViolation(err) {
		t.Errorf("duplicate key err = %v, want unique violation", err)
	}

	if _, err := db.Exec(`UPDATE points_log SET points_change = 1000`); err == nil {
		t.Error("update on points_log should fail")
	}
	if _, err := db.Exec(`DELETE FROM points_log`); err == nil {
		t.Error("delete on points_log should fail")
	}
}

func TestDSN(t *testing.T) {
	got := dsn(":memory:")
	want := ":memory:?_pragma=foreign_keys%281%29&_pragma=busy_timeout%285000%29&_time_format=sqlite&_txlock=immediate"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

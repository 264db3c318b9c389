package store

import (
	"context"
	"testing"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

func TestLedgerBalanceIsSum(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ls := NewLedgerStore(db)
	f, _, kid := seedFamily(t, db)

	for _, change := range []int64{100, -30, 5} {
		_, err := ls.Insert(ctx, &model.PointsLogEntry{
			MemberID: kid.ID, FamilyID: f.ID, PointsChange: change,
			ReasonCode: model.ReasonManualAdjust, CreatedAt: testNow,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", change, err)
		}
	}

	balance, err := ls.Balance(ctx, kid.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 75 {
		t.Errorf("balance = %d, want 75", balance)
	}

	entries, err := ls.ListByMember(ctx, kid.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].PointsChange != 5 {
		t.Errorf("newest change = %d, want 5", entries[0].PointsChange)
	}
	if !entries[0].CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", entries[0].CreatedAt, testNow)
	}
}

func TestLedgerIdempotencyKeyUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ls := NewLedgerStore(db)
	f, _, kid := seedFamily(t, db)

	entry := &model.PointsLogEntry{
		MemberID: kid.ID, FamilyID: f.ID, PointsChange: 10,
		ReasonCode: model.ReasonManualAdjust, IdempotencyKey: ptr("grant-1"), CreatedAt: testNow,
	}
	first, err := ls.Insert(ctx, entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = ls.Insert(ctx, entry)
	if !database.IsUniqueViolation(err) {
		t.Fatalf("duplicate insert err = %v, want unique violation", err)
	}

	got, err := ls.GetByKey(ctx, f.ID, "grant-1")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Errorf("get by key = %+v, want id %d", got, first.ID)
	}

	missing, err := ls.GetByKey(ctx, f.ID, "nope")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown key")
	}
}

func TestLedgerBalances(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ls := NewLedgerStore(db)
	f, owner, kid := seedFamily(t, db)

	insert := func(memberID, change int64) {
		t.Helper()
		if _, err := ls.Insert(ctx, &model.PointsLogEntry{
			MemberID: memberID, FamilyID: f.ID, PointsChange: change,
			ReasonCode: model.ReasonManualAdjust, CreatedAt: testNow,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insert(owner.ID, 10)
	insert(kid.ID, 50)
	insert(kid.ID, -20)

	balances, err := ls.Balances(ctx, f.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("len = %d, want 2", len(balances))
	}
	top := balances[0]
	if top.MemberID != kid.ID {
		t.Errorf("top member = %d, want %d", top.MemberID, kid.ID)
	}
	if top.TotalEarned != 50 || top.TotalSpent != 20 || top.Balance != 30 {
		t.Errorf("kid balance = %+v, want earned 50 spent 20 balance 30", top)
	}
}

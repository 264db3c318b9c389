package auth

import (
	"context"
	"testing"
)

func TestWithIdentityAndFromContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{FamilyID: 2, MemberID: 7, Role: "owner"})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected Identity in context")
	}
	if got.FamilyID != 2 {
		t.Errorf("FamilyID = %d, want 2", got.FamilyID)
	}
	if got.MemberID != 7 {
		t.Errorf("MemberID = %d, want 7", got.MemberID)
	}
	if !IsOwner(ctx) {
		t.Error("IsOwner = false, want true")
	}
}

func TestFromContextMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("expected false for missing Identity")
	}
	if FamilyID(ctx) != 0 || MemberID(ctx) != 0 {
		t.Error("expected zero ids without an Identity")
	}
	if IsOwner(ctx) {
		t.Error("IsOwner = true without an Identity")
	}
}

func TestIsOwnerMember(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{FamilyID: 1, MemberID: 3, Role: "member"})
	if IsOwner(ctx) {
		t.Error("IsOwner = true for a member")
	}
}

package store

import (
	"context"
	"testing"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

func TestBountyTaskStateGuard(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bs := NewBountyStore(db)
	f, owner, _ := seedFamily(t, db)

	task, err := bs.InsertTask(ctx, &model.BountyTask{
		FamilyID: f.ID, PublisherMemberID: owner.ID, Title: "Rake leaves",
		BountyPoints: 25, EscrowPoints: 25, CreatedAt: testNow,
	}, ptr("publish-1"))
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if task.Status != model.TaskOpen || task.EscrowPoints != 25 {
		t.Errorf("task = %s/%d, want open/25", task.Status, task.EscrowPoints)
	}

	ok, err := bs.UpdateTaskState(ctx, task.ID, model.TaskOpen, model.TaskCancelled, 0, testNow)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v; want true", ok, err)
	}
	ok, err = bs.UpdateTaskState(ctx, task.ID, model.TaskOpen, model.TaskClaimed, 0, testNow)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Error("transition from stale state should not apply")
	}

	byKey, err := bs.GetTaskByKey(ctx, f.ID, "publish-1")
	if err != nil || byKey == nil || byKey.ID != task.ID {
		t.Errorf("get by key = %v, %v; want task %d", byKey, err, task.ID)
	}

	cancelled, _ := bs.ListTasks(ctx, f.ID, model.TaskCancelled)
	if len(cancelled) != 1 {
		t.Errorf("cancelled tasks = %d, want 1", len(cancelled))
	}
	open, _ := bs.ListTasks(ctx, f.ID, model.TaskOpen)
	if len(open) != 0 {
		t.Errorf("open tasks = %d, want 0", len(open))
	}
}

func TestBountyOneLiveClaim(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bs := NewBountyStore(db)
	f, owner, kid := seedFamily(t, db)

	task, err := bs.InsertTask(ctx, &model.BountyTask{
		FamilyID: f.ID, PublisherMemberID: owner.ID, Title: "Dishes",
		BountyPoints: 10, EscrowPoints: 10, CreatedAt: testNow,
	}, nil)
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}

	claim, err := bs.InsertClaim(ctx, task.ID, kid.ID, testNow)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = bs.InsertClaim(ctx, task.ID, owner.ID, testNow)
	if !database.IsUniqueViolation(err) {
		t.Errorf("second live claim err = %v, want unique violation", err)
	}

	if err := bs.SubmitClaim(ctx, claim.ID, "done", testNow); err != nil {
		t.Fatalf("submit: %v", err)
	}
	live, err := bs.LiveClaim(ctx, task.ID)
	if err != nil || live == nil {
		t.Fatalf("live claim = %v, %v", live, err)
	}
	if live.Status != model.ClaimSubmitted || live.SubmissionNote != "done" || live.SubmittedAt == nil {
		t.Errorf("claim = %+v, want submitted with note", live)
	}

	if err := bs.SetClaimStatus(ctx, claim.ID, model.ClaimRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := bs.InsertClaim(ctx, task.ID, kid.ID, testNow); err != nil {
		t.Errorf("reclaim after rejection: %v", err)
	}

	review, err := bs.InsertReview(ctx, &model.TaskReview{
		TaskID: task.ID, ClaimID: claim.ID, ReviewerMemberID: owner.ID,
		Decision: model.DecisionRejected, AllowReclaim: true, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	got, _ := bs.GetReviewByClaim(ctx, claim.ID)
	if got == nil || got.ID != review.ID || !got.AllowReclaim {
		t.Errorf("review = %+v, want allow reclaim", got)
	}
	claims, _ := bs.ListClaims(ctx, task.ID)
	if len(claims) != 2 {
		t.Errorf("claims = %d, want 2", len(claims))
	}
}

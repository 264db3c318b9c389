package bounty

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/economytest"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/wallet"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	db    *sql.DB
	svc   *Service
	fam   *economytest.Family
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := economytest.OpenDB(t)
	c := &clock{now: economytest.Now}
	logger := economytest.Logger()
	f := &fixture{
		db:    db,
		svc:   NewService(db, wallet.NewService(db, c.Now, logger), c.Now, logger),
		fam:   economytest.SeedFamily(t, db),
		clock: c,
	}
	economytest.Credit(t, db, f.fam.ID, f.fam.Owner.ID, 100)
	return f
}

func (f *fixture) publish(t *testing.T, by *model.Member, points int64) *model.BountyTask {
	t.Helper()
	res, err := f.svc.Publish(context.Background(), PublishRequest{
		FamilyID: f.fam.ID, MemberID: by.ID, Title: "Rake the leaves", Points: points,
	})
	require.NoError(t, err)
	return res.Task
}

// submitted publishes a task by the owner, claimed and submitted by Ann.
func (f *fixture) submitted(t *testing.T, points int64) (*model.BountyTask, *model.TaskClaim) {
	t.Helper()
	ctx := context.Background()
	task := f.publish(t, f.fam.Owner, points)
	claim, err := f.svc.Claim(ctx, f.fam.ID, f.fam.Ann.ID, task.ID)
	require.NoError(t, err)
	claim, err = f.svc.Submit(ctx, f.fam.ID, f.fam.Ann.ID, task.ID, "all done")
	require.NoError(t, err)
	return task, claim
}

func (f *fixture) review(decision model.ReviewDecision, task *model.BountyTask, claim *model.TaskClaim, reclaim bool) (*ReviewResult, error) {
	return f.svc.Review(context.Background(), ReviewRequest{
		FamilyID: f.fam.ID, ReviewerID: f.fam.Owner.ID, TaskID: task.ID, ClaimID: claim.ID,
		Decision: decision, AllowReclaim: reclaim,
	})
}

func TestBountyApproveRoundTrip(t *testing.T) {
	f := newFixture(t)
	task, claim := f.submitted(t, 25)
	assert.Equal(t, int64(25), task.EscrowPoints)
	assert.Equal(t, int64(75), economytest.Balance(t, f.db, f.fam.Owner.ID))
	assert.Equal(t, model.ClaimSubmitted, claim.Status)
	assert.Equal(t, "all done", claim.SubmissionNote)
	require.NotNil(t, claim.SubmittedAt)

	res, err := f.review(model.DecisionApproved, task, claim, false)
	require.NoError(t, err)
	assert.Equal(t, model.TaskApproved, res.Task.Status)
	assert.Equal(t, int64(0), res.Task.EscrowPoints)
	assert.Equal(t, int64(25), economytest.Balance(t, f.db, f.fam.Ann.ID))
	assert.Equal(t, int64(75), economytest.Balance(t, f.db, f.fam.Owner.ID))

	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log", "reason_code = 'bounty_escrow' AND points_change = -25"))
	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log", "reason_code = 'bounty_payout' AND points_change = 25"))

	detail, err := f.svc.GetTask(context.Background(), f.fam.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, detail.Claims, 1)
	assert.Equal(t, model.ClaimApproved, detail.Claims[0].Status)
}

func TestBountyCancelRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.publish(t, f.fam.Owner, 25)
	assert.Equal(t, int64(75), economytest.Balance(t, f.db, f.fam.Owner.ID))

	_, err := f.svc.Cancel(ctx, f.fam.ID, f.fam.Ann.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)

	cancelled, err := f.svc.Cancel(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, cancelled.Status)
	assert.Equal(t, int64(0), cancelled.EscrowPoints)
	assert.Equal(t, int64(100), economytest.Balance(t, f.db, f.fam.Owner.ID))

	_, err = f.svc.Cancel(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState)
	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log", "reason_code = 'bounty_refund'"))
}

func TestBountyPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, PublishRequest{FamilyID: f.fam.ID, MemberID: f.fam.Ann.ID, Title: "Walk the dog", Points: 25})
	assert.ErrorIs(t, err, economy.ErrInsufficientBalance)
	assert.Equal(t, 0, economytest.Count(t, f.db, "bounty_tasks", "1 = 1"))

	req := PublishRequest{
		FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID,
		Title: "<b>Mow</b> the lawn", Description: "<script>alert(1)</script>Front yard",
		Points: 30, IdempotencyKey: "mow",
	}
	first, err := f.svc.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Mow the lawn", first.Task.Title)
	assert.Equal(t, "Front yard", first.Task.Description)

	again, err := f.svc.Publish(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Task.ID, again.Task.ID)
	assert.Equal(t, int64(70), economytest.Balance(t, f.db, f.fam.Owner.ID))

	for _, bad := range []PublishRequest{
		{FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID, Title: "<i></i>", Points: 5},
		{FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID, Title: "Dishes", Points: 0},
		{FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID, Title: "Dishes", Points: 5, DueAt: economytest.Ptr(economytest.Now)},
	} {
		_, err := f.svc.Publish(ctx, bad)
		assert.ErrorIs(t, err, economy.ErrValidation, "%+v", bad)
	}
}

func TestBountyClaimRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := economytest.Now.Add(time.Hour)
	res, err := f.svc.Publish(ctx, PublishRequest{
		FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID, Title: "Fold laundry", Points: 10, DueAt: &due,
	})
	require.NoError(t, err)
	task := res.Task

	_, err = f.svc.Claim(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)

	other := economytest.SeedFamily(t, f.db)
	_, err = f.svc.Claim(ctx, other.ID, other.Ann.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrNotFound)

	_, err = f.svc.Claim(ctx, f.fam.ID, f.fam.Ann.ID, task.ID)
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, f.fam.ID, f.fam.Ben.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState)

	_, err = f.svc.Submit(ctx, f.fam.ID, f.fam.Ben.ID, task.ID, "me too")
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)

	_, err = f.svc.Cancel(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState, "claimed tasks cannot be cancelled")

	late := f.publish(t, f.fam.Owner, 5)
	f.clock.now = due
	_, err = f.svc.Claim(ctx, f.fam.ID, f.fam.Ben.ID, late.ID)
	require.NoError(t, err, "tasks without a due date never expire")

	expiring, err := f.svc.Publish(ctx, PublishRequest{
		FamilyID: f.fam.ID, MemberID: f.fam.Owner.ID, Title: "Water plants", Points: 5,
		DueAt: economytest.Ptr(due.Add(time.Minute)),
	})
	require.NoError(t, err)
	f.clock.now = due.Add(time.Minute)
	_, err = f.svc.Claim(ctx, f.fam.ID, f.fam.Ben.ID, expiring.Task.ID)
	assert.ErrorIs(t, err, economy.ErrExpired)
}

func TestBountyRejectWithReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, claim := f.submitted(t, 25)

	res, err := f.review(model.DecisionRejected, task, claim, true)
	require.NoError(t, err)
	assert.Equal(t, model.TaskOpen, res.Task.Status)
	assert.Equal(t, int64(25), res.Task.EscrowPoints)
	assert.True(t, res.Review.AllowReclaim)
	assert.Equal(t, int64(75), economytest.Balance(t, f.db, f.fam.Owner.ID))

	_, err = f.svc.Cancel(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState, "a reopened task was already claimed")
	assert.Equal(t, int64(75), economytest.Balance(t, f.db, f.fam.Owner.ID))

	second, err := f.svc.Claim(ctx, f.fam.ID, f.fam.Ben.ID, task.ID)
	require.NoError(t, err)
	second, err = f.svc.Submit(ctx, f.fam.ID, f.fam.Ben.ID, task.ID, "done properly")
	require.NoError(t, err)

	final, err := f.review(model.DecisionRejected, task, second, false)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRejected, final.Task.Status)
	assert.Equal(t, int64(0), final.Task.EscrowPoints)
	assert.Equal(t, int64(100), economytest.Balance(t, f.db, f.fam.Owner.ID))
	assert.Equal(t, int64(0), economytest.Balance(t, f.db, f.fam.Ben.ID))
}

func TestBountyReviewRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 50)

	// Ann publishes, the owner claims: the owner may not review their own work.
	task := f.publish(t, f.fam.Ann, 20)
	_, err := f.svc.Claim(ctx, f.fam.ID, f.fam.Owner.ID, task.ID)
	require.NoError(t, err)
	claim, err := f.svc.Submit(ctx, f.fam.ID, f.fam.Owner.ID, task.ID, "")
	require.NoError(t, err)

	_, err = f.review(model.DecisionApproved, task, claim, false)
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)

	_, err = f.svc.Review(ctx, ReviewRequest{
		FamilyID: f.fam.ID, ReviewerID: f.fam.Ben.ID, TaskID: task.ID, ClaimID: claim.ID, Decision: model.DecisionApproved,
	})
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)

	_, err = f.svc.Review(ctx, ReviewRequest{
		FamilyID: f.fam.ID, ReviewerID: f.fam.Ann.ID, TaskID: task.ID, ClaimID: claim.ID, Decision: "maybe",
	})
	assert.ErrorIs(t, err, economy.ErrValidation)

	approve := ReviewRequest{
		FamilyID: f.fam.ID, ReviewerID: f.fam.Ann.ID, TaskID: task.ID, ClaimID: claim.ID,
		Decision: model.DecisionApproved, Comment: "thanks",
	}
	first, err := f.svc.Review(ctx, approve)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	again, err := f.svc.Review(ctx, approve)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Review.ID, again.Review.ID)
	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log", "reason_code = 'bounty_payout'"))
	assert.Equal(t, int64(120), economytest.Balance(t, f.db, f.fam.Owner.ID))

	approve.Decision = model.DecisionRejected
	_, err = f.svc.Review(ctx, approve)
	assert.ErrorIs(t, err, economy.ErrInvalidState)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.publish(t, f.fam.Owner, 10)
	cancelled := f.publish(t, f.fam.Owner, 10)
	_, err := f.svc.Cancel(ctx, f.fam.ID, f.fam.Owner.ID, cancelled.ID)
	require.NoError(t, err)

	all, err := f.svc.ListTasks(ctx, f.fam.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	openOnly, err := f.svc.ListTasks(ctx, f.fam.ID, model.TaskOpen)
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, open.ID, openOnly[0].ID)
}

// Package bounty runs the family task board. A task's reward is debited from
// the publisher into escrow when it is published and leaves escrow exactly
// once: paid to the claimer on approval or refunded to the publisher.
package bounty

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

const (
	maxTitle = 200
	maxText  = 4000
)

type Service struct {
	db     *sql.DB
	wallet *wallet.Service
	now    economy.Clock
	policy *bluemonday.Policy
	logger *slog.Logger
}

func NewService(db *sql.DB, w *wallet.Service, clock economy.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, wallet: w, now: clock, policy: bluemonday.StrictPolicy(), logger: logger}
}

// clean strips markup from member-entered text.
func (s *Service) clean(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// transition is a committed state change, reported after commit.
type transition struct {
	taskID int64
	status model.TaskStatus
	points int64
}

func (s *Service) record(ts ...transition) {
	for _, t := range ts {
		metrics.RecordBountyTransition(string(t.status))
		if t.points != 0 {
			metrics.RecordPoints(t.points)
		}
		s.logger.Info("bounty task transitioned", "task_id", t.taskID, "status", t.status, "points", t.points)
	}
}

func (s *Service) taskTx(ctx context.Context, bounties *store.BountyStore, familyID, taskID int64) (*model.BountyTask, error) {
	task, err := bounties.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.FamilyID != familyID {
		return nil, economy.NotFound("bounty task", taskID)
	}
	return task, nil
}

// moveTx applies a task transition that must start from the task's current
// status.
func moveTx(ctx context.Context, bounties *store.BountyStore, task *model.BountyTask, to model.TaskStatus, escrow int64, now time.Time) error {
	ok, err := bounties.UpdateTaskState(ctx, task.ID, task.Status, to, escrow, now)
	if err != nil {
		return err
	}
	if !ok {
		return economy.ErrConcurrencyConflict
	}
	task.Status = to
	task.EscrowPoints = escrow
	task.UpdatedAt = now
	return nil
}

// PublishRequest posts a task. IdempotencyKey is optional; when set, a replay
// returns the task it created.
type PublishRequest struct {
	FamilyID       int64
	MemberID       int64
	Title          string
	Description    string
	Points         int64
	DueAt          *time.Time
	IdempotencyKey string
}

type TaskResult struct {
	Task       *model.BountyTask `json:"task"`
	Idempotent bool              `json:"idempotent"`
}

func (s *Service) normalizePublish(r *PublishRequest) error {
	r.Title = s.clean(r.Title)
	r.Description = s.clean(r.Description)
	switch {
	case r.Title == "":
		return economy.Invalid("title", "required")
	case len(r.Title) > maxTitle:
		return economy.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitle))
	case len(r.Description) > maxText:
		return economy.Invalid("description", fmt.Sprintf("must be at most %d characters", maxText))
	case r.Points <= 0:
		return economy.Invalid("bounty_points", "must be positive")
	case r.DueAt != nil && !r.DueAt.After(s.now()):
		return economy.Invalid("due_at", "must be in the future")
	}
	if r.IdempotencyKey != "" {
		return economy.ValidateKey(r.IdempotencyKey)
	}
	return nil
}

// Publish creates an open task and moves its points from the publisher into
// escrow.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*TaskResult, error) {
	if err := s.normalizePublish(&req); err != nil {
		return nil, err
	}

	var res *TaskResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.publishTx(ctx, tx, req)
		return err
	})
	if err != nil && database.IsUniqueViolation(err) && req.IdempotencyKey != "" {
		res, err = s.replayPublish(ctx, s.db, req)
		if err == nil && res == nil {
			err = fmt.Errorf("task %q vanished after conflict", req.IdempotencyKey)
		}
	}
	if err != nil {
		return nil, err
	}
	if res.Idempotent {
		metrics.RecordReplay("publish_task")
		return res, nil
	}
	s.record(transition{taskID: res.Task.ID, status: model.TaskOpen, points: -res.Task.BountyPoints})
	return res, nil
}

func (s *Service) replayPublish(ctx context.Context, db database.DBTX, req PublishRequest) (*TaskResult, error) {
	task, err := store.NewBountyStore(db).GetTaskByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil || task == nil {
		return nil, err
	}
	if task.PublisherMemberID != req.MemberID {
		return nil, economy.ErrIdempotencyMismatch
	}
	return &TaskResult{Task: task, Idempotent: true}, nil
}

func (s *Service) publishTx(ctx context.Context, tx database.DBTX, req PublishRequest) (*TaskResult, error) {
	var key *string
	if req.IdempotencyKey != "" {
		key = &req.IdempotencyKey
		if res, err := s.replayPublish(ctx, tx, req); err != nil || res != nil {
			return res, err
		}
	}
	publisher, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), req.FamilyID, req.MemberID)
	if err != nil {
		return nil, err
	}

	var due *time.Time
	if req.DueAt != nil {
		d := req.DueAt.UTC()
		due = &d
	}
	task, err := store.NewBountyStore(tx).InsertTask(ctx, &model.BountyTask{
		FamilyID:          req.FamilyID,
		PublisherMemberID: publisher.ID,
		Title:             req.Title,
		Description:       req.Description,
		BountyPoints:      req.Points,
		EscrowPoints:      req.Points,
		DueAt:             due,
		CreatedAt:         s.now().UTC(),
	}, key)
	if err != nil {
		return nil, err
	}

	if _, err := s.wallet.CreateEntryTx(ctx, tx, wallet.EntryRequest{
		FamilyID:       req.FamilyID,
		MemberID:       publisher.ID,
		PointsChange:   -req.Points,
		ReasonCode:     model.ReasonBountyEscrow,
		Description:    "Bounty escrow: " + task.Title,
		IdempotencyKey: economy.DeriveKey("bounty-escrow", task.ID),
	}); err != nil {
		return nil, err
	}
	return &TaskResult{Task: task}, nil
}

// Claim takes an open task for a member other than its publisher.
func (s *Service) Claim(ctx context.Context, familyID, memberID, taskID int64) (*model.TaskClaim, error) {
	var claim *model.TaskClaim
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		claimer, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), familyID, memberID)
		if err != nil {
			return err
		}
		bounties := store.NewBountyStore(tx)
		task, err := s.taskTx(ctx, bounties, familyID, taskID)
		if err != nil {
			return err
		}
		if task.Status != model.TaskOpen {
			return economy.InvalidState("bounty task", task.ID, string(task.Status), "claim")
		}
		now := s.now()
		if task.DueAt != nil && !now.Before(*task.DueAt) {
			return &economy.ExpiredError{Resource: "bounty task", ID: task.ID}
		}
		if claimer.ID == task.PublisherMemberID {
			return fmt.Errorf("%w: member %d published task %d", economy.ErrMemberNotAllowed, claimer.ID, task.ID)
		}

		if err := moveTx(ctx, bounties, task, model.TaskClaimed, task.EscrowPoints, now); err != nil {
			return err
		}
		claim, err = bounties.InsertClaim(ctx, task.ID, claimer.ID, now)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, economy.InvalidState("bounty task", taskID, string(model.TaskClaimed), "claim")
		}
		return nil, err
	}
	s.record(transition{taskID: taskID, status: model.TaskClaimed})
	return claim, nil
}

// Submit hands the claimer's work in for review.
func (s *Service) Submit(ctx context.Context, familyID, memberID, taskID int64, note string) (*model.TaskClaim, error) {
	note = s.clean(note)
	if len(note) > maxText {
		return nil, economy.Invalid("submission_note", fmt.Sprintf("must be at most %d characters", maxText))
	}

	var claim *model.TaskClaim
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), familyID, memberID); err != nil {
			return err
		}
		bounties := store.NewBountyStore(tx)
		task, err := s.taskTx(ctx, bounties, familyID, taskID)
		if err != nil {
			return err
		}
		live, err := bounties.LiveClaim(ctx, task.ID)
		if err != nil {
			return err
		}
		if live == nil || live.Status != model.ClaimActive || task.Status != model.TaskClaimed {
			return economy.InvalidState("bounty task", task.ID, string(task.Status), "submit")
		}
		if live.ClaimerMemberID != memberID {
			return fmt.Errorf("%w: member %d did not claim task %d", economy.ErrMemberNotAllowed, memberID, task.ID)
		}

		now := s.now()
		if err := bounties.SubmitClaim(ctx, live.ID, note, now); err != nil {
			return err
		}
		if err := moveTx(ctx, bounties, task, model.TaskSubmitted, task.EscrowPoints, now); err != nil {
			return err
		}
		claim, err = bounties.GetClaim(ctx, live.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(transition{taskID: taskID, status: model.TaskSubmitted})
	return claim, nil
}

// ReviewRequest decides a submitted claim. AllowReclaim on a rejection
// reopens the task with its escrow still held.
type ReviewRequest struct {
	FamilyID     int64
	ReviewerID   int64
	TaskID       int64
	ClaimID      int64
	Decision     model.ReviewDecision
	Comment      string
	AllowReclaim bool
}

type ReviewResult struct {
	Task       *model.BountyTask `json:"task"`
	Review     *model.TaskReview `json:"review"`
	Idempotent bool              `json:"idempotent"`
}

// Review settles a submission. A claim is reviewed once; repeating the same
// decision returns the stored review.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	switch req.Decision {
	case model.DecisionApproved, model.DecisionRejected:
	default:
		return nil, economy.Invalid("decision", "must be approved or rejected")
	}
	req.Comment = s.clean(req.Comment)
	if len(req.Comment) > maxText {
		return nil, economy.Invalid("comment", fmt.Sprintf("must be at most %d characters", maxText))
	}

	var res *ReviewResult
	var moved transition
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, moved, err = s.reviewTx(ctx, tx, req)
		return err
	})
	if err != nil && database.IsUniqueViolation(err) {
		res, err = s.replayReview(ctx, s.db, req)
		if err == nil && res == nil {
			err = fmt.Errorf("review of claim %d vanished after conflict", req.ClaimID)
		}
	}
	if err != nil {
		return nil, err
	}
	if res.Idempotent {
		metrics.RecordReplay("review_task")
		return res, nil
	}
	s.record(moved)
	return res, nil
}

// replayReview returns the stored review of the claim when it carries the
// same decision, or nil when the claim is unreviewed.
func (s *Service) replayReview(ctx context.Context, db database.DBTX, req ReviewRequest) (*ReviewResult, error) {
	bounties := store.NewBountyStore(db)
	review, err := bounties.GetReviewByClaim(ctx, req.ClaimID)
	if err != nil || review == nil {
		return nil, err
	}
	if review.TaskID != req.TaskID || review.Decision != req.Decision {
		return nil, economy.InvalidState("task claim", req.ClaimID, "reviewed as "+string(review.Decision), "review")
	}
	task, err := s.taskTx(ctx, bounties, req.FamilyID, req.TaskID)
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Task: task, Review: review, Idempotent: true}, nil
}

func (s *Service) reviewTx(ctx context.Context, tx database.DBTX, req ReviewRequest) (*ReviewResult, transition, error) {
	var none transition
	if res, err := s.replayReview(ctx, tx, req); err != nil || res != nil {
		return res, none, err
	}

	reviewer, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), req.FamilyID, req.ReviewerID)
	if err != nil {
		return nil, none, err
	}
	bounties := store.NewBountyStore(tx)
	task, err := s.taskTx(ctx, bounties, req.FamilyID, req.TaskID)
	if err != nil {
		return nil, none, err
	}
	claim, err := bounties.GetClaim(ctx, req.ClaimID)
	if err != nil {
		return nil, none, err
	}
	if claim == nil || claim.TaskID != task.ID {
		return nil, none, economy.NotFound("task claim", req.ClaimID)
	}
	if reviewer.ID != task.PublisherMemberID && !reviewer.IsOwner() {
		return nil, none, fmt.Errorf("%w: member %d may not review task %d", economy.ErrMemberNotAllowed, reviewer.ID, task.ID)
	}
	if reviewer.ID == claim.ClaimerMemberID {
		return nil, none, fmt.Errorf("%w: member %d claimed task %d", economy.ErrMemberNotAllowed, reviewer.ID, task.ID)
	}
	if claim.Status != model.ClaimSubmitted || task.Status != model.TaskSubmitted {
		return nil, none, economy.InvalidState("task claim", claim.ID, string(claim.Status), "review")
	}

	now := s.now()
	moved := transition{taskID: task.ID}
	switch {
	case req.Decision == model.DecisionApproved:
		if _, err := s.wallet.CreateEntryTx(ctx, tx, wallet.EntryRequest{
			FamilyID:       task.FamilyID,
			MemberID:       claim.ClaimerMemberID,
			PointsChange:   task.EscrowPoints,
			ReasonCode:     model.ReasonBountyPayout,
			Description:    "Bounty: " + task.Title,
			IdempotencyKey: economy.DeriveKey("bounty-payout", task.ID, claim.ID),
		}); err != nil {
			return nil, none, err
		}
		moved.points = task.EscrowPoints
		if err := bounties.SetClaimStatus(ctx, claim.ID, model.ClaimApproved); err != nil {
			return nil, none, err
		}
		if err := moveTx(ctx, bounties, task, model.TaskApproved, 0, now); err != nil {
			return nil, none, err
		}

	case req.AllowReclaim:
		if err := bounties.SetClaimStatus(ctx, claim.ID, model.ClaimRejected); err != nil {
			return nil, none, err
		}
		if err := moveTx(ctx, bounties, task, model.TaskOpen, task.EscrowPoints, now); err != nil {
			return nil, none, err
		}

	default:
		points, err := s.refundTx(ctx, tx, task)
		if err != nil {
			return nil, none, err
		}
		moved.points = points
		if err := bounties.SetClaimStatus(ctx, claim.ID, model.ClaimRejected); err != nil {
			return nil, none, err
		}
		if err := moveTx(ctx, bounties, task, model.TaskRejected, 0, now); err != nil {
			return nil, none, err
		}
	}
	moved.status = task.Status

	review, err := bounties.InsertReview(ctx, &model.TaskReview{
		TaskID:           task.ID,
		ClaimID:          claim.ID,
		ReviewerMemberID: reviewer.ID,
		Decision:         req.Decision,
		Comment:          req.Comment,
		AllowReclaim:     req.Decision == model.DecisionRejected && req.AllowReclaim,
		CreatedAt:        now.UTC(),
	})
	if err != nil {
		return nil, none, err
	}
	return &ReviewResult{Task: task, Review: review}, moved, nil
}

// refundTx returns the task's escrow to its publisher.
func (s *Service) refundTx(ctx context.Context, tx database.DBTX, task *model.BountyTask) (int64, error) {
	if task.EscrowPoints == 0 {
		return 0, nil
	}
	if _, err := s.wallet.CreateEntryTx(ctx, tx, wallet.EntryRequest{
		FamilyID:       task.FamilyID,
		MemberID:       task.PublisherMemberID,
		PointsChange:   task.EscrowPoints,
		ReasonCode:     model.ReasonBountyRefund,
		Description:    "Bounty refund: " + task.Title,
		IdempotencyKey: economy.DeriveKey("bounty-refund", task.ID),
	}); err != nil {
		return 0, err
	}
	return task.EscrowPoints, nil
}

// Cancel withdraws an open task that was never claimed and refunds its
// escrow. Only the publisher may cancel.
func (s *Service) Cancel(ctx context.Context, familyID, memberID, taskID int64) (*model.BountyTask, error) {
	var task *model.BountyTask
	var refunded int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireFamilyMember(ctx, store.NewFamilyStore(tx), familyID, memberID); err != nil {
			return err
		}
		bounties := store.NewBountyStore(tx)
		var err error
		task, err = s.taskTx(ctx, bounties, familyID, taskID)
		if err != nil {
			return err
		}
		if task.PublisherMemberID != memberID {
			return fmt.Errorf("%w: member %d did not publish task %d", economy.ErrMemberNotAllowed, memberID, task.ID)
		}
		if task.Status != model.TaskOpen {
			return economy.InvalidState("bounty task", task.ID, string(task.Status), "cancel")
		}
		claims, err := bounties.ListClaims(ctx, task.ID)
		if err != nil {
			return err
		}
		if len(claims) > 0 {
			return fmt.Errorf("%w: task %d has already been claimed", economy.ErrInvalidState, task.ID)
		}
		refunded, err = s.refundTx(ctx, tx, task)
		if err != nil {
			return err
		}
		return moveTx(ctx, bounties, task, model.TaskCancelled, 0, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.record(transition{taskID: task.ID, status: model.TaskCancelled, points: refunded})
	return task, nil
}

// TaskDetail is a task with its claim history.
type TaskDetail struct {
	Task   *model.BountyTask `json:"task"`
	Claims []model.TaskClaim `json:"claims"`
}

func (s *Service) GetTask(ctx context.Context, familyID, taskID int64) (*TaskDetail, error) {
	bounties := store.NewBountyStore(s.db)
	task, err := s.taskTx(ctx, bounties, familyID, taskID)
	if err != nil {
		return nil, err
	}
	claims, err := bounties.ListClaims(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: task, Claims: claims}, nil
}

// ListTasks returns the family's tasks; an empty status matches all.
func (s *Service) ListTasks(ctx context.Context, familyID int64, status model.TaskStatus) ([]model.BountyTask, error) {
	return store.NewBountyStore(s.db).ListTasks(ctx, familyID, status)
}

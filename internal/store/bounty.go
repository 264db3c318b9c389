package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

type BountyStore struct {
	db database.DBTX
}

func NewBountyStore(db database.DBTX) *BountyStore {
	return &BountyStore{db: db}
}

// --- Task methods ---

func scanTask(scanner interface{ Scan(...any) error }) (*model.BountyTask, error) {
	var t model.BountyTask
	var dueAt sql.NullTime
	err := scanner.Scan(&t.ID, &t.FamilyID, &t.PublisherMemberID, &t.Title, &t.Description, &t.BountyPoints,
		&t.EscrowPoints, &t.Status, &dueAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.DueAt = timePtr(dueAt)
	return &t, nil
}

const taskCols = `id, family_id, publisher_member_id, title, description, bounty_points, escrow_points, status, due_at, created_at, updated_at`

// InsertTask creates an open task. key may be nil; a duplicate non-nil key
// surfaces as a unique violation.
func (s *BountyStore) InsertTask(ctx context.Context, t *model.BountyTask, key *string) (*model.BountyTask, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO bounty_tasks (family_id, publisher_member_id, title, description, bounty_points, escrow_points, status, due_at, idempotency_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'open', ?, ?, ?, ?)`,
		t.FamilyID, t.PublisherMemberID, t.Title, t.Description, t.BountyPoints, t.EscrowPoints,
		nullTime(t.DueAt), nullString(key), t.CreatedAt.UTC(), t.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert bounty task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTask(ctx, id)
}

func (s *BountyStore) GetTask(ctx context.Context, id int64) (*model.BountyTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM bounty_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bounty task: %w", err)
	}
	return t, nil
}

func (s *BountyStore) GetTaskByKey(ctx context.Context, familyID int64, key string) (*model.BountyTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM bounty_tasks WHERE family_id = ? AND idempotency_key = ?`, familyID, key)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bounty task by key: %w", err)
	}
	return t, nil
}

// ListTasks returns a family's tasks newest first. An empty status matches all.
func (s *BountyStore) ListTasks(ctx context.Context, familyID int64, status model.TaskStatus) ([]model.BountyTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM bounty_tasks WHERE family_id = ? AND (? = '' OR status = ?) ORDER BY id DESC`,
		familyID, status, status,
	)
	if err != nil {
		return nil, fmt.Errorf("list bounty tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.BountyTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bounty task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTaskState moves a task to status with the given escrow, but only if
// it is still in from. It returns false when another writer got there first.
func (s *BountyStore) UpdateTaskState(ctx context.Context, id int64, from, to model.TaskStatus, escrow int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bounty_tasks SET status = ?, escrow_points = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, escrow, now.UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update bounty task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// --- Claim methods ---

func scanClaim(scanner interface{ Scan(...any) error }) (*model.TaskClaim, error) {
	var c model.TaskClaim
	var submittedAt sql.NullTime
	err := scanner.Scan(&c.ID, &c.TaskID, &c.ClaimerMemberID, &c.Status, &submittedAt, &c.SubmissionNote, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.SubmittedAt = timePtr(submittedAt)
	return &c, nil
}

const claimCols = `id, task_id, claimer_member_id, status, submitted_at, submission_note, created_at`

// InsertClaim creates an active claim. A second live claim on the same task
// surfaces as a unique violation.
func (s *BountyStore) InsertClaim(ctx context.Context, taskID, memberID int64, now time.Time) (*model.TaskClaim, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO task_claims (task_id, claimer_member_id, status, created_at) VALUES (?, ?, 'active', ?)`,
		taskID, memberID, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task claim: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetClaim(ctx, id)
}

func (s *BountyStore) GetClaim(ctx context.Context, id int64) (*model.TaskClaim, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+claimCols+` FROM task_claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task claim: %w", err)
	}
	return c, nil
}

// LiveClaim returns the task's active or submitted claim, or nil.
func (s *BountyStore) LiveClaim(ctx context.Context, taskID int64) (*model.TaskClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimCols+` FROM task_claims WHERE task_id = ? AND status IN ('active', 'submitted')`, taskID)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live claim: %w", err)
	}
	return c, nil
}

func (s *BountyStore) ListClaims(ctx context.Context, taskID int64) ([]model.TaskClaim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimCols+` FROM task_claims WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task claims: %w", err)
	}
	defer rows.Close()

	var claims []model.TaskClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task claim: %w", err)
		}
		claims = append(claims, *c)
	}
	return claims, rows.Err()
}

func (s *BountyStore) SubmitClaim(ctx context.Context, id int64, note string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_claims SET status = 'submitted', submitted_at = ?, submission_note = ? WHERE id = ?`,
		now.UTC(), note, id,
	)
	if err != nil {
		return fmt.Errorf("submit task claim: %w", err)
	}
	return nil
}

func (s *BountyStore) SetClaimStatus(ctx context.Context, id int64, status model.ClaimStatus) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE task_claims SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("set claim status: %w", err)
	}
	return nil
}

// --- Review methods ---

func scanReview(scanner interface{ Scan(...any) error }) (*model.TaskReview, error) {
	var r model.TaskReview
	var allow int
	err := scanner.Scan(&r.ID, &r.TaskID, &r.ClaimID, &r.ReviewerMemberID, &r.Decision, &r.Comment, &allow, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.AllowReclaim = allow != 0
	return &r, nil
}

const reviewCols = `id, task_id, claim_id, reviewer_member_id, decision, comment, allow_reclaim, created_at`

// InsertReview records the single review of a claim.
func (s *BountyStore) InsertReview(ctx context.Context, r *model.TaskReview) (*model.TaskReview, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO task_reviews (task_id, claim_id, reviewer_member_id, decision, comment, allow_reclaim, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.ClaimID, r.ReviewerMemberID, r.Decision, r.Comment, boolInt(r.AllowReclaim), r.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task review: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewCols+` FROM task_reviews WHERE id = ?`, id)
	return scanReview(row)
}

func (s *BountyStore) GetReviewByClaim(ctx context.Context, claimID int64) (*model.TaskReview, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewCols+` FROM task_reviews WHERE claim_id = ?`, claimID)
	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task review: %w", err)
	}
	return r, nil
}

package model

import "time"

type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskApproved  TaskStatus = "approved"
	TaskRejected  TaskStatus = "rejected"
	TaskCancelled TaskStatus = "cancelled"
)

// BountyTask holds the publisher's points in escrow until review. EscrowPoints
// is non-zero only while the task is open, claimed or submitted.
type BountyTask struct {
	ID                int64      `json:"id"`
	FamilyID          int64      `json:"family_id"`
	PublisherMemberID int64      `json:"publisher_member_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	BountyPoints      int64      `json:"bounty_points"`
	EscrowPoints      int64      `json:"escrow_points"`
	Status            TaskStatus `json:"status"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimApproved  ClaimStatus = "approved"
	ClaimRejected  ClaimStatus = "rejected"
)

type TaskClaim struct {
	ID              int64       `json:"id"`
	TaskID          int64       `json:"task_id"`
	ClaimerMemberID int64       `json:"claimer_member_id"`
	Status          ClaimStatus `json:"status"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	SubmissionNote  string      `json:"submission_note"`
	CreatedAt       time.Time   `json:"created_at"`
}

type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

type TaskReview struct {
	ID               int64          `json:"id"`
	TaskID           int64          `json:"task_id"`
	ClaimID          int64          `json:"claim_id"`
	ReviewerMemberID int64          `json:"reviewer_member_id"`
	Decision         ReviewDecision `json:"decision"`
	Comment          string         `json:"comment"`
	AllowReclaim     bool           `json:"allow_reclaim"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Package wallet is the points ledger. A member's balance is always the live
// sum of their append-only entries; nothing caches it.
package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Service struct {
	db     *sql.DB
	now    economy.Clock
	logger *slog.Logger
}

func NewService(db *sql.DB, clock economy.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, now: clock, logger: logger}
}

// EntryRequest describes one ledger movement. PointsChange is negative for
// debits. IdempotencyKey is optional.
type EntryRequest struct {
	FamilyID       int64
	MemberID       int64
	PointsChange   int64
	ReasonCode     string
	Description    string
	IdempotencyKey string
	OrderID        *int64
}

type EntryResult struct {
	Entry      *model.PointsLogEntry `json:"entry"`
	Idempotent bool                  `json:"idempotent"`
}

func (r EntryRequest) validate() error {
	switch {
	case r.FamilyID <= 0:
		return economy.Invalid("family_id", "required")
	case r.MemberID <= 0:
		return economy.Invalid("member_id", "required")
	case strings.TrimSpace(r.ReasonCode) == "":
		return economy.Invalid("reason_code", "required")
	}
	if r.IdempotencyKey != "" {
		return economy.ValidateKey(r.IdempotencyKey)
	}
	return nil
}

// CreateEntry appends one ledger entry in its own transaction. A repeated
// idempotency key returns the stored entry with Idempotent set.
func (s *Service) CreateEntry(ctx context.Context, req EntryRequest) (*EntryResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var res *EntryResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.CreateEntryTx(ctx, tx, req)
		return err
	})
	if err != nil && req.IdempotencyKey != "" && database.IsUniqueViolation(err) {
		res, err = s.replay(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if res.Idempotent {
		metrics.RecordReplay("ledger_entry")
	} else {
		metrics.RecordPoints(res.Entry.PointsChange)
		s.logger.Info("points entry created",
			"member_id", req.MemberID, "change", req.PointsChange, "reason", req.ReasonCode, "entry_id", res.Entry.ID)
	}
	return res, nil
}

func (s *Service) replay(ctx context.Context, req EntryRequest) (*EntryResult, error) {
	existing, err := store.NewLedgerStore(s.db).GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("points entry %q vanished after conflict", req.IdempotencyKey)
	}
	if existing.MemberID != req.MemberID {
		return nil, economy.ErrIdempotencyMismatch
	}
	return &EntryResult{Entry: existing, Idempotent: true}, nil
}

// CreateEntryTx appends an entry inside the caller's transaction. Debits are
// checked against the live balance first and fail with
// InsufficientBalanceError, which must abort the caller's transaction.
func (s *Service) CreateEntryTx(ctx context.Context, tx database.DBTX, req EntryRequest) (*EntryResult, error) {
	ledger := store.NewLedgerStore(tx)

	var key *string
	if req.IdempotencyKey != "" {
		existing, err := ledger.GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.MemberID != req.MemberID {
				return nil, economy.ErrIdempotencyMismatch
			}
			return &EntryResult{Entry: existing, Idempotent: true}, nil
		}
		key = &req.IdempotencyKey
	}

	members := store.NewFamilyStore(tx)
	if req.PointsChange < 0 {
		if _, err := economy.RequireMember(ctx, members, req.FamilyID, req.MemberID); err != nil {
			return nil, err
		}
		if err := s.RequireBalanceTx(ctx, tx, req.MemberID, -req.PointsChange); err != nil {
			return nil, err
		}
	} else if _, err := economy.RequireFamilyMember(ctx, members, req.FamilyID, req.MemberID); err != nil {
		return nil, err
	}

	entry, err := ledger.Insert(ctx, &model.PointsLogEntry{
		MemberID:       req.MemberID,
		FamilyID:       req.FamilyID,
		PointsChange:   req.PointsChange,
		ReasonCode:     req.ReasonCode,
		Description:    req.Description,
		RelatedOrderID: req.OrderID,
		IdempotencyKey: key,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &EntryResult{Entry: entry}, nil
}

// RequireBalanceTx fails with InsufficientBalanceError unless the member can
// cover amount.
func (s *Service) RequireBalanceTx(ctx context.Context, tx database.DBTX, memberID, amount int64) error {
	balance, err := store.NewLedgerStore(tx).Balance(ctx, memberID)
	if err != nil {
		return err
	}
	if balance < amount {
		return &economy.InsufficientBalanceError{MemberID: memberID, Balance: balance, Required: amount}
	}
	return nil
}

// Balance returns the member's live balance.
func (s *Service) Balance(ctx context.Context, memberID int64) (int64, error) {
	return store.NewLedgerStore(s.db).Balance(ctx, memberID)
}

// Grant lets a family owner credit (positive points) or debit (negative
// points) a member by hand.
func (s *Service) Grant(ctx context.Context, familyID, ownerID, memberID, points int64, description, key string) (*EntryResult, error) {
	if points == 0 {
		return nil, economy.Invalid("points", "must not be zero")
	}
	if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(s.db), familyID, ownerID); err != nil {
		return nil, err
	}
	return s.CreateEntry(ctx, EntryRequest{
		FamilyID:       familyID,
		MemberID:       memberID,
		PointsChange:   points,
		ReasonCode:     model.ReasonManualAdjust,
		Description:    description,
		IdempotencyKey: key,
	})
}

// History returns the member's newest entries. limit is clamped to
// [1, 500] with 50 as the default.
func (s *Service) History(ctx context.Context, memberID int64, limit int) ([]model.PointsLogEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return store.NewLedgerStore(s.db).ListByMember(ctx, memberID, limit)
}

// Leaderboard returns the family's active members ordered by balance.
func (s *Service) Leaderboard(ctx context.Context, familyID int64) ([]model.PointBalance, error) {
	return store.NewLedgerStore(s.db).Balances(ctx, familyID)
}

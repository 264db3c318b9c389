// Package auction runs family auction sessions: lot generation, sealed bids
// and second-price settlement through the marketplace.
package auction

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

// DefaultDuration is the bidding window of a session created without one.
const DefaultDuration = 60

type Service struct {
	db      *sql.DB
	market  *market.Service
	wallet  *wallet.Service
	now     economy.Clock
	shuffle func(n int, swap func(i, j int))
	logger  *slog.Logger
}

func NewService(db *sql.DB, m *market.Service, w *wallet.Service, clock economy.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, market: m, wallet: w, now: clock, shuffle: rand.Shuffle, logger: logger}
}

// WithShuffle replaces the lot draw order, for deterministic generation.
func (s *Service) WithShuffle(shuffle func(n int, swap func(i, j int))) *Service {
	s.shuffle = shuffle
	return s
}

// sessionTx loads a session and hides sessions of other families.
func (s *Service) sessionTx(ctx context.Context, auctions *store.AuctionStore, familyID, sessionID int64) (*model.AuctionSession, error) {
	sess, err := auctions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.FamilyID != familyID {
		return nil, economy.NotFound("auction session", sessionID)
	}
	return sess, nil
}

// CreateSession opens a draft session. durationMinutes of zero uses
// DefaultDuration.
func (s *Service) CreateSession(ctx context.Context, familyID, ownerID int64, title string, durationMinutes int) (*model.AuctionSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, economy.Invalid("title", "required")
	}
	if durationMinutes < 0 {
		return nil, economy.Invalid("duration_minutes", "must not be negative")
	}
	if durationMinutes == 0 {
		durationMinutes = DefaultDuration
	}

	var sess *model.AuctionSession
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		var err error
		sess, err = store.NewAuctionStore(tx).CreateSession(ctx, familyID, title, durationMinutes, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("auction session created", "session_id", sess.ID, "family_id", familyID)
	return sess, nil
}

// ScheduleSession sets the start time of a draft session.
func (s *Service) ScheduleSession(ctx context.Context, familyID, ownerID, sessionID int64, at time.Time) (*model.AuctionSession, error) {
	if at.IsZero() {
		return nil, economy.Invalid("scheduled_at", "required")
	}
	return s.transition(ctx, familyID, ownerID, sessionID, model.SessionDraft, model.SessionScheduled,
		func(sess *model.AuctionSession, _ time.Time) {
			at := at.UTC()
			sess.ScheduledAt = &at
		})
}

// StartSession opens bidding now, ahead of the scheduled time.
func (s *Service) StartSession(ctx context.Context, familyID, ownerID, sessionID int64) (*model.AuctionSession, error) {
	return s.transition(ctx, familyID, ownerID, sessionID, model.SessionScheduled, model.SessionActive,
		func(sess *model.AuctionSession, now time.Time) {
			ends := now.Add(time.Duration(sess.DurationMinutes) * time.Minute).UTC()
			sess.EndsAt = &ends
		})
}

// EndSession closes bidding without settling. SettleSession settles an ended
// session.
func (s *Service) EndSession(ctx context.Context, familyID, ownerID, sessionID int64) (*model.AuctionSession, error) {
	return s.transition(ctx, familyID, ownerID, sessionID, model.SessionActive, model.SessionEnded, nil)
}

func (s *Service) transition(ctx context.Context, familyID, ownerID, sessionID int64, from, to model.SessionStatus, mutate func(*model.AuctionSession, time.Time)) (*model.AuctionSession, error) {
	var sess *model.AuctionSession
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(tx), familyID, ownerID); err != nil {
			return err
		}
		auctions := store.NewAuctionStore(tx)
		var err error
		sess, err = s.sessionTx(ctx, auctions, familyID, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != from {
			return economy.InvalidState("auction session", sess.ID, string(sess.Status), "move to "+string(to))
		}
		now := s.now()
		sess.Status = to
		if mutate != nil {
			mutate(sess, now)
		}
		return auctions.UpdateSession(ctx, sess, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("auction session transitioned", "session_id", sessionID, "from", from, "to", to)
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, familyID, sessionID int64) (*model.AuctionSession, error) {
	return s.sessionTx(ctx, store.NewAuctionStore(s.db), familyID, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, familyID int64) ([]model.AuctionSession, error) {
	return store.NewAuctionStore(s.db).ListSessions(ctx, familyID)
}

func (s *Service) ListLots(ctx context.Context, familyID, sessionID int64) ([]model.Lot, error) {
	auctions := store.NewAuctionStore(s.db)
	if _, err := s.sessionTx(ctx, auctions, familyID, sessionID); err != nil {
		return nil, err
	}
	return auctions.ListLots(ctx, sessionID)
}

func (s *Service) ListResults(ctx context.Context, familyID, sessionID int64) ([]model.AuctionResult, error) {
	auctions := store.NewAuctionStore(s.db)
	if _, err := s.sessionTx(ctx, auctions, familyID, sessionID); err != nil {
		return nil, err
	}
	return auctions.ListResults(ctx, sessionID)
}

// BidRequest places or raises a member's standing bid on a lot.
type BidRequest struct {
	FamilyID int64
	MemberID int64
	LotID    int64
	Points   int64
}

// biddableTx loads a lot and checks that its session is taking bids.
func (s *Service) biddableTx(ctx context.Context, auctions *store.AuctionStore, familyID, lotID int64, op string) (*model.Lot, *model.AuctionSession, error) {
	lot, err := auctions.GetLot(ctx, lotID)
	if err != nil {
		return nil, nil, err
	}
	if lot == nil {
		return nil, nil, economy.NotFound("lot", lotID)
	}
	sess, err := auctions.GetSession(ctx, lot.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil || sess.FamilyID != familyID {
		return nil, nil, economy.NotFound("lot", lotID)
	}
	if sess.Status != model.SessionActive {
		return nil, nil, economy.InvalidState("auction session", sess.ID, string(sess.Status), op)
	}
	if sess.EndsAt != nil && !s.now().Before(*sess.EndsAt) {
		return nil, nil, &economy.ExpiredError{Resource: "auction session", ID: sess.ID}
	}
	if lot.Status != model.LotPending {
		return nil, nil, economy.InvalidState("lot", lot.ID, string(lot.Status), op)
	}
	return lot, sess, nil
}

// SubmitBid records a bid. A bid commits points without debiting them: the
// bidder must hold the amount now, and pays at settlement.
func (s *Service) SubmitBid(ctx context.Context, req BidRequest) (*model.Bid, error) {
	if req.Points <= 0 {
		return nil, economy.Invalid("bid_points", "must be positive")
	}

	var bid *model.Bid
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		member, err := economy.RequireMember(ctx, store.NewFamilyStore(tx), req.FamilyID, req.MemberID)
		if err != nil {
			return err
		}
		auctions := store.NewAuctionStore(tx)
		lot, _, err := s.biddableTx(ctx, auctions, req.FamilyID, req.LotID, "bid on")
		if err != nil {
			return err
		}

		if req.Points < lot.StartPrice {
			return &economy.BidTooLowError{Bid: req.Points, Minimum: lot.StartPrice}
		}
		standing, err := auctions.GetBid(ctx, lot.ID, member.ID)
		if err != nil {
			return err
		}
		if standing != nil && req.Points <= standing.BidPoints {
			return &economy.BidTooLowError{Bid: req.Points, Minimum: standing.BidPoints + 1}
		}
		if err := s.wallet.RequireBalanceTx(ctx, tx, member.ID, req.Points); err != nil {
			return err
		}

		bid, err = auctions.UpsertBid(ctx, lot.ID, member.ID, req.Points, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bid placed", "lot_id", bid.LotID, "member_id", bid.BidderMemberID, "points", bid.BidPoints)
	return bid, nil
}

// SweepReport counts what one scheduler pass changed.
type SweepReport struct {
	Started int
	Settled int
}

// Sweep starts scheduled sessions whose time has come and settles active
// sessions past their end. A failing session does not stop the others; their
// errors are joined.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error
	now := s.now()
	auctions := store.NewAuctionStore(s.db)

	due, err := auctions.ListDueScheduled(ctx, now)
	if err != nil {
		return report, err
	}
	for _, sess := range due {
		if err := s.startScheduled(ctx, sess.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Started++
	}

	expired, err := auctions.ListExpiredActive(ctx, now)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, sess := range expired {
		if _, err := s.settle(ctx, sess.FamilyID, sess.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Settled++
	}
	return report, errors.Join(errs...)
}

// startScheduled activates a due session. Bidding ends one duration after the
// scheduled start.
func (s *Service) startScheduled(ctx context.Context, sessionID int64) error {
	var started *model.AuctionSession
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		auctions := store.NewAuctionStore(tx)
		sess, err := auctions.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil || sess.Status != model.SessionScheduled {
			return nil
		}
		start := s.now()
		if sess.ScheduledAt != nil {
			start = *sess.ScheduledAt
		}
		ends := start.Add(time.Duration(sess.DurationMinutes) * time.Minute).UTC()
		sess.Status = model.SessionActive
		sess.EndsAt = &ends
		if err := auctions.UpdateSession(ctx, sess, s.now()); err != nil {
			return err
		}
		started = sess
		return nil
	})
	if err == nil && started != nil {
		s.logger.Info("auction session started", "session_id", started.ID, "ends_at", started.EndsAt)
	}
	return err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/model"
)

type AuctionStore struct {
	db database.DBTX
}

func NewAuctionStore(db database.DBTX) *AuctionStore {
	return &AuctionStore{db: db}
}

// --- Session methods ---

func scanSession(scanner interface{ Scan(...any) error }) (*model.AuctionSession, error) {
	var s model.AuctionSession
	var scheduledAt, endsAt sql.NullTime
	err := scanner.Scan(&s.ID, &s.FamilyID, &s.Title, &s.Status, &scheduledAt, &s.DurationMinutes,
		&endsAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ScheduledAt = timePtr(scheduledAt)
	s.EndsAt = timePtr(endsAt)
	return &s, nil
}

const sessionCols = `id, family_id, title, status, scheduled_at, duration_minutes, ends_at, created_at, updated_at`

func (s *AuctionStore) CreateSession(ctx context.Context, familyID int64, title string, durationMinutes int, now time.Time) (*model.AuctionSession, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO auction_sessions (family_id, title, status, duration_minutes, created_at, updated_at)
		 VALUES (?, ?, 'draft', ?, ?, ?)`,
		familyID, title, durationMinutes, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert auction session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *AuctionStore) GetSession(ctx context.Context, id int64) (*model.AuctionSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM auction_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auction session: %w", err)
	}
	return sess, nil
}

func (s *AuctionStore) ListSessions(ctx context.Context, familyID int64) ([]model.AuctionSession, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionCols+` FROM auction_sessions WHERE family_id = ? ORDER BY id DESC`, familyID)
}

// ListDueScheduled returns scheduled sessions whose start time has passed.
func (s *AuctionStore) ListDueScheduled(ctx context.Context, now time.Time) ([]model.AuctionSession, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionCols+` FROM auction_sessions
		 WHERE status = 'scheduled' AND scheduled_at <= ? ORDER BY scheduled_at, id`, now.UTC())
}

// ListExpiredActive returns active sessions whose end time has passed.
func (s *AuctionStore) ListExpiredActive(ctx context.Context, now time.Time) ([]model.AuctionSession, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionCols+` FROM auction_sessions
		 WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at <= ? ORDER BY ends_at, id`, now.UTC())
}

func (s *AuctionStore) listSessions(ctx context.Context, query string, args ...any) ([]model.AuctionSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auction sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.AuctionSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// UpdateSession writes the session's lifecycle fields.
func (s *AuctionStore) UpdateSession(ctx context.Context, sess *model.AuctionSession, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE auction_sessions SET status = ?, scheduled_at = ?, ends_at = ?, updated_at = ? WHERE id = ?`,
		sess.Status, nullTime(sess.ScheduledAt), nullTime(sess.EndsAt), now.UTC(), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update auction session: %w", err)
	}
	return nil
}

// --- Lot methods ---

func scanLot(scanner interface{ Scan(...any) error }) (*model.Lot, error) {
	var l model.Lot
	var buyNow sql.NullInt64
	err := scanner.Scan(&l.ID, &l.SessionID, &l.SKUID, &l.OfferID, &l.Name, &l.Rarity, &l.StartPrice,
		&buyNow, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.BuyNowPrice = int64Ptr(buyNow)
	return &l, nil
}

const lotCols = `id, session_id, sku_id, offer_id, name, rarity, start_price, buy_now_price, status, created_at`

func (s *AuctionStore) CountLots(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auction_lots WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count lots: %w", err)
	}
	return n, nil
}

func (s *AuctionStore) InsertLot(ctx context.Context, l *model.Lot) (*model.Lot, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO auction_lots (session_id, sku_id, offer_id, name, rarity, start_price, buy_now_price, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		l.SessionID, l.SKUID, l.OfferID, l.Name, l.Rarity, l.StartPrice, nullInt64(l.BuyNowPrice), l.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert lot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetLot(ctx, id)
}

func (s *AuctionStore) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotCols+` FROM auction_lots WHERE id = ?`, id)
	l, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lot: %w", err)
	}
	return l, nil
}

func (s *AuctionStore) ListLots(ctx context.Context, sessionID int64) ([]model.Lot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lotCols+` FROM auction_lots WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

func (s *AuctionStore) SetLotStatus(ctx context.Context, id int64, status model.LotStatus) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE auction_lots SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("set lot status: %w", err)
	}
	return nil
}

// --- Bid methods ---

func scanBid(scanner interface{ Scan(...any) error }) (*model.Bid, error) {
	var b model.Bid
	err := scanner.Scan(&b.ID, &b.LotID, &b.BidderMemberID, &b.BidPoints, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const bidCols = `id, lot_id, bidder_member_id, bid_points, created_at, updated_at`

func (s *AuctionStore) GetBid(ctx context.Context, lotID, memberID int64) (*model.Bid, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bidCols+` FROM auction_bids WHERE lot_id = ? AND bidder_member_id = ?`, lotID, memberID)
	b, err := scanBid(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bid: %w", err)
	}
	return b, nil
}

// UpsertBid sets the member's standing bid on a lot. Raising a bid moves its
// bid time to now.
func (s *AuctionStore) UpsertBid(ctx context.Context, lotID, memberID, points int64, now time.Time) (*model.Bid, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO auction_bids (lot_id, bidder_member_id, bid_points, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (lot_id, bidder_member_id)
		 DO UPDATE SET bid_points = excluded.bid_points, updated_at = excluded.updated_at
		 RETURNING `+bidCols,
		lotID, memberID, points, now.UTC(), now.UTC(),
	)
	b, err := scanBid(row)
	if err != nil {
		return nil, fmt.Errorf("upsert bid: %w", err)
	}
	return b, nil
}

// ListBids returns a lot's bids ranked highest first, earliest bid time
// breaking ties.
func (s *AuctionStore) ListBids(ctx context.Context, lotID int64) ([]model.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bidCols+` FROM auction_bids WHERE lot_id = ? ORDER BY bid_points DESC, updated_at ASC, id ASC`,
		lotID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// --- Result methods ---

func scanResult(scanner interface{ Scan(...any) error }) (*model.AuctionResult, error) {
	var r model.AuctionResult
	var winner, winningBid, secondPrice, orderID sql.NullInt64
	err := scanner.Scan(&r.ID, &r.LotID, &r.SessionID, &winner, &winningBid, &r.PricePaid,
		&secondPrice, &orderID, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.WinnerMemberID = int64Ptr(winner)
	r.WinningBid = int64Ptr(winningBid)
	r.SecondPrice = int64Ptr(secondPrice)
	r.OrderID = int64Ptr(orderID)
	return &r, nil
}

const resultCols = `id, lot_id, session_id, winner_member_id, winning_bid, price_paid, second_price, order_id, status, created_at`

// InsertResult records a lot's settlement. The unique lot_id makes a second
// settlement of the same lot fail.
func (s *AuctionStore) InsertResult(ctx context.Context, r *model.AuctionResult) (*model.AuctionResult, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO auction_results (lot_id, session_id, winner_member_id, winning_bid, price_paid, second_price, order_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.LotID, r.SessionID, nullInt64(r.WinnerMemberID), nullInt64(r.WinningBid), r.PricePaid,
		nullInt64(r.SecondPrice), nullInt64(r.OrderID), r.Status, r.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert auction result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+resultCols+` FROM auction_results WHERE id = ?`, id)
	return scanResult(row)
}

func (s *AuctionStore) GetResultByLot(ctx context.Context, lotID int64) (*model.AuctionResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultCols+` FROM auction_results WHERE lot_id = ?`, lotID)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auction result: %w", err)
	}
	return r, nil
}

func (s *AuctionStore) ListResults(ctx context.Context, sessionID int64) ([]model.AuctionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultCols+` FROM auction_results WHERE session_id = ? ORDER BY lot_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list auction results: %w", err)
	}
	defer rows.Close()

	var results []model.AuctionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

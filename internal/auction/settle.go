package auction

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
)

// Outcome is the priced winner of a lot.
type Outcome struct {
	Winner    model.Bid
	Price     int64
	SecondBid *int64
}

// Resolve ranks bids by amount, then by earliest bid time, and prices the
// winner at one point over the best competing bid, capped at the winning bid.
// A lone bidder pays the start price. ok is false when there are no bids.
func Resolve(startPrice int64, bids []model.Bid) (out Outcome, ok bool) {
	if len(bids) == 0 {
		return Outcome{}, false
	}
	ranked := slices.Clone(bids)
	slices.SortFunc(ranked, func(a, b model.Bid) int {
		return cmp.Or(
			cmp.Compare(b.BidPoints, a.BidPoints),
			a.UpdatedAt.Compare(b.UpdatedAt),
			cmp.Compare(a.ID, b.ID),
		)
	})

	winner := ranked[0]
	rivals := lo.Filter(ranked[1:], func(b model.Bid, _ int) bool {
		return b.BidderMemberID != winner.BidderMemberID
	})
	if len(rivals) == 0 {
		return Outcome{Winner: winner, Price: startPrice}, true
	}
	second := rivals[0].BidPoints
	return Outcome{Winner: winner, Price: min(winner.BidPoints, second+1), SecondBid: &second}, true
}

// LotFailure is a lot that could not be settled. It stays pending.
type LotFailure struct {
	LotID int64  `json:"lot_id"`
	Error string `json:"error"`
}

// Settlement is the result set of a settle call: every settled or unsold lot
// of the session, plus the lots that failed this time.
type Settlement struct {
	SessionID int64                 `json:"session_id"`
	Results   []model.AuctionResult `json:"results"`
	Failed    []LotFailure          `json:"failed,omitempty"`
	fresh     []model.AuctionResult
}

// SettleSession ends the session and settles every pending lot. Each lot runs
// in its own savepoint, so a failing lot is reported without undoing the
// others, and a later call retries only what is still pending.
func (s *Service) SettleSession(ctx context.Context, familyID, ownerID, sessionID int64) (*Settlement, error) {
	if _, err := economy.RequireOwner(ctx, store.NewFamilyStore(s.db), familyID, ownerID); err != nil {
		return nil, err
	}
	return s.settle(ctx, familyID, sessionID)
}

func (s *Service) settle(ctx context.Context, familyID, sessionID int64) (*Settlement, error) {
	var res *Settlement
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res = &Settlement{SessionID: sessionID}
		auctions := store.NewAuctionStore(tx)
		sess, err := s.sessionTx(ctx, auctions, familyID, sessionID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case model.SessionActive:
			sess.Status = model.SessionEnded
			if err := auctions.UpdateSession(ctx, sess, s.now()); err != nil {
				return err
			}
		case model.SessionEnded:
		default:
			return economy.InvalidState("auction session", sess.ID, string(sess.Status), "settle")
		}

		lots, err := auctions.ListLots(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if lot.Status != model.LotPending {
				prior, err := auctions.GetResultByLot(ctx, lot.ID)
				if err != nil {
					return err
				}
				if prior != nil {
					res.Results = append(res.Results, *prior)
				}
				continue
			}

			var result *model.AuctionResult
			err := database.Savepoint(ctx, tx, fmt.Sprintf("settle_lot_%d", lot.ID), func() error {
				var err error
				result, err = s.settleLotTx(ctx, tx, sess, &lot)
				return err
			})
			if err != nil {
				if database.IsBusy(err) || ctx.Err() != nil {
					return err
				}
				res.Failed = append(res.Failed, LotFailure{LotID: lot.ID, Error: err.Error()})
				continue
			}
			res.Results = append(res.Results, *result)
			res.fresh = append(res.fresh, *result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range res.fresh {
		metrics.RecordLotSettlement(string(r.Status))
	}
	for _, f := range res.Failed {
		s.logger.Warn("lot settlement failed", "session_id", sessionID, "lot_id", f.LotID, "error", f.Error)
	}
	s.logger.Info("auction session settled", "session_id", sessionID,
		"settled", len(res.fresh), "results", len(res.Results), "failed", len(res.Failed))
	return res, nil
}

// settleLotTx settles one pending lot: unsold without bids, otherwise an
// auction order for the winner at the second price.
func (s *Service) settleLotTx(ctx context.Context, tx database.DBTX, sess *model.AuctionSession, lot *model.Lot) (*model.AuctionResult, error) {
	auctions := store.NewAuctionStore(tx)
	bids, err := auctions.ListBids(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	out, ok := Resolve(lot.StartPrice, bids)
	if !ok {
		if err := auctions.SetLotStatus(ctx, lot.ID, model.LotUnsold); err != nil {
			return nil, err
		}
		return auctions.InsertResult(ctx, &model.AuctionResult{
			LotID:     lot.ID,
			SessionID: sess.ID,
			Status:    model.LotUnsold,
			CreatedAt: s.now().UTC(),
		})
	}

	order, err := s.market.FulfillTx(ctx, tx, market.OrderRequest{
		FamilyID:       sess.FamilyID,
		MemberID:       out.Winner.BidderMemberID,
		OfferID:        lot.OfferID,
		Quantity:       1,
		IdempotencyKey: economy.DeriveKey("auction-settle", sess.ID, lot.ID),
		Source:         model.SourceAuction,
		UnitCost:       &out.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("fulfill lot %d for member %d: %w", lot.ID, out.Winner.BidderMemberID, err)
	}

	if err := auctions.SetLotStatus(ctx, lot.ID, model.LotSettled); err != nil {
		return nil, err
	}
	return auctions.InsertResult(ctx, &model.AuctionResult{
		LotID:          lot.ID,
		SessionID:      sess.ID,
		WinnerMemberID: &out.Winner.BidderMemberID,
		WinningBid:     &out.Winner.BidPoints,
		PricePaid:      out.Price,
		SecondPrice:    out.SecondBid,
		OrderID:        &order.Order.ID,
		Status:         model.LotSettled,
		CreatedAt:      s.now().UTC(),
	})
}

// BuyNowRequest buys a lot outright at its buy-now price.
type BuyNowRequest struct {
	FamilyID       int64
	MemberID       int64
	LotID          int64
	IdempotencyKey string
}

type BuyNowResult struct {
	Result     *model.AuctionResult `json:"result"`
	Order      *model.Order         `json:"order"`
	Idempotent bool                 `json:"idempotent"`
}

// BuyNow pays the lot's buy-now price through the marketplace and settles the
// lot at once. Replaying the key returns the original purchase.
func (s *Service) BuyNow(ctx context.Context, req BuyNowRequest) (*BuyNowResult, error) {
	if err := economy.ValidateKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	var res *BuyNowResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.buyNowTx(ctx, tx, req)
		return err
	})
	if err != nil && database.IsUniqueViolation(err) {
		res, err = s.replayBuyNow(ctx, s.db, req)
		if err == nil && res == nil {
			err = economy.InvalidState("lot", req.LotID, string(model.LotSettled), "buy")
		}
	}
	if err != nil {
		return nil, err
	}

	if res.Idempotent {
		metrics.RecordReplay("buy_now")
		return res, nil
	}
	metrics.RecordLotSettlement(string(model.LotSettled))
	s.logger.Info("lot bought outright", "lot_id", req.LotID, "member_id", req.MemberID, "price", res.Result.PricePaid)
	return res, nil
}

func (s *Service) buyNowTx(ctx context.Context, tx *sql.Tx, req BuyNowRequest) (*BuyNowResult, error) {
	if res, err := s.replayBuyNow(ctx, tx, req); err != nil || res != nil {
		return res, err
	}

	auctions := store.NewAuctionStore(tx)
	lot, sess, err := s.biddableTx(ctx, auctions, req.FamilyID, req.LotID, "buy")
	if err != nil {
		return nil, err
	}
	if lot.BuyNowPrice == nil {
		return nil, economy.InvalidState("lot", lot.ID, "no buy-now price", "buy")
	}

	order, err := s.market.FulfillTx(ctx, tx, market.OrderRequest{
		FamilyID:       req.FamilyID,
		MemberID:       req.MemberID,
		OfferID:        lot.OfferID,
		Quantity:       1,
		IdempotencyKey: req.IdempotencyKey,
		Source:         model.SourceAuction,
		UnitCost:       lot.BuyNowPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := auctions.SetLotStatus(ctx, lot.ID, model.LotSettled); err != nil {
		return nil, err
	}
	result, err := auctions.InsertResult(ctx, &model.AuctionResult{
		LotID:          lot.ID,
		SessionID:      sess.ID,
		WinnerMemberID: &req.MemberID,
		WinningBid:     lot.BuyNowPrice,
		PricePaid:      *lot.BuyNowPrice,
		OrderID:        &order.Order.ID,
		Status:         model.LotSettled,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &BuyNowResult{Result: result, Order: order.Order}, nil
}

// replayBuyNow returns the purchase an idempotency key already made, or nil.
func (s *Service) replayBuyNow(ctx context.Context, db database.DBTX, req BuyNowRequest) (*BuyNowResult, error) {
	order, err := store.NewOrderStore(db).GetByKey(ctx, req.FamilyID, req.IdempotencyKey)
	if err != nil || order == nil {
		return nil, err
	}
	if order.MemberID != req.MemberID || order.Source != model.SourceAuction {
		return nil, economy.ErrIdempotencyMismatch
	}
	result, err := store.NewAuctionStore(db).GetResultByLot(ctx, req.LotID)
	if err != nil {
		return nil, err
	}
	if result == nil || result.OrderID == nil || *result.OrderID != order.ID {
		return nil, economy.ErrIdempotencyMismatch
	}
	return &BuyNowResult{Result: result, Order: order, Idempotent: true}, nil
}

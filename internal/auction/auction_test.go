package auction

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/economytest"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/wallet"
)

func TestPrices(t *testing.T) {
	tests := []struct {
		base   int64
		rarity model.Rarity
		start  int64
		buyNow int64
	}{
		{100, model.RarityCommon, 50, 200},
		{100, model.RarityRare, 75, 300},
		{100, model.RarityEpic, 125, 500},
		{100, model.RarityLegendary, 250, 1000},
		{7, model.RarityCommon, 3, 14},
		{7, model.RarityRare, 5, 21},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.start, StartPrice(tt.base, tt.rarity), "start %d %s", tt.base, tt.rarity)
		assert.Equal(t, tt.buyNow, BuyNowPrice(tt.base, tt.rarity), "buy now %d %s", tt.base, tt.rarity)
	}
}

func TestResolve(t *testing.T) {
	t0 := economytest.Now
	bid := func(id, member, points int64, at time.Time) model.Bid {
		return model.Bid{ID: id, BidderMemberID: member, BidPoints: points, UpdatedAt: at}
	}

	t.Run("second price plus one", func(t *testing.T) {
		out, ok := Resolve(50, []model.Bid{bid(1, 3, 80, t0), bid(2, 1, 120, t0), bid(3, 2, 100, t0)})
		require.True(t, ok)
		assert.Equal(t, int64(1), out.Winner.BidderMemberID)
		assert.Equal(t, int64(101), out.Price)
		require.NotNil(t, out.SecondBid)
		assert.Equal(t, int64(100), *out.SecondBid)
	})

	t.Run("single bidder pays start price", func(t *testing.T) {
		out, ok := Resolve(80, []model.Bid{bid(1, 1, 80, t0)})
		require.True(t, ok)
		assert.Equal(t, int64(80), out.Price)
		assert.Nil(t, out.SecondBid)
	})

	t.Run("price capped at winning bid", func(t *testing.T) {
		out, ok := Resolve(10, []model.Bid{bid(1, 1, 150, t0), bid(2, 2, 149, t0)})
		require.True(t, ok)
		assert.Equal(t, int64(150), out.Price)
	})

	t.Run("tie goes to earliest bid", func(t *testing.T) {
		out, ok := Resolve(10, []model.Bid{bid(1, 1, 100, t0.Add(time.Second)), bid(2, 2, 100, t0)})
		require.True(t, ok)
		assert.Equal(t, int64(2), out.Winner.BidderMemberID)
		assert.Equal(t, int64(100), out.Price)
	})

	t.Run("no bids", func(t *testing.T) {
		_, ok := Resolve(10, nil)
		assert.False(t, ok)
	})
}

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
	w := wallet.NewService(db, c.Now, logger)
	m := market.NewService(db, w, c.Now, time.UTC, logger)
	svc := NewService(db, m, w, c.Now, logger).WithShuffle(func(int, func(i, j int)) {})
	return &fixture{db: db, svc: svc, fam: economytest.SeedFamily(t, db), clock: c}
}

// activeSession creates a running session with the given lots.
func (f *fixture) activeSession(t *testing.T, counts map[model.Rarity]int) (*model.AuctionSession, []model.Lot) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, f.fam.ID, f.fam.Owner.ID, "Saturday auction", 30)
	require.NoError(t, err)
	gen, err := f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, counts)
	require.NoError(t, err)
	_, err = f.svc.ScheduleSession(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, f.clock.now.Add(time.Hour))
	require.NoError(t, err)
	sess, err = f.svc.StartSession(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID)
	require.NoError(t, err)
	return sess, gen.Lots
}

func (f *fixture) bid(t *testing.T, member *model.Member, lotID, points int64) {
	t.Helper()
	_, err := f.svc.SubmitBid(context.Background(), BidRequest{
		FamilyID: f.fam.ID, MemberID: member.ID, LotID: lotID, Points: points,
	})
	require.NoError(t, err)
}

func (f *fixture) settle(t *testing.T, sessionID int64) *Settlement {
	t.Helper()
	res, err := f.svc.SettleSession(context.Background(), f.fam.ID, f.fam.Owner.ID, sessionID)
	require.NoError(t, err)
	return res
}

func TestGenerateLotsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.SKU(t, f.db, f.fam.ID, "Puzzle", model.SKUAuction, 40)
	economytest.SKU(t, f.db, f.fam.ID, "Movie night", model.SKUReward, 40)

	sess, err := f.svc.CreateSession(ctx, f.fam.ID, f.fam.Owner.ID, "Weekly", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDuration, sess.DurationMinutes)

	counts := map[model.Rarity]int{model.RarityCommon: 2, model.RarityLegendary: 1}
	first, err := f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, counts)
	require.NoError(t, err)
	assert.False(t, first.AlreadyGenerated)
	require.Len(t, first.Lots, 3)

	assert.Equal(t, "Kite", first.Lots[0].Name)
	assert.Equal(t, model.RarityCommon, first.Lots[0].Rarity)
	assert.Equal(t, int64(50), first.Lots[0].StartPrice)
	assert.Equal(t, "Puzzle", first.Lots[1].Name)
	assert.Equal(t, "Kite #2", first.Lots[2].Name)
	assert.Equal(t, model.RarityLegendary, first.Lots[2].Rarity)
	assert.Equal(t, int64(250), first.Lots[2].StartPrice)
	require.NotNil(t, first.Lots[2].BuyNowPrice)
	assert.Equal(t, int64(1000), *first.Lots[2].BuyNowPrice)
	assert.Equal(t, 3, economytest.Count(t, f.db, "offers", "kind = 'auction_lot' AND quantity = 1"))

	second, err := f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{model.RarityRare: 5})
	require.NoError(t, err)
	assert.True(t, second.AlreadyGenerated)
	assert.Equal(t, first.Lots, second.Lots)
	assert.Equal(t, 3, economytest.Count(t, f.db, "auction_lots", "session_id = ?", sess.ID))
}

func TestGenerateLotsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, f.fam.ID, f.fam.Owner.ID, "Weekly", 0)
	require.NoError(t, err)

	_, err = f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{model.RarityCommon: 1})
	assert.ErrorIs(t, err, economy.ErrValidation, "no auction skus")

	_, err = f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{})
	assert.ErrorIs(t, err, economy.ErrValidation)

	_, err = f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{"mythic": 1})
	assert.ErrorIs(t, err, economy.ErrValidation)

	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	_, err = f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Ann.ID, sess.ID, map[model.Rarity]int{model.RarityCommon: 1})
	assert.ErrorIs(t, err, economy.ErrMemberNotAllowed)
}

func TestSettleSecondPrice(t *testing.T) {
	f := newFixture(t)
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	for _, m := range []*model.Member{f.fam.Owner, f.fam.Ann, f.fam.Ben} {
		economytest.Credit(t, f.db, f.fam.ID, m.ID, 200)
	}
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 1})
	lot := lots[0]
	require.Equal(t, int64(50), lot.StartPrice)

	f.bid(t, f.fam.Ann, lot.ID, 120)
	f.bid(t, f.fam.Ben, lot.ID, 100)
	f.bid(t, f.fam.Owner, lot.ID, 80)

	res := f.settle(t, sess.ID)
	require.Len(t, res.Results, 1)
	assert.Empty(t, res.Failed)

	r := res.Results[0]
	assert.Equal(t, model.LotSettled, r.Status)
	assert.Equal(t, f.fam.Ann.ID, *r.WinnerMemberID)
	assert.Equal(t, int64(120), *r.WinningBid)
	assert.Equal(t, int64(101), r.PricePaid)
	assert.Equal(t, int64(100), *r.SecondPrice)
	require.NotNil(t, r.OrderID)

	assert.Equal(t, int64(99), economytest.Balance(t, f.db, f.fam.Ann.ID))
	assert.Equal(t, int64(200), economytest.Balance(t, f.db, f.fam.Ben.ID))
	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log",
		"related_order_id = ? AND reason_code = 'auction_win' AND points_change = -101", *r.OrderID))
	assert.Equal(t, 1, economytest.Count(t, f.db, "inventory_items", "member_id = ?", f.fam.Ann.ID))

	got, err := f.svc.GetSession(context.Background(), f.fam.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionEnded, got.Status)
}

func TestSettleSingleBidderAndUnsold(t *testing.T) {
	f := newFixture(t)
	economytest.SKU(t, f.db, f.fam.ID, "Skates", model.SKUAuction, 160)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 100)
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 2})
	require.Equal(t, int64(80), lots[0].StartPrice)

	f.bid(t, f.fam.Ann, lots[0].ID, 80)

	res := f.settle(t, sess.ID)
	require.Len(t, res.Results, 2)
	assert.Equal(t, model.LotSettled, res.Results[0].Status)
	assert.Equal(t, int64(80), res.Results[0].PricePaid)
	assert.Nil(t, res.Results[0].SecondPrice)

	assert.Equal(t, model.LotUnsold, res.Results[1].Status)
	assert.Nil(t, res.Results[1].OrderID)
	assert.Equal(t, 1, economytest.Count(t, f.db, "orders", "source = 'auction'"))
	assert.Equal(t, int64(20), economytest.Balance(t, f.db, f.fam.Ann.ID))
}

func TestSettleTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 200)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ben.ID, 200)
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 1, model.RarityRare: 1})
	f.bid(t, f.fam.Ann, lots[0].ID, 90)
	f.bid(t, f.fam.Ben, lots[0].ID, 70)

	first := f.settle(t, sess.ID)
	second := f.settle(t, sess.ID)
	assert.Equal(t, first.Results, second.Results)
	assert.Empty(t, second.Failed)

	assert.Equal(t, 1, economytest.Count(t, f.db, "orders", "source = 'auction'"))
	assert.Equal(t, 1, economytest.Count(t, f.db, "points_log", "reason_code = 'auction_win'"))
	assert.Equal(t, 2, economytest.Count(t, f.db, "auction_results", "session_id = ?", sess.ID))
	assert.Equal(t, int64(129), economytest.Balance(t, f.db, f.fam.Ann.ID))
}

func TestSettleKeepsEarlierLotsWhenOneFails(t *testing.T) {
	f := newFixture(t)
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 90)
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 2})

	f.bid(t, f.fam.Ann, lots[0].ID, 60)
	f.bid(t, f.fam.Ann, lots[1].ID, 60)

	res := f.settle(t, sess.ID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, lots[0].ID, res.Results[0].LotID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, lots[1].ID, res.Failed[0].LotID)
	assert.Equal(t, int64(40), economytest.Balance(t, f.db, f.fam.Ann.ID))

	pending, err := f.svc.ListLots(context.Background(), f.fam.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LotSettled, pending[0].Status)
	assert.Equal(t, model.LotPending, pending[1].Status)

	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 100)
	retry := f.settle(t, sess.ID)
	assert.Len(t, retry.Results, 2)
	assert.Empty(t, retry.Failed)
	assert.Equal(t, int64(90), economytest.Balance(t, f.db, f.fam.Ann.ID))
}

func TestSubmitBidRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 100)
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 1})
	lot := lots[0]

	place := func(points int64) error {
		_, err := f.svc.SubmitBid(ctx, BidRequest{FamilyID: f.fam.ID, MemberID: f.fam.Ann.ID, LotID: lot.ID, Points: points})
		return err
	}

	var low *economy.BidTooLowError
	require.ErrorAs(t, place(49), &low)
	assert.Equal(t, int64(50), low.Minimum)

	require.NoError(t, place(60))
	require.ErrorAs(t, place(60), &low)
	assert.Equal(t, int64(61), low.Minimum)

	assert.ErrorIs(t, place(101), economy.ErrInsufficientBalance)

	f.clock.now = f.clock.now.Add(time.Second)
	require.NoError(t, place(70))
	bids := economytest.Count(t, f.db, "auction_bids", "lot_id = ? AND bid_points = 70", lot.ID)
	assert.Equal(t, 1, bids)

	other := economytest.SeedFamily(t, f.db)
	_, err := f.svc.SubmitBid(ctx, BidRequest{FamilyID: other.ID, MemberID: other.Ann.ID, LotID: lot.ID, Points: 80})
	assert.ErrorIs(t, err, economy.ErrNotFound)

	f.clock.now = *sess.EndsAt
	assert.ErrorIs(t, place(80), economy.ErrExpired)
}

func TestSubmitBidNeedsActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 100)
	sess, err := f.svc.CreateSession(ctx, f.fam.ID, f.fam.Owner.ID, "Draft", 0)
	require.NoError(t, err)
	gen, err := f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{model.RarityCommon: 1})
	require.NoError(t, err)

	_, err = f.svc.SubmitBid(ctx, BidRequest{FamilyID: f.fam.ID, MemberID: f.fam.Ann.ID, LotID: gen.Lots[0].ID, Points: 60})
	assert.ErrorIs(t, err, economy.ErrInvalidState)

	_, err = f.svc.StartSession(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState, "draft sessions must be scheduled first")

	_, err = f.svc.SettleSession(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID)
	assert.ErrorIs(t, err, economy.ErrInvalidState)
}

func TestBuyNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 500)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ben.ID, 500)
	sess, lots := f.activeSession(t, map[model.Rarity]int{model.RarityCommon: 1})
	lot := lots[0]
	f.bid(t, f.fam.Ben, lot.ID, 60)

	req := BuyNowRequest{FamilyID: f.fam.ID, MemberID: f.fam.Ann.ID, LotID: lot.ID, IdempotencyKey: "buy-kite"}
	first, err := f.svc.BuyNow(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)
	assert.Equal(t, int64(200), first.Result.PricePaid)
	assert.Nil(t, first.Result.SecondPrice)
	assert.Equal(t, model.SourceAuction, first.Order.Source)

	again, err := f.svc.BuyNow(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, int64(300), economytest.Balance(t, f.db, f.fam.Ann.ID))

	_, err = f.svc.BuyNow(ctx, BuyNowRequest{FamilyID: f.fam.ID, MemberID: f.fam.Ben.ID, LotID: lot.ID, IdempotencyKey: "ben-kite"})
	assert.ErrorIs(t, err, economy.ErrInvalidState)

	res := f.settle(t, sess.ID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, first.Result.ID, res.Results[0].ID)
	assert.Equal(t, 1, economytest.Count(t, f.db, "orders", "source = 'auction'"))
	assert.Equal(t, int64(500), economytest.Balance(t, f.db, f.fam.Ben.ID))
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	economytest.SKU(t, f.db, f.fam.ID, "Kite", model.SKUAuction, 100)
	economytest.Credit(t, f.db, f.fam.ID, f.fam.Ann.ID, 100)

	sess, err := f.svc.CreateSession(ctx, f.fam.ID, f.fam.Owner.ID, "Timed", 30)
	require.NoError(t, err)
	gen, err := f.svc.GenerateLots(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, map[model.Rarity]int{model.RarityCommon: 1})
	require.NoError(t, err)
	start := f.clock.now.Add(10 * time.Minute)
	_, err = f.svc.ScheduleSession(ctx, f.fam.ID, f.fam.Owner.ID, sess.ID, start)
	require.NoError(t, err)

	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)

	f.clock.now = start.Add(time.Minute)
	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Started: 1}, report)

	got, err := f.svc.GetSession(ctx, f.fam.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.Status)
	require.NotNil(t, got.EndsAt)
	assert.True(t, got.EndsAt.Equal(start.Add(30*time.Minute)))

	f.bid(t, f.fam.Ann, gen.Lots[0].ID, 55)

	f.clock.now = start.Add(31 * time.Minute)
	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Settled: 1}, report)
	assert.Equal(t, int64(50), economytest.Balance(t, f.db, f.fam.Ann.ID))

	results, err := f.svc.ListResults(ctx, f.fam.ID, sess.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

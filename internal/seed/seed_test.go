package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/economytest"
	"github.com/zy54321/after-school/internal/lottery"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

func TestParseRejectsBadFixtures(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "family: A\ncolour: red\nmembers: [{name: Mom, role: owner}]\n",
		"no family":       "members: [{name: Mom, role: owner}]\n",
		"no owner":        "family: A\nmembers: [{name: Ann}]\n",
		"duplicate names": "family: A\nmembers: [{name: Mom, role: owner}, {name: Mom}]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyFixture(t *testing.T) {
	db := economytest.OpenDB(t)
	ctx := context.Background()
	clock := economy.FixedClock(economytest.Now)
	logger := economytest.Logger()

	w := wallet.NewService(db, clock, logger)
	m := market.NewService(db, w, clock, time.UTC, logger)
	l := lottery.NewService(db, w, m, clock, time.UTC, logger)

	f, err := LoadFile("testdata/family.yaml")
	require.NoError(t, err)

	res, err := NewSeeder(store.NewFamilyStore(db), w, m, l).Apply(ctx, f)
	require.NoError(t, err)

	assert.Len(t, res.Members, 3)
	assert.Equal(t, int64(120), economytest.Balance(t, db, res.Members["Ann"]))
	assert.Equal(t, int64(40), economytest.Balance(t, db, res.Members["Ben"]))

	offers, err := m.ListOffers(ctx, res.FamilyID)
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	detail, err := l.GetPool(ctx, res.FamilyID, res.Pools["Friday wheel"])
	require.NoError(t, err)
	assert.Equal(t, model.PoolActive, detail.Pool.Status)
	require.NotNil(t, detail.Current)
	assert.Len(t, detail.Current.Prizes, 3)
	assert.Equal(t, int64(100), detail.Current.TotalWeight)

	// The seeded wheel is playable.
	tt := &model.TicketType{ID: res.TicketTypes["Wheel ticket"], FamilyID: res.FamilyID, SKUID: res.SKUs["Wheel ticket"]}
	economytest.GiveTickets(t, db, tt, res.Members["Ann"], 1)
	spin, err := l.WithRoll(func(int64) int64 { return 0 }).Spin(ctx, lottery.SpinRequest{
		FamilyID:       res.FamilyID,
		MemberID:       res.Members["Ann"],
		PoolID:         res.Pools["Friday wheel"],
		IdempotencyKey: "seeded-spin",
	})
	require.NoError(t, err)
	assert.Equal(t, "Five points", spin.Log.PrizeName)
}

func TestApplyUnknownReference(t *testing.T) {
	db := economytest.OpenDB(t)
	clock := economy.FixedClock(economytest.Now)
	logger := economytest.Logger()
	w := wallet.NewService(db, clock, logger)
	m := market.NewService(db, w, clock, time.UTC, logger)
	l := lottery.NewService(db, w, m, clock, time.UTC, logger)

	f, err := Parse(strings.NewReader(`
family: A
members:
  - {name: Mom, role: owner}
ticket_types:
  - {name: Ghost, sku: Missing}
`))
	require.NoError(t, err)

	_, err = NewSeeder(store.NewFamilyStore(db), w, m, l).Apply(context.Background(), f)
	assert.ErrorContains(t, err, `unknown sku "Missing"`)
}

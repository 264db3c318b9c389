// Package seed loads a family, its catalog and its draw pools from a YAML
// fixture, going through the economy services so every rule still applies.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/lottery"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/model"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

type Fixture struct {
	Family      string       `yaml:"family"`
	Members     []Member     `yaml:"members"`
	SKUs        []SKU        `yaml:"skus"`
	TicketTypes []TicketType `yaml:"ticket_types"`
	Pools       []Pool       `yaml:"pools"`
}

type Member struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Points int64  `yaml:"points"`
}

type SKU struct {
	Name     string          `yaml:"name"`
	Type     model.SKUType   `yaml:"type"`
	BaseCost int64           `yaml:"base_cost"`
	Limit    model.LimitType `yaml:"limit_type"`
	LimitMax int64           `yaml:"limit_max"`
	Offer    *Offer          `yaml:"offer"`
}

type Offer struct {
	Cost     int64  `yaml:"cost"`
	Quantity *int64 `yaml:"quantity"`
}

type TicketType struct {
	Name string `yaml:"name"`
	SKU  string `yaml:"sku"`
}

type Pool struct {
	Name              string  `yaml:"name"`
	TicketType        string  `yaml:"ticket_type"`
	TicketsPerDraw    int64   `yaml:"tickets_per_draw"`
	DailyLimit        int64   `yaml:"daily_limit"`
	WeeklyLimit       int64   `yaml:"weekly_limit"`
	Prizes            []Prize `yaml:"prizes"`
	MinGuaranteeCount *int64  `yaml:"min_guarantee_count"`
	GuaranteeIndex    *int    `yaml:"guarantee_index"`
	Active            bool    `yaml:"active"`
}

// Prize names its SKU or ticket type instead of using ids.
type Prize struct {
	Name       string          `yaml:"name"`
	Type       model.PrizeType `yaml:"type"`
	Value      int64           `yaml:"value"`
	Weight     int64           `yaml:"weight"`
	SKU        string          `yaml:"sku"`
	TicketType string          `yaml:"ticket_type"`
}

// Parse decodes a fixture, rejecting unknown keys.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func LoadFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

func (f *Fixture) validate() error {
	if f.Family == "" {
		return errors.New("fixture: family is required")
	}
	owners := 0
	seen := map[string]bool{}
	for _, m := range f.Members {
		if m.Name == "" {
			return errors.New("fixture: member name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("fixture: duplicate member %q", m.Name)
		}
		seen[m.Name] = true
		if m.Role == model.RoleOwner {
			owners++
		}
	}
	if owners == 0 {
		return errors.New("fixture: at least one owner is required")
	}
	return nil
}

// Result maps fixture names to the ids they were created with.
type Result struct {
	FamilyID    int64            `json:"family_id"`
	Members     map[string]int64 `json:"members"`
	SKUs        map[string]int64 `json:"skus"`
	TicketTypes map[string]int64 `json:"ticket_types"`
	Pools       map[string]int64 `json:"pools"`
}

type Seeder struct {
	families *store.FamilyStore
	wallet   *wallet.Service
	market   *market.Service
	lottery  *lottery.Service
}

func NewSeeder(fs *store.FamilyStore, w *wallet.Service, m *market.Service, l *lottery.Service) *Seeder {
	return &Seeder{families: fs, wallet: w, market: m, lottery: l}
}

// Apply creates a new family from the fixture. Each call creates a fresh
// family; starting points use derived idempotency keys within it.
func (s *Seeder) Apply(ctx context.Context, f *Fixture) (*Result, error) {
	fam, err := s.families.CreateFamily(ctx, f.Family)
	if err != nil {
		return nil, err
	}
	res := &Result{
		FamilyID:    fam.ID,
		Members:     map[string]int64{},
		SKUs:        map[string]int64{},
		TicketTypes: map[string]int64{},
		Pools:       map[string]int64{},
	}

	var ownerID int64
	for _, m := range f.Members {
		role := m.Role
		if role == "" {
			role = model.RoleMember
		}
		member, err := s.families.CreateMember(ctx, fam.ID, m.Name, role)
		if err != nil {
			return nil, err
		}
		res.Members[m.Name] = member.ID
		if role == model.RoleOwner && ownerID == 0 {
			ownerID = member.ID
		}
	}

	for _, m := range f.Members {
		if m.Points == 0 {
			continue
		}
		key := economy.DeriveKey("seed-points", fam.ID, m.Name)
		if _, err := s.wallet.Grant(ctx, fam.ID, ownerID, res.Members[m.Name], m.Points, "starting balance", key); err != nil {
			return nil, fmt.Errorf("seed points for %s: %w", m.Name, err)
		}
	}

	for _, sk := range f.SKUs {
		sku, err := s.market.CreateSKU(ctx, fam.ID, ownerID, market.SKURequest{
			Name:      sk.Name,
			Type:      sk.Type,
			BaseCost:  sk.BaseCost,
			LimitType: sk.Limit,
			LimitMax:  sk.LimitMax,
		})
		if err != nil {
			return nil, fmt.Errorf("seed sku %s: %w", sk.Name, err)
		}
		res.SKUs[sk.Name] = sku.ID
		if sk.Offer == nil {
			continue
		}
		if _, err := s.market.CreateOffer(ctx, fam.ID, ownerID, market.OfferRequest{
			SKUID:    sku.ID,
			Cost:     sk.Offer.Cost,
			Quantity: sk.Offer.Quantity,
		}); err != nil {
			return nil, fmt.Errorf("seed offer for %s: %w", sk.Name, err)
		}
	}

	for _, tt := range f.TicketTypes {
		skuID, ok := res.SKUs[tt.SKU]
		if !ok {
			return nil, fmt.Errorf("seed ticket type %s: unknown sku %q", tt.Name, tt.SKU)
		}
		created, err := s.market.CreateTicketType(ctx, fam.ID, ownerID, tt.Name, skuID)
		if err != nil {
			return nil, fmt.Errorf("seed ticket type %s: %w", tt.Name, err)
		}
		res.TicketTypes[tt.Name] = created.ID
	}

	for _, p := range f.Pools {
		id, err := s.pool(ctx, fam.ID, ownerID, p, res)
		if err != nil {
			return nil, fmt.Errorf("seed pool %s: %w", p.Name, err)
		}
		res.Pools[p.Name] = id
	}
	return res, nil
}

func (s *Seeder) pool(ctx context.Context, familyID, ownerID int64, p Pool, res *Result) (int64, error) {
	req := lottery.PoolRequest{
		Name:           p.Name,
		TicketsPerDraw: p.TicketsPerDraw,
		DailyLimit:     p.DailyLimit,
		WeeklyLimit:    p.WeeklyLimit,
	}
	if p.TicketType != "" {
		id, ok := res.TicketTypes[p.TicketType]
		if !ok {
			return 0, fmt.Errorf("unknown ticket type %q", p.TicketType)
		}
		req.EntryTicketTypeID = &id
	}
	pool, err := s.lottery.CreatePool(ctx, familyID, ownerID, req)
	if err != nil {
		return 0, err
	}
	if len(p.Prizes) == 0 {
		return pool.ID, nil
	}

	prizes := make([]model.Prize, 0, len(p.Prizes))
	for _, pr := range p.Prizes {
		prize := model.Prize{Name: pr.Name, Type: pr.Type, Value: pr.Value, Weight: pr.Weight}
		if pr.SKU != "" {
			id, ok := res.SKUs[pr.SKU]
			if !ok {
				return 0, fmt.Errorf("prize %s: unknown sku %q", pr.Name, pr.SKU)
			}
			prize.SKUID = &id
		}
		if pr.TicketType != "" {
			id, ok := res.TicketTypes[pr.TicketType]
			if !ok {
				return 0, fmt.Errorf("prize %s: unknown ticket type %q", pr.Name, pr.TicketType)
			}
			prize.TicketTypeID = &id
		}
		prizes = append(prizes, prize)
	}
	if _, err := s.lottery.PublishVersion(ctx, familyID, ownerID, pool.ID, lottery.VersionRequest{
		Prizes:            prizes,
		MinGuaranteeCount: p.MinGuaranteeCount,
		GuaranteeIndex:    p.GuaranteeIndex,
	}); err != nil {
		return 0, err
	}
	if p.Active {
		if err := s.lottery.SetPoolStatus(ctx, familyID, ownerID, pool.ID, model.PoolActive); err != nil {
			return 0, err
		}
	}
	return pool.ID, nil
}

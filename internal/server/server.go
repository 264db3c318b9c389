package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/zy54321/after-school/internal/auction"
	"github.com/zy54321/after-school/internal/bounty"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/handler"
	"github.com/zy54321/after-school/internal/lottery"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/metrics"
	"github.com/zy54321/after-school/internal/middleware"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
	ws "github.com/zy54321/after-school/internal/websocket"
)

// Options tunes the economy services and the HTTP surface.
type Options struct {
	// Location computes daily, weekly and monthly limit windows.
	Location *time.Location
	Clock    economy.Clock
	// SpinRate and SpinBurst limit spins and bids per member.
	SpinRate  float64
	SpinBurst int
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	families    *store.FamilyStore
	auction     *auction.Service
	memberH     *handler.FamilyMemberHandler
	walletH     *handler.WalletHandler
	marketH     *handler.MarketHandler
	auctionH    *handler.AuctionHandler
	lotteryH    *handler.LotteryHandler
	bountyH     *handler.BountyHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, opts Options, logger *slog.Logger) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = economy.SystemClock
	}
	if opts.SpinRate <= 0 {
		opts.SpinRate = 2
	}
	if opts.SpinBurst <= 0 {
		opts.SpinBurst = 5
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	families := store.NewFamilyStore(db)

	walletSvc := wallet.NewService(db, opts.Clock, logger.With("component", "wallet"))
	marketSvc := market.NewService(db, walletSvc, opts.Clock, opts.Location, logger.With("component", "market"))
	auctionSvc := auction.NewService(db, marketSvc, walletSvc, opts.Clock, logger.With("component", "auction"))
	lotterySvc := lottery.NewService(db, walletSvc, marketSvc, opts.Clock, opts.Location, logger.With("component", "lottery"))
	bountySvc := bounty.NewService(db, walletSvc, opts.Clock, logger.With("component", "bounty"))

	return &Server{
		db:          db,
		hub:         hub,
		families:    families,
		auction:     auctionSvc,
		memberH:     handler.NewFamilyMemberHandler(families, hub, logger.With("component", "member_handler")),
		walletH:     handler.NewWalletHandler(walletSvc, families, hub, logger.With("component", "wallet_handler")),
		marketH:     handler.NewMarketHandler(marketSvc, families, hub, logger.With("component", "market_handler")),
		auctionH:    handler.NewAuctionHandler(auctionSvc, hub, logger.With("component", "auction_handler")),
		lotteryH:    handler.NewLotteryHandler(lotterySvc, hub, logger.With("component", "lottery_handler")),
		bountyH:     handler.NewBountyHandler(bountySvc, hub, logger.With("component", "bounty_handler")),
		rateLimiter: middleware.NewRateLimiter(opts.SpinRate, opts.SpinBurst),
		logger:      logger,
	}
}

// Auction returns the auction service for the sweep scheduler.
func (s *Server) Auction() *auction.Service {
	return s.auction
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", metrics.Handler())

	// Everything else needs gateway identity headers
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	identity := middleware.RequireIdentity(s.families, s.logger.With("component", "identity"))
	outerMux.Handle("/", identity(protectedMux))

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(metrics.InstrumentHandler(outerMux))
	return middleware.RequestID(logged)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func chain(h http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var out http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	owner := middleware.RequireOwner
	pin := middleware.RequirePIN(s.families, s.logger.With("component", "pin"))
	limited := middleware.RateLimit(s.rateLimiter, middleware.MemberKey)

	// Family members
	mux.HandleFunc("GET /api/members", s.memberH.List)
	mux.Handle("POST /api/members", chain(s.memberH.Create, owner))
	mux.Handle("PUT /api/members/{id}/active", chain(s.memberH.SetActive, owner))
	mux.HandleFunc("POST /api/members/{id}/pin", s.memberH.SetPIN)
	mux.HandleFunc("DELETE /api/members/{id}/pin", s.memberH.ClearPIN)

	// Wallet
	mux.HandleFunc("GET /api/members/{id}/balance", s.walletH.Balance)
	mux.HandleFunc("GET /api/members/{id}/ledger", s.walletH.History)
	mux.Handle("POST /api/members/{id}/grants", chain(s.walletH.Grant, owner))
	mux.HandleFunc("GET /api/leaderboard", s.walletH.Leaderboard)

	// Marketplace
	mux.HandleFunc("GET /api/skus", s.marketH.ListSKUs)
	mux.Handle("POST /api/skus", chain(s.marketH.CreateSKU, owner))
	mux.HandleFunc("GET /api/offers", s.marketH.ListOffers)
	mux.Handle("POST /api/offers", chain(s.marketH.CreateOffer, owner))
	mux.Handle("PUT /api/offers/{id}/active", chain(s.marketH.SetOfferActive, owner))
	mux.Handle("POST /api/ticket-types", chain(s.marketH.CreateTicketType, owner))
	mux.Handle("POST /api/orders", chain(s.marketH.CreateOrder, pin))
	mux.HandleFunc("GET /api/members/{id}/orders", s.marketH.Orders)
	mux.HandleFunc("GET /api/members/{id}/inventory", s.marketH.Inventory)

	// Auctions
	mux.HandleFunc("GET /api/auctions", s.auctionH.ListSessions)
	mux.Handle("POST /api/auctions", chain(s.auctionH.CreateSession, owner))
	mux.HandleFunc("GET /api/auctions/{id}", s.auctionH.GetSession)
	mux.Handle("POST /api/auctions/{id}/lots", chain(s.auctionH.GenerateLots, owner))
	mux.HandleFunc("GET /api/auctions/{id}/lots", s.auctionH.ListLots)
	mux.HandleFunc("GET /api/auctions/{id}/results", s.auctionH.ListResults)
	mux.Handle("POST /api/auctions/{id}/schedule", chain(s.auctionH.ScheduleSession, owner))
	mux.Handle("POST /api/auctions/{id}/start", chain(s.auctionH.StartSession, owner))
	mux.Handle("POST /api/auctions/{id}/end", chain(s.auctionH.EndSession, owner))
	mux.Handle("POST /api/auctions/{id}/settle", chain(s.auctionH.SettleSession, owner))
	mux.Handle("POST /api/lots/{id}/bids", chain(s.auctionH.SubmitBid, limited))
	mux.Handle("POST /api/lots/{id}/buy-now", chain(s.auctionH.BuyNow, pin))

	// Lottery
	mux.HandleFunc("GET /api/pools", s.lotteryH.ListPools)
	mux.Handle("POST /api/pools", chain(s.lotteryH.CreatePool, owner))
	mux.HandleFunc("GET /api/pools/{id}", s.lotteryH.GetPool)
	mux.Handle("POST /api/pools/{id}/versions", chain(s.lotteryH.PublishVersion, owner))
	mux.Handle("PUT /api/pools/{id}/status", chain(s.lotteryH.SetPoolStatus, owner))
	mux.HandleFunc("GET /api/pool-versions/{id}", s.lotteryH.GetVersion)
	mux.Handle("POST /api/pools/{id}/spin", chain(s.lotteryH.Spin, limited))
	mux.HandleFunc("GET /api/pools/{id}/draws", s.lotteryH.History)

	// Bounty board
	mux.HandleFunc("GET /api/tasks", s.bountyH.List)
	mux.Handle("POST /api/tasks", chain(s.bountyH.Publish, pin))
	mux.HandleFunc("GET /api/tasks/{id}", s.bountyH.Get)
	mux.HandleFunc("POST /api/tasks/{id}/claim", s.bountyH.Claim)
	mux.HandleFunc("POST /api/tasks/{id}/submit", s.bountyH.Submit)
	mux.HandleFunc("POST /api/tasks/{id}/review", s.bountyH.Review)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.bountyH.Cancel)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}

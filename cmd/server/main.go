package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/synthex/issuance-engine/internal/bank"
	"github.com/synthex/issuance-engine/internal/engine"
	"github.com/synthex/issuance-engine/internal/fixedpoint"
	"github.com/synthex/issuance-engine/internal/metrics"
	"github.com/synthex/issuance-engine/internal/model"
	"github.com/synthex/issuance-engine/internal/oracle"
	"github.com/synthex/issuance-engine/internal/store"
)

const custodianAccount = "engine-custody"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Asset registry ---
	// COLLATERAL_ASSETS is "SYMBOL:feed-id,SYMBOL:feed-id", ordered; order
	// defines collateral-valuation iteration order.
	registry, err := parseRegistry(os.Getenv("COLLATERAL_ASSETS"))
	if err != nil {
		slog.Error("invalid COLLATERAL_ASSETS", "err", err)
		os.Exit(1)
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis (price feed + store cache) ---
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Price feed ---
	// With Redis configured, prices come from the oracle relay keys; the
	// feed enforces freshness. Otherwise STATIC_PRICES seeds a static feed
	// for development.
	var feed oracle.Feed
	if rdb != nil {
		maxAge := 5 * time.Minute
		if v := os.Getenv("PRICE_MAX_AGE"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				slog.Error("invalid PRICE_MAX_AGE", "err", err)
				os.Exit(1)
			}
			maxAge = d
		}
		feed = oracle.NewRedisFeed(rdb, maxAge)
		slog.Info("using Redis price feed", "max_age", maxAge)
	} else {
		static := oracle.NewStaticFeed()
		if err := seedStaticPrices(static, os.Getenv("STATIC_PRICES")); err != nil {
			slog.Error("invalid STATIC_PRICES", "err", err)
			os.Exit(1)
		}
		feed = static
		slog.Warn("REDIS_URL not set, using static price feed (development only)")
	}

	// --- Store ---
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis journal cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Token collaborators ---
	// Single-node deployments run the collateral assets and the issued
	// unit as in-process ledgers.
	assets := make(map[string]bank.Asset, len(registry))
	ledgers := make([]*bank.Ledger, 0, len(registry))
	for _, a := range registry {
		l := bank.NewLedger(a.Symbol, custodianAccount)
		assets[a.Symbol] = l
		ledgers = append(ledgers, l)
	}
	unit := bank.NewLedger("SYNTH", custodianAccount)

	// DEV_FUND seeds wallet balances on every collateral ledger so deposits
	// can be exercised without real token rails. Development only.
	if fund := os.Getenv("DEV_FUND"); fund != "" {
		if err := seedDevFunding(ledgers, fund); err != nil {
			slog.Error("invalid DEV_FUND", "err", err)
			os.Exit(1)
		}
	}

	// --- WebSocket hub ---
	hub := engine.NewHub()
	go hub.Run()

	// --- Engine ---
	eng, err := engine.New(engine.Config{
		Registry:  registry,
		Assets:    assets,
		Unit:      unit,
		Feed:      feed,
		Store:     st,
		Hub:       hub,
		Custodian: custodianAccount,
	})
	if err != nil {
		slog.Error("engine construction failed", "err", err)
		os.Exit(1)
	}
	if err := eng.LoadState(context.Background()); err != nil {
		slog.Error("state reload failed", "err", err)
		os.Exit(1)
	}

	svc := engine.NewService(eng)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"issuance-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time ledger events.
		r.Get("/ws", hub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("issuance-engine listening", "port", port, "assets", len(registry))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down issuance-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("issuance-engine stopped")
}

// parseRegistry parses "WETH:eth-usd,WBTC:btc-usd" into an ordered registry.
func parseRegistry(s string) ([]model.Asset, error) {
	if strings.TrimSpace(s) == "" {
		// Development default.
		return []model.Asset{
			{Symbol: "WETH", FeedID: "eth-usd"},
			{Symbol: "WBTC", FeedID: "btc-usd"},
		}, nil
	}
	var registry []model.Asset
	for _, part := range strings.Split(s, ",") {
		symbol, feedID, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || symbol == "" || feedID == "" {
			return nil, fmt.Errorf("malformed entry %q (want SYMBOL:feed-id)", part)
		}
		registry = append(registry, model.Asset{Symbol: symbol, FeedID: feedID})
	}
	return registry, nil
}

// seedDevFunding parses "alice=100,bob=50" and credits each account with
// that amount on every collateral ledger.
func seedDevFunding(ledgers []*bank.Ledger, s string) error {
	for _, part := range strings.Split(s, ",") {
		account, amountS, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || account == "" {
			return fmt.Errorf("malformed entry %q (want account=amount)", part)
		}
		amount, err := fixedpoint.Parse(amountS)
		if err != nil {
			return fmt.Errorf("account %s: %w", account, err)
		}
		for _, l := range ledgers {
			l.Credit(account, amount.Clone())
		}
		slog.Info("funded development account", "account", account, "amount", amountS)
	}
	return nil
}

// seedStaticPrices parses "eth-usd=2000,btc-usd=60000.25" and seeds the
// static feed with 8-digit fixed-point prices.
func seedStaticPrices(feed *oracle.StaticFeed, s string) error {
	if strings.TrimSpace(s) == "" {
		feed.Set("eth-usd", decimal.NewFromInt(2000).Shift(8).BigInt())
		feed.Set("btc-usd", decimal.NewFromInt(60000).Shift(8).BigInt())
		return nil
	}
	for _, part := range strings.Split(s, ",") {
		feedID, priceS, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || feedID == "" {
			return fmt.Errorf("malformed entry %q (want feed-id=price)", part)
		}
		d, err := decimal.NewFromString(priceS)
		if err != nil {
			return fmt.Errorf("malformed price %q: %w", priceS, err)
		}
		scaled := d.Shift(8)
		if !scaled.IsInteger() {
			return fmt.Errorf("price %q has more than 8 fractional digits", priceS)
		}
		feed.Set(feedID, scaled.BigInt())
	}
	return nil
}

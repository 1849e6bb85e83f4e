// PolyDearboard trader-analytics server — ingests on-chain order-fill and
// market-resolution events for an on-chain prediction-market exchange,
// stores them in ClickHouse, and serves a REST + WebSocket API for trader
// leaderboards, positions, PnL history, and curated-trader convergence
// signals.
//
// Architecture:
//
//	main.go                     — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/ingest             — WSSubscriber (live chain log subscription) + WebhookIngress (indexer callback backfill)
//	internal/decode             — raw log → domain event decoding
//	internal/market             — MarketCache: token id → question/condition-id metadata, warmed from the Gamma API
//	internal/broadcast          — lossy pub/sub fan-out from ingestion to WebSocket gateways
//	internal/convergence        — per-connection curated-trader convergence detector
//	internal/analytics          — ClickHouse-backed query layer serving every REST endpoint
//	internal/auth               — EIP-712 sign-in, JWT sessions, SQLite-backed trader-list storage
//	internal/api                — chi router, REST handlers, WebSocket gateways
//	internal/chstore            — ClickHouse connection pool
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polydearboard/internal/analytics"
	"polydearboard/internal/api"
	"polydearboard/internal/auth"
	"polydearboard/internal/broadcast"
	"polydearboard/internal/chstore"
	"polydearboard/internal/config"
	"polydearboard/internal/ingest"
	"polydearboard/internal/market"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	db, err := chstore.Open(cfg.ClickHouse)
	if err != nil {
		logger.Error("failed to open clickhouse", "error", err)
		os.Exit(1)
	}
	defer db.Conn.Close()

	cache := market.New(cfg.API.GammaURL, logger)
	query := analytics.New(db, cache, logger)
	leaderboardCache := analytics.NewLeaderboardCache(query)

	refreshMarketCache(context.Background(), db, cache, query, logger)

	hub := broadcast.New()

	store, err := auth.Open(cfg.Store.UserDBPath, cfg.Auth.JWTSecret, config.JWTExpiry)
	if err != nil {
		logger.Error("failed to open auth store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	wsSub := ingest.New(cfg.Chain.WSURL, cfg.Chain.RPCURL, cache, hub, logger)
	webhook := ingest.NewWebhookIngress(cfg.Chain.WebhookSecret, cache, hub, wsSub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wsSub.Run(ctx)
	go runMarketCacheRefresh(ctx, db, cache, query, logger)
	go leaderboardCache.RunWarmer(ctx, logger)

	server := api.NewServer(*cfg, query, leaderboardCache, store, hub, wsSub, webhook, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("polydearboard server started", "port", cfg.API.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
}

// marketCacheRefreshInterval is how often the warm pass re-runs after
// startup, per the documented 10-minute refresh cadence.
const marketCacheRefreshInterval = 10 * time.Minute

// refreshMarketCache runs one full warm cycle: paginate the catalog API for
// every distinct asset id the analytics DB has seen, then repopulate the
// resolved-price table from the freshly warmed cache. Both steps log and
// continue on failure rather than aborting startup or the refresh loop.
func refreshMarketCache(ctx context.Context, db *chstore.DB, cache *market.Cache, query *analytics.QueryLayer, logger *slog.Logger) {
	ids, err := query.DistinctAssetIDs(ctx)
	if err != nil {
		logger.Warn("failed to load distinct asset ids for cache warm", "error", err)
		return
	}

	targets := make(market.TargetPrefixes, len(ids))
	for _, id := range ids {
		targets[market.CacheKey(id)] = struct{}{}
	}
	if err := cache.Warm(ctx, targets); err != nil {
		logger.Warn("market cache warm failed", "error", err)
		return
	}

	if err := market.PopulateResolvedPrices(ctx, db, cache, logger); err != nil {
		logger.Warn("resolved price population failed", "error", err)
	}
}

// runMarketCacheRefresh re-runs refreshMarketCache on a ticker until ctx is
// cancelled, so the catalog cache and resolved-price table stay current as
// new markets launch and resolve after startup.
func runMarketCacheRefresh(ctx context.Context, db *chstore.DB, cache *market.Cache, query *analytics.QueryLayer, logger *slog.Logger) {
	ticker := time.NewTicker(marketCacheRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refreshMarketCache(ctx, db, cache, query, logger)
		case <-ctx.Done():
			return
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"polydearboard/internal/analytics"
	"polydearboard/internal/apierr"
	"polydearboard/internal/auth"
	"polydearboard/internal/broadcast"
	"polydearboard/internal/config"
	"polydearboard/internal/ingest"
)

// Server runs the HTTP REST API and the three WebSocket gateways.
type Server struct {
	cfg     config.Config
	router  *chi.Mux
	server  *http.Server
	logger  *slog.Logger
	handler *Handlers
	gateway *WSGateway
}

// NewServer wires the router, middleware, and full route table against the
// given collaborators. ws may be nil (e.g. in tests) — Health simply
// reports ws_active=false.
func NewServer(
	cfg config.Config,
	query *analytics.QueryLayer,
	leaderboard *analytics.LeaderboardCache,
	store *auth.Store,
	hub *broadcast.Hub,
	ws *ingest.WSSubscriber,
	webhook *ingest.WebhookIngress,
	logger *slog.Logger,
) *Server {
	logger = logger.With("component", "api")
	handlers := NewHandlers(query, leaderboard, store, cfg, logger)
	gateway := NewWSGateway(hub, store, cfg, logger).WithQueryLayer(query)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middleware.Compress(5))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.API.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Access-Code", "x-rindexer-shared-secret"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", handlers.HandleHealth)

	router.Route("/api", func(r chi.Router) {
		if cfg.API.AccessCode != "" {
			r.Use(accessCodeGate(cfg.API.AccessCode))
		}

		r.Get("/health", handlers.HandleHealth)

		r.Get("/auth/nonce", handlers.HandleAuthNonce)
		r.Post("/auth/verify", handlers.HandleAuthVerify)

		r.Get("/leaderboard", handlers.HandleLeaderboard)
		r.Get("/trader/{addr}", handlers.HandleTraderStats)
		r.Get("/trader/{addr}/trades", handlers.HandleTraderTrades)
		r.Get("/trader/{addr}/positions", handlers.HandleTraderPositions)
		r.Get("/trader/{addr}/pnl-chart", handlers.HandleTraderPnlChart)
		r.Get("/trader/{addr}/profile", handlers.HandleTraderProfile)

		r.Get("/markets/hot", handlers.HandleHotMarkets)
		r.Get("/trades/recent", handlers.HandleRecentTrades)
		r.Get("/market/resolve", handlers.HandleResolveMarkets)
		r.Get("/smart-money", handlers.HandleSmartMoney)

		r.Post("/lab/backtest", handlers.HandleBacktest)
		r.Get("/lab/copy-portfolio", handlers.HandleCopyPortfolio)

		r.Route("/lists", func(r chi.Router) {
			r.Use(handlers.requireSession)
			r.Get("/", handlers.HandleListLists)
			r.Post("/", handlers.HandleCreateList)
			r.Get("/{id}", handlers.HandleGetList)
			r.Put("/{id}", handlers.HandleRenameList)
			r.Delete("/{id}", handlers.HandleDeleteList)
			r.Post("/{id}/members", handlers.HandleAddMembers)
			r.Delete("/{id}/members", handlers.HandleRemoveMembers)
		})
	})

	if webhook != nil {
		router.Post("/webhooks/rindexer", webhook.ServeHTTP)
	}

	router.Get("/ws/alerts", gateway.HandleAlerts)
	router.Get("/ws/trades", gateway.HandleTrades)
	router.Get("/ws/signals", gateway.HandleSignals)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		router:  router,
		server:  httpServer,
		logger:  logger,
		handler: handlers,
		gateway: gateway,
	}
}

// Start blocks serving HTTP until the server is stopped or fails.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting up to 10s for in-flight
// requests (including open WebSocket connections) to finish.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// accessCodeGate rejects any /api request that doesn't present the
// configured code via X-Access-Code, using a constant-time comparison
// since this guards every route behind it, not just auth endpoints.
func accessCodeGate(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Access-Code")), []byte(code)) != 1 {
				writeError(w, apierr.Auth("invalid access code"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsOrigins(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return []string{"*"}
}

// requestLogger logs each request at Info with method/path/status/duration,
// the same structured-logging idiom the rest of the service uses.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

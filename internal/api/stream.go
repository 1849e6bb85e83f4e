package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"polydearboard/internal/analytics"
	"polydearboard/internal/auth"
	"polydearboard/internal/broadcast"
	"polydearboard/internal/config"
	"polydearboard/internal/convergence"
	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	lagCheckPeriod = 5 * time.Second
)

// WSGateway serves the three read-only WebSocket streams: raw alerts, raw
// trades, and the curated-trader signal feed.
type WSGateway struct {
	hub      *broadcast.Hub
	store    *auth.Store
	query    *analytics.QueryLayer
	cfg      config.Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSGateway(hub *broadcast.Hub, store *auth.Store, cfg config.Config, logger *slog.Logger) *WSGateway {
	g := &WSGateway{
		hub:    hub,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "ws-gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), g.cfg.API, r.Host)
		},
	}
	return g
}

// WithQueryLayer attaches the analytics query layer used to resolve a
// top_n curated-trader set on /ws/signals.
func (g *WSGateway) WithQueryLayer(query *analytics.QueryLayer) *WSGateway {
	g.query = query
	return g
}

// HandleAlerts streams every whale-trade / market-resolution / failed-
// settlement alert to the connected client, unfiltered.
func (g *WSGateway) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("alerts upgrade failed", "error", err)
		return
	}

	sub := g.hub.Alerts.Subscribe()
	defer sub.Unsubscribe()

	out := make(chan any, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case alert, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case out <- alert:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	g.pump(r.Context(), conn, out)
}

// HandleTrades streams the live trade feed, optionally filtered to a
// comma-separated token_ids query parameter. Ids are compared by their
// market.CacheKey digest, so any encoding of the same token matches.
func (g *WSGateway) HandleTrades(w http.ResponseWriter, r *http.Request) {
	var filter map[string]struct{}
	if raw := r.URL.Query().Get("token_ids"); raw != "" {
		ids, err := analytics.ValidateTokenIDs(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			filter[market.CacheKey(id)] = struct{}{}
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("trades upgrade failed", "error", err)
		return
	}

	sub := g.hub.Trades.Subscribe()
	defer sub.Unsubscribe()

	out := make(chan any, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case trade, ok := <-sub.C():
				if !ok {
					return
				}
				if filter != nil {
					if _, keep := filter[market.CacheKey(trade.AssetID)]; !keep {
						continue
					}
				}
				select {
				case out <- trade:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	g.pump(r.Context(), conn, out)
}

// HandleSignals streams derived signals (trades, convergence, lag) for one
// curated trader set: either an authenticated user's saved list (list_id)
// or the current top_n traders by realized PnL. Requires a valid session
// token in the query string, since browsers cannot set custom headers on a
// WebSocket handshake.
func (g *WSGateway) HandleSignals(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}
	sessionAddr, err := g.store.ValidateSession(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	watched, err := g.resolveWatchedAddresses(r, sessionAddr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	watchSet := make(map[string]struct{}, len(watched))
	for _, a := range watched {
		watchSet[a] = struct{}{}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("signals upgrade failed", "error", err)
		return
	}

	sub := g.hub.Trades.Subscribe()
	defer sub.Unsubscribe()

	det := convergence.New()
	out := make(chan any, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		lagTicker := time.NewTicker(lagCheckPeriod)
		defer lagTicker.Stop()
		for {
			select {
			case trade, ok := <-sub.C():
				if !ok {
					return
				}
				if _, isWatched := watchSet[trade.Trader]; !isWatched {
					continue
				}
				select {
				case out <- types.SignalMessage{Kind: types.SignalTrade, Trade: &trade}:
				case <-done:
					return
				}
				if alert := det.Observe(trade); alert != nil {
					select {
					case out <- types.SignalMessage{Kind: types.SignalConvergence, Convergence: alert}:
					case <-done:
						return
					}
				}
			case <-lagTicker.C:
				if n := sub.DroppedSinceLast(); n > 0 {
					select {
					case out <- types.SignalMessage{Kind: types.SignalLag, Dropped: n}:
					case <-done:
						return
					}
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	g.pump(r.Context(), conn, out)
}

// resolveWatchedAddresses resolves the curated trader set for a /ws/signals
// connection, from either a saved list or a live top_n PnL lookup.
func (g *WSGateway) resolveWatchedAddresses(r *http.Request, sessionAddress string) ([]string, error) {
	q := r.URL.Query()
	if listID := q.Get("list_id"); listID != "" {
		return g.store.GetListMemberAddresses(listID, sessionAddress)
	}

	topN := 10
	if raw := q.Get("top_n"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			topN = n
		}
	}
	if g.query == nil {
		return nil, nil
	}
	resp, err := g.query.Leaderboard(r.Context(), analytics.LeaderboardParams{
		Sort: "realized_pnl", Order: "desc", Limit: topN, Timeframe: "all",
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(resp.Traders))
	for i, t := range resp.Traders {
		out[i] = t.Address
	}
	return out, nil
}

// pump drives the write side of a WS connection from a channel of
// JSON-encodable values, with ping/pong keepalive. The read side is pumped
// concurrently purely to process control frames (pong, close) — clients
// never send application messages on these gateways.
func (g *WSGateway) pump(ctx context.Context, conn *websocket.Conn, out <-chan any) {
	defer conn.Close()
	go g.readLoop(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *WSGateway) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

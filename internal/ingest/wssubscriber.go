// Package ingest implements the two event sources that feed the rest of the
// pipeline: WSSubscriber (a live blockchain log subscription) and
// WebhookIngress (indexer-delivered HTTP callbacks). Exactly one of the two
// is considered "live" at a time via the shared ws_active flag; the other
// acts as a backfill path.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polydearboard/internal/broadcast"
	"polydearboard/internal/decode"
	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
	healthLogInterval  = 60 * time.Second
	pingInterval       = 50 * time.Second
	readTimeout        = 90 * time.Second
	writeTimeout       = 10 * time.Second
	subscriptionWait   = 10 * time.Second
)

// WSSubscriber maintains a single long-lived subscription to OrderFilled
// and ConditionResolution logs from both CTF exchange contracts over the
// Polygon JSON-RPC WebSocket endpoint.
type WSSubscriber struct {
	wsURL  string
	rpcURL string
	cache  *market.Cache
	hub    *broadcast.Hub
	logger *slog.Logger

	active atomic.Bool // true while a live subscription ack is outstanding

	cachedBlock     uint64
	cachedBlockTime time.Time
	haveCachedBlock bool

	eventCount int
	startedAt  time.Time
}

// New creates a subscriber. Callers read Active() to see the current
// connection state, used by WebhookIngress to decide whether to broadcast.
func New(wsURL, rpcURL string, cache *market.Cache, hub *broadcast.Hub, logger *slog.Logger) *WSSubscriber {
	return &WSSubscriber{
		wsURL:  wsURL,
		rpcURL: rpcURL,
		cache:  cache,
		hub:    hub,
		logger: logger.With("component", "ws_subscriber"),
	}
}

// Active reports whether a live subscription is currently acknowledged.
// WebhookIngress consults this without taking any lock — a stale read by
// a few hundred milliseconds only risks a duplicate broadcast, which is
// harmless, not a correctness bug.
func (s *WSSubscriber) Active() bool {
	return s.active.Load()
}

// Run connects and maintains the subscription with exponential backoff,
// re-subscribing from scratch on every reconnect. Blocks until ctx is
// cancelled. Callers should start this after the market cache's first warm
// pass, since the subscriber's only job is to decode and enrich — if the
// cache is empty every trade arrives unenriched until the next warm cycle.
func (s *WSSubscriber) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(subscriptionWait):
	}

	backoff := reconnectBaseDelay
	s.startedAt = time.Now()

	for {
		err := s.connectAndListen(ctx)
		s.active.Store(false)

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("subscription dropped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMaxDelay {
			backoff = reconnectMaxDelay
		}
	}
}

func (s *WSSubscriber) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.sendSubscribe(conn); err != nil {
		return fmt.Errorf("send eth_subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, ackMsg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read subscription ack: %w", err)
	}

	var ack subscriptionResponse
	if err := json.Unmarshal(ackMsg, &ack); err != nil || ack.Result == "" || ack.Error != nil {
		return fmt.Errorf("subscription rejected: %s", string(ackMsg))
	}
	subID := ack.Result
	s.active.Store(true)
	s.logger.Info("subscription active", "sub_id", subID)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn)

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go s.healthLoop(healthCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.handleMessage(ctx, conn, raw)
	}
}

func (s *WSSubscriber) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) {
	var notif subscriptionNotification
	if err := json.Unmarshal(raw, &notif); err != nil || notif.Params.Result.TransactionHash == "" {
		return
	}

	entry := notif.Params.Result
	if entry.Removed {
		// Reorg: the log this referred to no longer exists on the canonical chain.
		return
	}

	s.eventCount++

	if len(entry.Topics) == 0 {
		return
	}

	switch entry.Topics[0] {
	case decode.OrderFilledTopic0:
		s.handleOrderFilled(ctx, entry)
	default:
		s.handleConditionResolution(entry)
	}
}

func (s *WSSubscriber) handleOrderFilled(ctx context.Context, entry logEntry) {
	blockTime := s.blockTimestamp(ctx, entry.BlockNumber)

	rawLog := decode.RawLog{
		Address:         entry.Address,
		Topics:          entry.Topics,
		Data:            entry.Data,
		TransactionHash: entry.TransactionHash,
		BlockNumber:     entry.BlockNumber,
		LogIndex:        entry.LogIndex,
	}

	trade, err := decode.DecodeFill(rawLog, blockTime)
	if err != nil {
		s.logger.Debug("decode order filled failed", "error", err)
		return
	}
	trade = decode.Enrich(trade, s.cache)

	s.hub.Trades.Publish(trade)

	if usdcRaw, ok := parseUSDCMicros(trade.USDCAmount); ok && decode.IsWhale(usdcRaw) {
		alertTrade := trade
		s.hub.Alerts.Publish(types.Alert{
			Kind:       types.AlertWhaleTrade,
			WhaleTrade: &alertTrade,
		})
	}
}

func (s *WSSubscriber) handleConditionResolution(entry logEntry) {
	// Decoding a resolution log's payout vector is out of this package's
	// scope (it arrives pre-decoded from the indexer in this deployment);
	// webhook ingress is the authoritative path for resolution alerts, and
	// the WS path here only needs to recognize and skip these logs so they
	// don't fall through the OrderFilled decoder.
	s.logger.Debug("observed non-fill log, deferring to webhook ingress", "address", entry.Address)
}

// blockTimestamp resolves a block number to its timestamp, caching the
// single most recently resolved block (fills usually arrive in bursts from
// the same block) and falling back to wall-clock time if the RPC call
// fails, per the documented fail-open rule.
func (s *WSSubscriber) blockTimestamp(ctx context.Context, blockNumber uint64) time.Time {
	if s.haveCachedBlock && s.cachedBlock == blockNumber {
		return s.cachedBlockTime
	}

	ts, err := fetchBlockTimestamp(ctx, s.rpcURL, blockNumber)
	if err != nil {
		s.logger.Debug("block timestamp lookup failed, using wall clock", "block", blockNumber, "error", err)
		return time.Now()
	}

	s.cachedBlock = blockNumber
	s.cachedBlockTime = ts
	s.haveCachedBlock = true
	return ts
}

func (s *WSSubscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WSSubscriber) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("subscription health",
				"events", s.eventCount,
				"uptime", time.Since(s.startedAt).Round(time.Second),
			)
		}
	}
}

func (s *WSSubscriber) sendSubscribe(conn *websocket.Conn) error {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params": []interface{}{
			"logs",
			map[string]interface{}{
				"address": []string{decode.CTFExchangeAddr, decode.NegRiskExchangeAddr},
			},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

// ————————————————————————————————————————————————————————————————————————
// JSON-RPC wire shapes
// ————————————————————————————————————————————————————————————————————————

type subscriptionResponse struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type subscriptionNotification struct {
	Params subscriptionParams `json:"params"`
}

type subscriptionParams struct {
	Result logEntry `json:"result"`
}

type logEntry struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     uint64   `json:"-"`
	BlockNumberHex  string   `json:"blockNumber"`
	LogIndex        uint     `json:"-"`
	LogIndexHex     string   `json:"logIndex"`
	Removed         bool     `json:"removed"`
}

// UnmarshalJSON decodes hex-encoded quantity fields into the numeric
// BlockNumber/LogIndex fields the rest of this package uses.
func (l *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = logEntry(a)
	l.BlockNumber = hexToUint64(l.BlockNumberHex)
	l.LogIndex = uint(hexToUint64(l.LogIndexHex))
	return nil
}

func hexToUint64(s string) uint64 {
	var v uint64
	if len(s) > 2 && s[:2] == "0x" {
		fmt.Sscanf(s[2:], "%x", &v)
	}
	return v
}

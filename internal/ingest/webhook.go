package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polydearboard/internal/broadcast"
	"polydearboard/internal/decode"
	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

// staleThreshold marks an event as backfill rather than live. Backfill
// events never reach the broadcast hub, since they have already been (or
// will be) delivered by a live source; this package records nothing else
// for them either.
const staleThreshold = 300 * time.Second

// WebhookIngress is the secondary, indexer-delivered event source. It
// mirrors WSSubscriber's decode/enrich/broadcast pipeline but defers to it:
// a fill is only broadcast here when the live subscription is down.
type WebhookIngress struct {
	secret string
	cache  *market.Cache
	hub    *broadcast.Hub
	ws     *WSSubscriber
	logger *slog.Logger
}

// NewWebhookIngress creates the handler. secret may be empty, which
// disables the shared-secret check entirely (matches the indexer's
// documented opt-out behavior for local/dev deployments).
func NewWebhookIngress(secret string, cache *market.Cache, hub *broadcast.Hub, ws *WSSubscriber, logger *slog.Logger) *WebhookIngress {
	return &WebhookIngress{
		secret: secret,
		cache:  cache,
		hub:    hub,
		ws:     ws,
		logger: logger.With("component", "webhook_ingress"),
	}
}

type webhookPayload struct {
	EventName string            `json:"event_name"`
	EventData []json.RawMessage `json:"event_data"`
	Network   string            `json:"network"`
}

type txInfo struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	BlockTimestamp  string `json:"block_timestamp"`
}

type orderFilledEvent struct {
	TransactionInfo   txInfo `json:"transaction_information"`
	MakerAssetID      string `json:"makerAssetId"`
	TakerAssetID      string `json:"takerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	TakerAmountFilled string `json:"takerAmountFilled"`
	Maker             string `json:"maker"`
	ContractAddress   string `json:"contract_address"`
}

type conditionResolutionEvent struct {
	TransactionInfo  txInfo   `json:"transaction_information"`
	ConditionID      string   `json:"conditionId"`
	Oracle           string   `json:"oracle"`
	QuestionID       string   `json:"questionId"`
	PayoutNumerators []string `json:"payoutNumerators"`
}

// ServeHTTP implements the POST /webhooks/rindexer endpoint: validate the
// shared secret, then decode and dispatch each event in the payload.
func (w *WebhookIngress) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.secret != "" {
		provided := r.Header.Get("x-rindexer-shared-secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(w.secret)) != 1 {
			http.Error(rw, "invalid shared secret", http.StatusUnauthorized)
			return
		}
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(rw, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, raw := range payload.EventData {
		switch payload.EventName {
		case "OrderFilled":
			w.handleOrderFilled(raw)
		case "ConditionResolution":
			w.handleConditionResolution(r.Context(), raw)
		default:
			w.logger.Debug("ignoring unknown webhook event", "event_name", payload.EventName)
		}
	}

	rw.WriteHeader(http.StatusOK)
}

func (w *WebhookIngress) handleOrderFilled(raw json.RawMessage) {
	var event orderFilledEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		w.logger.Warn("malformed OrderFilled event", "error", err)
		return
	}

	live := isLive(event.TransactionInfo.BlockTimestamp)

	trade, err := decodeWebhookFill(event)
	if err != nil {
		w.logger.Warn("failed to decode webhook fill", "error", err)
		return
	}
	trade = decode.Enrich(trade, w.cache)

	// Every fill is decoded and enriched, but the result is only used for
	// broadcasting; it is not recorded anywhere. Broadcasting is gated on
	// liveness and on the live WS subscription being down, per the
	// mutual-exclusion invariant — at most one source broadcasts a given fill.
	if !live {
		return
	}
	if w.ws != nil && w.ws.Active() {
		return
	}

	w.hub.Trades.Publish(trade)

	if usdcRaw, ok := parseUSDCMicros(trade.USDCAmount); ok && decode.IsWhale(usdcRaw) {
		alertTrade := trade
		w.hub.Alerts.Publish(types.Alert{
			Kind:       types.AlertWhaleTrade,
			WhaleTrade: &alertTrade,
		})
	}
}

func (w *WebhookIngress) handleConditionResolution(ctx context.Context, raw json.RawMessage) {
	var event conditionResolutionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		w.logger.Warn("malformed ConditionResolution event", "error", err)
		return
	}

	if !isLive(event.TransactionInfo.BlockTimestamp) {
		return
	}

	ts := parseBlockTimestamp(event.TransactionInfo.BlockTimestamp)
	payouts := make([]uint64, 0, len(event.PayoutNumerators))
	for _, n := range event.PayoutNumerators {
		v, _ := strconv.ParseUint(n, 10, 64)
		payouts = append(payouts, v)
	}

	resolution := decode.DecodeResolution(ctx, event.ConditionID, payouts, event.TransactionInfo.BlockNumber, ts, w.cache)

	// Resolved or not, a resolution alert is always emitted — the alert
	// carries raw fields when the cache (and, upstream, the catalog lookup
	// the cache performs on miss) cannot resolve a question.
	w.hub.Alerts.Publish(types.Alert{
		Kind:             types.AlertMarketResolution,
		MarketResolution: &resolution,
	})
}

// decodeWebhookFill mirrors decode.DecodeFill's classification rule against
// the indexer's flat JSON field names instead of an ABI-encoded log.
func decodeWebhookFill(event orderFilledEvent) (types.LiveTrade, error) {
	makerAssetID := event.MakerAssetID
	takerAssetID := event.TakerAssetID

	var side types.TradeSide
	var assetID, usdcRaw, tokenRaw string

	switch {
	case makerAssetID == "0" || makerAssetID == "":
		side = types.SideBuy
		assetID = takerAssetID
		usdcRaw = event.MakerAmountFilled
		tokenRaw = event.TakerAmountFilled
	case takerAssetID == "0" || takerAssetID == "":
		side = types.SideSell
		assetID = makerAssetID
		usdcRaw = event.TakerAmountFilled
		tokenRaw = event.MakerAmountFilled
	default:
		side = types.SideMint
		assetID = takerAssetID
		usdcRaw = "0"
		tokenRaw = event.TakerAmountFilled
	}

	usdcMicros, ok := new(big.Int).SetString(usdcRaw, 10)
	if !ok {
		return types.LiveTrade{}, fmt.Errorf("invalid usdc amount %q", usdcRaw)
	}
	tokenMicros, ok := new(big.Int).SetString(tokenRaw, 10)
	if !ok {
		return types.LiveTrade{}, fmt.Errorf("invalid token amount %q", tokenRaw)
	}

	price := 0.0
	if tokenMicros.Sign() != 0 {
		priceF, _ := new(big.Float).Quo(
			new(big.Float).SetInt(usdcMicros),
			new(big.Float).SetInt(tokenMicros),
		).Float64()
		price = priceF
	}

	exchange := types.ExchangeCTF
	if strings.EqualFold(event.ContractAddress, decode.NegRiskExchangeAddr) {
		exchange = types.ExchangeNegRisk
	}

	return types.LiveTrade{
		TxHash:      event.TransactionInfo.TransactionHash,
		BlockNumber: event.TransactionInfo.BlockNumber,
		Timestamp:   parseBlockTimestamp(event.TransactionInfo.BlockTimestamp),
		Exchange:    exchange,
		Trader:      strings.ToLower(event.Maker),
		Side:        side,
		AssetID:     assetID,
		Amount:      formatMicros(tokenMicros),
		Price:       price,
		USDCAmount:  formatMicros(usdcMicros),
		CacheKey:    market.CacheKey(assetID),
	}, nil
}

// formatMicros renders a raw 6-decimal integer amount as "whole.frac6",
// mirroring decode.formatUSDC for the webhook path, which works from
// string-encoded indexer fields rather than ABI-decoded words.
func formatMicros(raw *big.Int) string {
	million := big.NewInt(1_000_000)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.DivMod(raw, million, frac)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Int64())
}

// isLive classifies an event as live (broadcastable) vs backfill by
// comparing its block timestamp against wall clock. An unparseable
// timestamp fails open — treated as live, per the documented rule.
func isLive(blockTimestamp string) bool {
	ts, err := time.Parse(time.RFC3339, blockTimestamp)
	if err != nil {
		return true
	}
	return time.Since(ts) < staleThreshold
}

func parseBlockTimestamp(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now()
	}
	return ts
}

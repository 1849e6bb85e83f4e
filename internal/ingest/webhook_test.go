package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polydearboard/internal/broadcast"
	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookRejectsWrongSharedSecret(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	w := NewWebhookIngress("correct-secret", cache, hub, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("x-rindexer-shared-secret", "wrong-secret")
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
}

func TestWebhookAllowsAnySecretWhenUnconfigured(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	w := NewWebhookIngress("", cache, hub, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader([]byte(`{"event_name":"Unknown","event_data":[]}`)))
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
}

func buildOrderFilledPayload(t *testing.T, blockTimestamp string) []byte {
	t.Helper()

	event := orderFilledEvent{
		TransactionInfo: txInfo{
			TransactionHash: "0xabc",
			BlockNumber:     123,
			BlockTimestamp:  blockTimestamp,
		},
		MakerAssetID:      "0",
		TakerAssetID:      "777",
		MakerAmountFilled: "30000000000", // $30,000 — crosses the whale threshold
		TakerAmountFilled: "60000000000",
		Maker:             "0xTRADER",
		ContractAddress:   "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	payload := webhookPayload{
		EventName: "OrderFilled",
		EventData: []json.RawMessage{raw},
		Network:   "polygon",
	}

	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return out
}

func TestWebhookBroadcastsLiveFillWhenWSInactive(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	sub := hub.Trades.Subscribe()

	w := NewWebhookIngress("", cache, hub, nil, discardLogger())

	body := buildOrderFilledPayload(t, time.Now().UTC().Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader(body))
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	select {
	case trade := <-sub.C():
		if trade.Trader != "0xtrader" {
			t.Fatalf("Trader = %q, want lowercased 0xtrader", trade.Trader)
		}
		if trade.Side != types.SideBuy {
			t.Fatalf("Side = %q, want buy", trade.Side)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a trade to be broadcast")
	}
}

func TestWebhookSuppressesBroadcastWhenWSActive(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	sub := hub.Trades.Subscribe()

	ws := &WSSubscriber{}
	ws.active.Store(true)

	w := NewWebhookIngress("", cache, hub, ws, discardLogger())

	body := buildOrderFilledPayload(t, time.Now().UTC().Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader(body))
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	select {
	case trade := <-sub.C():
		t.Fatalf("expected no broadcast while ws_active, got %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookTreatsStaleEventAsBackfillOnly(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	sub := hub.Trades.Subscribe()

	w := NewWebhookIngress("", cache, hub, nil, discardLogger())

	stale := time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
	body := buildOrderFilledPayload(t, stale)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader(body))
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	select {
	case trade := <-sub.C():
		t.Fatalf("expected no broadcast for a stale backfill event, got %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookFailsOpenOnUnparseableTimestamp(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	hub := broadcast.New()
	sub := hub.Trades.Subscribe()

	w := NewWebhookIngress("", cache, hub, nil, discardLogger())

	body := buildOrderFilledPayload(t, "not-a-timestamp")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/rindexer", bytes.NewReader(body))
	rw := httptest.NewRecorder()

	w.ServeHTTP(rw, req)

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("unparseable timestamp should fail open and still broadcast")
	}
}

func TestDecodeWebhookFillClassifiesMint(t *testing.T) {
	t.Parallel()

	event := orderFilledEvent{
		MakerAssetID:      "111",
		TakerAssetID:      "222",
		MakerAmountFilled: "5000000",
		TakerAmountFilled: "5000000",
		Maker:             "0xabc",
	}

	trade, err := decodeWebhookFill(event)
	if err != nil {
		t.Fatalf("decodeWebhookFill: %v", err)
	}
	if trade.Side != types.SideMint {
		t.Fatalf("Side = %q, want mint", trade.Side)
	}
	if trade.USDCAmount != "0.000000" {
		t.Fatalf("USDCAmount = %q, want 0.000000 for a mint", trade.USDCAmount)
	}
}

package decode

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

func word(n int64) []byte {
	b := make([]byte, 32)
	big.NewInt(n).FillBytes(b)
	return b
}

func buildData(makerAsset, takerAsset, makerAmount, takerAmount, fee int64) string {
	var out []byte
	out = append(out, word(makerAsset)...)
	out = append(out, word(takerAsset)...)
	out = append(out, word(makerAmount)...)
	out = append(out, word(takerAmount)...)
	out = append(out, word(fee)...)
	return "0x" + bytesToHex(out)
}

func bytesToHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}

func testLog(makerAsset, takerAsset, makerAmount, takerAmount int64) RawLog {
	return RawLog{
		Address: CTFExchangeAddr,
		Topics: []string{
			OrderFilledTopic0,
			"0x0000000000000000000000001111111111111111111111111111111111111111",
			"0x0000000000000000000000002222222222222222222222222222222222222222",
		},
		Data:            buildData(makerAsset, takerAsset, makerAmount, takerAmount, 0),
		TransactionHash: "0xdeadbeef",
		BlockNumber:     100,
		LogIndex:        1,
	}
}

func TestDecodeFillBuySide(t *testing.T) {
	t.Parallel()

	// makerAssetId == 0 means the maker gave USDC: the maker bought takerAssetId.
	log := testLog(0, 777, 10_000_000, 20_000_000)
	trade, err := DecodeFill(log, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("DecodeFill: %v", err)
	}
	if trade.Side != "buy" {
		t.Fatalf("Side = %q, want buy", trade.Side)
	}
	if trade.AssetID != "777" {
		t.Fatalf("AssetID = %q, want 777", trade.AssetID)
	}
	if trade.USDCAmount != "10.000000" {
		t.Fatalf("USDCAmount = %q, want 10.000000", trade.USDCAmount)
	}
}

func TestDecodeFillSellSide(t *testing.T) {
	t.Parallel()

	// takerAssetId == 0 means the taker gave USDC: the maker sold makerAssetId.
	log := testLog(555, 0, 20_000_000, 10_000_000)
	trade, err := DecodeFill(log, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("DecodeFill: %v", err)
	}
	if trade.Side != "sell" {
		t.Fatalf("Side = %q, want sell", trade.Side)
	}
	if trade.AssetID != "555" {
		t.Fatalf("AssetID = %q, want 555", trade.AssetID)
	}
}

func TestDecodeFillMintWhenNeitherLegIsZero(t *testing.T) {
	t.Parallel()

	log := testLog(111, 222, 1000, 2000)
	trade, err := DecodeFill(log, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("DecodeFill: %v", err)
	}
	if trade.Side != "mint" {
		t.Fatalf("Side = %q, want mint", trade.Side)
	}
}

func TestDecodeFillNegRiskExchange(t *testing.T) {
	t.Parallel()

	log := testLog(0, 1, 1_000_000, 1_000_000)
	log.Address = NegRiskExchangeAddr
	trade, err := DecodeFill(log, time.Now())
	if err != nil {
		t.Fatalf("DecodeFill: %v", err)
	}
	if trade.Exchange != "neg_risk" {
		t.Fatalf("Exchange = %q, want neg_risk", trade.Exchange)
	}
}

func TestIsWhaleThreshold(t *testing.T) {
	t.Parallel()

	justUnder := big.NewInt(24_999_999_999)
	exactly := new(big.Int).SetUint64(WhaleThresholdRaw)
	over := new(big.Int).SetUint64(WhaleThresholdRaw + 1)

	if IsWhale(justUnder) {
		t.Fatalf("amount just under threshold must not be a whale")
	}
	if !IsWhale(exactly) {
		t.Fatalf("amount exactly at threshold must be a whale (closed-open)")
	}
	if !IsWhale(over) {
		t.Fatalf("amount over threshold must be a whale")
	}
}

func TestDecodeFillTooFewTopicsErrors(t *testing.T) {
	t.Parallel()

	log := RawLog{Topics: []string{OrderFilledTopic0}}
	if _, err := DecodeFill(log, time.Now()); err == nil {
		t.Fatalf("expected error for log with too few topics")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrichPopulatesOutcomeAndCategory(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	cache.Insert("777", types.MarketInfo{
		ConditionID:  "0xabc",
		Question:     "will it happen",
		Category:     "Politics",
		OutcomeIndex: 1,
		Outcomes:     []string{"No", "Yes"},
	})

	trade := types.LiveTrade{AssetID: "777"}
	trade = Enrich(trade, cache)

	if trade.ConditionID != "0xabc" {
		t.Fatalf("ConditionID = %q, want 0xabc", trade.ConditionID)
	}
	if trade.Category != "Politics" {
		t.Fatalf("Category = %q, want Politics", trade.Category)
	}
	if trade.Outcome != "Yes" {
		t.Fatalf("Outcome = %q, want Yes", trade.Outcome)
	}
}

func TestDecodeResolutionCacheHitDerivesWinningOutcome(t *testing.T) {
	t.Parallel()

	cache := market.New("https://gamma-api.polymarket.com", discardLogger())
	cache.Insert("111", types.MarketInfo{
		ConditionID: "0xabc",
		Question:    "will it happen",
		AllTokenIDs: []string{"111", "222"},
		Outcomes:    []string{"No", "Yes"},
	})

	res := DecodeResolution(context.Background(), "0xabc", []uint64{0, 1}, 100, time.Now(), cache)

	if res.TokenID != "111" {
		t.Fatalf("TokenID = %q, want 111", res.TokenID)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("Outcomes = %v, want 2 entries", res.Outcomes)
	}
	if res.WinningOutcome != "Yes" {
		t.Fatalf("WinningOutcome = %q, want Yes", res.WinningOutcome)
	}
}

func TestDecodeResolutionCatalogFallbackRejectsMismatch(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal([]map[string]any{
		{"conditionId": "0xdeadbeef", "question": "unrelated market"},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache := market.New(srv.URL, discardLogger())
	res := DecodeResolution(context.Background(), "0xcafebabe", []uint64{1}, 100, time.Now(), cache)

	if res.Question != "" || res.WinningOutcome != "" {
		t.Fatalf("expected an unverified catalog response to be rejected, got %+v", res)
	}
}

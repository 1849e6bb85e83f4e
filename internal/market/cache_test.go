package market

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polydearboard/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSignificantDigitsScientificNotation(t *testing.T) {
	t.Parallel()

	got := significantDigits("1.234567891011e+20")
	want := "1234567891011"
	if got != want {
		t.Fatalf("significantDigits() = %q, want %q", got, want)
	}
}

func TestSignificantDigitsPlainDecimal(t *testing.T) {
	t.Parallel()

	got := significantDigits("123456789012345678")
	want := "123456789012345678"
	if got != want {
		t.Fatalf("significantDigits() = %q, want %q", got, want)
	}
}

func TestCacheKeyReconcilesEncodings(t *testing.T) {
	t.Parallel()

	// Same token, two of its encodings: full-precision decimal and
	// scientific notation.
	full := "123456789012345678901234"
	sci := "1.23456789012345e+23"

	keyFull := CacheKey(full)
	keySci := CacheKey(sci)

	if len(keyFull) != prefixLen {
		t.Fatalf("CacheKey length = %d, want %d", len(keyFull), prefixLen)
	}
	if keyFull != keySci {
		t.Fatalf("CacheKey(%q) = %q, CacheKey(%q) = %q, want equal", full, keyFull, sci, keySci)
	}
}

func TestCacheKeyPadsShortIDs(t *testing.T) {
	t.Parallel()

	got := CacheKey("123")
	if len(got) != prefixLen {
		t.Fatalf("CacheKey length = %d, want %d", len(got), prefixLen)
	}
	if got[:3] != "123" {
		t.Fatalf("CacheKey(%q) = %q, want prefix 123", "123", got)
	}
}

func TestToIntegerIDPassesThroughPlainDecimal(t *testing.T) {
	t.Parallel()

	if got := toIntegerID("42"); got != "42" {
		t.Fatalf("toIntegerID(42) = %q, want 42", got)
	}
}

func TestCacheInsertAndLookup(t *testing.T) {
	t.Parallel()

	c := New("https://gamma-api.polymarket.com", discardLogger())
	info := types.MarketInfo{ConditionID: "0xabc", Question: "will it happen"}
	c.Insert("123456789012345678", info)

	got, ok := c.Lookup("123456789012345678")
	if !ok {
		t.Fatalf("Lookup did not find inserted entry")
	}
	if got.ConditionID != "0xabc" {
		t.Fatalf("ConditionID = %q, want 0xabc", got.ConditionID)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestLookupByConditionIDIgnoresCasingAndPrefix(t *testing.T) {
	t.Parallel()

	c := New("https://gamma-api.polymarket.com", discardLogger())
	c.Insert("123456789012345678", types.MarketInfo{ConditionID: "0xABCDEF"})

	got, ok := c.LookupByConditionID("abcdef")
	if !ok {
		t.Fatalf("LookupByConditionID did not match stripped/lowercased condition id")
	}
	if got.ConditionID != "0xABCDEF" {
		t.Fatalf("ConditionID = %q, want 0xABCDEF", got.ConditionID)
	}
}

// gammaMarketsHandler serves a fixed []gammaMarket JSON body from a test
// server, mirroring the shape of GET /markets?condition_ids=....
func gammaMarketsHandler(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func TestResolveByConditionIDRejectsMismatchedConditionID(t *testing.T) {
	t.Parallel()

	// The catalog ignores the condition_ids filter and hands back an
	// unrelated market; the mismatch must be rejected rather than trusted.
	body, err := json.Marshal([]map[string]any{
		{"conditionId": "0xdeadbeef", "question": "unrelated market"},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	srv := gammaMarketsHandler(t, string(body))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	_, ok := c.ResolveByConditionID(context.Background(), "0xcafebabe")
	if ok {
		t.Fatalf("expected ResolveByConditionID to reject a condition id mismatch")
	}
}

func TestResolveByConditionIDAcceptsVerifiedMatch(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal([]map[string]any{
		{
			"conditionId":  "0xCAFEBABE",
			"question":     "will it resolve",
			"category":     "sports",
			"active":       true,
			"closed":       false,
			"outcomes":     `["Yes","No"]`,
			"clobTokenIds": `["111","222"]`,
		},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	srv := gammaMarketsHandler(t, string(body))
	defer srv.Close()

	c := New(srv.URL, discardLogger())
	info, ok := c.ResolveByConditionID(context.Background(), "cafebabe")
	if !ok {
		t.Fatalf("expected ResolveByConditionID to accept the matching record")
	}
	if info.TokenID != "111" {
		t.Fatalf("TokenID = %q, want 111", info.TokenID)
	}
	if len(info.Outcomes) != 2 || info.Outcomes[0] != "Yes" {
		t.Fatalf("Outcomes = %v, want [Yes No]", info.Outcomes)
	}

	// The verified record should also be inserted so a subsequent lookup
	// doesn't need to hit the catalog again.
	if _, ok := c.LookupByConditionID("cafebabe"); !ok {
		t.Fatalf("expected verified record to be cached")
	}
}

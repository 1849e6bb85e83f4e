package types

import "testing"

func TestAlertTaggedUnion(t *testing.T) {
	t.Parallel()

	a := Alert{
		Kind: AlertWhaleTrade,
		WhaleTrade: &LiveTrade{
			AssetID: "123",
			Side:    SideBuy,
		},
	}

	if a.Kind != AlertWhaleTrade {
		t.Fatalf("Kind = %q, want %q", a.Kind, AlertWhaleTrade)
	}
	if a.WhaleTrade == nil || a.WhaleTrade.AssetID != "123" {
		t.Fatalf("WhaleTrade not populated as expected: %+v", a.WhaleTrade)
	}
	if a.MarketResolution != nil || a.FailedSettlement != nil {
		t.Fatalf("non-matching variants must stay nil: %+v", a)
	}
}

func TestSignalMessageTaggedUnion(t *testing.T) {
	t.Parallel()

	lag := SignalMessage{Kind: SignalLag, Dropped: 7}
	if lag.Trade != nil || lag.Convergence != nil {
		t.Fatalf("lag signal must not carry other variants: %+v", lag)
	}
	if lag.Dropped != 7 {
		t.Fatalf("Dropped = %d, want 7", lag.Dropped)
	}
}

func TestTradeSideValues(t *testing.T) {
	t.Parallel()

	for _, side := range []TradeSide{SideBuy, SideSell, SideMint} {
		if side == "" {
			t.Fatalf("trade side must not be empty")
		}
	}
}

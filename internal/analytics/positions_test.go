package analytics

import "testing"

func TestIsSettledOnChainResolved(t *testing.T) {
	t.Parallel()
	if !IsSettled(PositionSignals{OnChainResolved: true, LatestPrice: 0.4, NetTokens: 10}) {
		t.Fatal("expected settled via on-chain resolution")
	}
}

func TestIsSettledPriceNearZeroBoundary(t *testing.T) {
	t.Parallel()
	if !IsSettled(PositionSignals{LatestPrice: 0.003, NetTokens: 10}) {
		t.Fatal("expected settled via near-zero price boundary")
	}
}

func TestIsSettledPriceNearOneBoundary(t *testing.T) {
	t.Parallel()
	if !IsSettled(PositionSignals{LatestPrice: 0.997, NetTokens: 10}) {
		t.Fatal("expected settled via near-one price boundary")
	}
}

func TestIsSettledFullyExited(t *testing.T) {
	t.Parallel()
	if !IsSettled(PositionSignals{LatestPrice: 0.5, NetTokens: 0}) {
		t.Fatal("expected settled via full exit")
	}
}

func TestIsSettledFalseWhenOpen(t *testing.T) {
	t.Parallel()
	if IsSettled(PositionSignals{LatestPrice: 0.5, NetTokens: 10}) {
		t.Fatal("expected open position to not be settled")
	}
}

func TestResolvedPriceExampleFromSpec(t *testing.T) {
	t.Parallel()
	price, ok := ResolvedPrice([]uint64{3, 0}, 0)
	if !ok {
		t.Fatal("expected ok")
	}
	if price != 1.0 {
		t.Fatalf("price = %v, want 1.0", price)
	}

	price, ok = ResolvedPrice([]uint64{3, 0}, 1)
	if !ok {
		t.Fatal("expected ok")
	}
	if price != 0.0 {
		t.Fatalf("price = %v, want 0.0", price)
	}
}

func TestResolvedPriceInvalidIndex(t *testing.T) {
	t.Parallel()
	if _, ok := ResolvedPrice([]uint64{3, 0}, 5); ok {
		t.Fatal("expected ok=false for out-of-range index")
	}
}

func TestEffectivePricePrefersResolved(t *testing.T) {
	t.Parallel()
	resolved := 1.0
	if got := EffectivePrice(&resolved, 0.8); got != 1.0 {
		t.Fatalf("EffectivePrice = %v, want 1.0 (resolved dominates)", got)
	}
}

func TestEffectivePriceFallsBackToLatest(t *testing.T) {
	t.Parallel()
	if got := EffectivePrice(nil, 0.8); got != 0.8 {
		t.Fatalf("EffectivePrice = %v, want 0.8", got)
	}
}

func TestIsWinLongAboveHalf(t *testing.T) {
	t.Parallel()
	if !IsWin(10, 0.9) {
		t.Fatal("expected win for long position resolved above 0.5")
	}
}

func TestIsWinShortBelowHalf(t *testing.T) {
	t.Parallel()
	if !IsWin(-10, 0.1) {
		t.Fatal("expected win for short position resolved below 0.5")
	}
}

func TestIsWinLongBelowHalfIsLoss(t *testing.T) {
	t.Parallel()
	if IsWin(10, 0.1) {
		t.Fatal("expected loss for long position resolved below 0.5")
	}
}

func TestPnLFormula(t *testing.T) {
	t.Parallel()
	// Bought 100 tokens for 40 USDC, sold half (50 tokens) for 30 USDC,
	// remaining 50 tokens marked at 0.9.
	got := PnL(30, 40, 100, 50, 0.9)
	want := (30 - 40) + (100-50)*0.9
	if got != want {
		t.Fatalf("PnL = %v, want %v", got, want)
	}
}

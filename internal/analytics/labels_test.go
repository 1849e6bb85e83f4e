package analytics

import (
	"testing"

	"polydearboard/pkg/types"
)

func hasLabel(labels []types.BehavioralLabel, want types.BehavioralLabel) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func TestLabelsSharp(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{SettledCount: 20, SettledWins: 15, TotalVolumeUSD: 10000, TradeCount: 40, MarketsTraded: 5}
	labels, details := Labels(s)
	if !hasLabel(labels, types.LabelSharp) {
		t.Fatalf("expected sharp, got %v (z=%v)", labels, details.PnLZScore)
	}
}

func TestLabelsWhale(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{TotalVolumeUSD: 150000, AvgPositionSizeUSD: 6000, MarketsTraded: 10, TradeCount: 20}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelWhale) {
		t.Fatalf("expected whale, got %v", labels)
	}
}

func TestLabelsWhaleExcludedWhenTooManyMarkets(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{TotalVolumeUSD: 150000, AvgPositionSizeUSD: 6000, MarketsTraded: 40, TradeCount: 20}
	labels, _ := Labels(s)
	if hasLabel(labels, types.LabelWhale) {
		t.Fatalf("did not expect whale when spread across many markets, got %v", labels)
	}
}

func TestLabelsDegen(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{SettledCount: 15, SettledWins: 3, TotalVolumeUSD: 8000, TradeCount: 15, MarketsTraded: 5}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelDegen) {
		t.Fatalf("expected degen, got %v", labels)
	}
}

func TestLabelsMarketMaker(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{BuyCount: 100, SellCount: 95, TradeCount: 195, MarketsTraded: 12}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelMarketMaker) {
		t.Fatalf("expected market_maker, got %v", labels)
	}
}

func TestLabelsBot(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{TradeCount: 300, MarketsTraded: 15}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelBot) {
		t.Fatalf("expected bot, got %v", labels)
	}
}

func TestLabelsContrarian(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{ContrarianEntries: 8, ContrarianWins: 6, TradeCount: 20, MarketsTraded: 4}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelContrarian) {
		t.Fatalf("expected contrarian, got %v", labels)
	}
}

func TestLabelsCasualByLowTradeCount(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{TradeCount: 3, TotalVolumeUSD: 20000}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelCasual) {
		t.Fatalf("expected casual, got %v", labels)
	}
}

func TestLabelsCasualByLowVolume(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{TradeCount: 50, TotalVolumeUSD: 100}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelCasual) {
		t.Fatalf("expected casual, got %v", labels)
	}
}

func TestLabelsSpecialistConcentrated(t *testing.T) {
	t.Parallel()
	s := TraderStatsInput{
		TopCategoryVolumeShare: 0.85,
		TopCategoryVolumeUSD:   20000,
		TopCategoryTradeCount:  12,
		TradeCount:             15,
		MarketsTraded:          3,
	}
	labels, _ := Labels(s)
	if !hasLabel(labels, types.LabelSpecialist) {
		t.Fatalf("expected specialist, got %v", labels)
	}
}

func TestZScoreZeroWhenNoSettled(t *testing.T) {
	t.Parallel()
	if got := zScore(0, 0); got != 0 {
		t.Fatalf("zScore(0,0) = %v, want 0", got)
	}
}

func TestBuySellBalancePerfectlyEven(t *testing.T) {
	t.Parallel()
	if got := buySellBalance(50, 50); got != 1 {
		t.Fatalf("buySellBalance(50,50) = %v, want 1", got)
	}
}

func TestBuySellBalanceAllOneSide(t *testing.T) {
	t.Parallel()
	if got := buySellBalance(100, 0); got != 0 {
		t.Fatalf("buySellBalance(100,0) = %v, want 0", got)
	}
}

// Package analytics implements QueryLayer: the read-side of the service,
// answering leaderboard/profile/position/backtest queries against the
// analytics database, post-enriched from MarketCache.
package analytics

import (
	"math"

	"polydearboard/pkg/types"
)

// TraderStatsInput is the aggregated per-trader input the label predicates
// and the leaderboard row evaluate against. QueryLayer is responsible for
// computing these aggregates from the analytics DB; this package only
// evaluates the (non-exclusive) predicates spec.md §4.10 defines over them.
type TraderStatsInput struct {
	TotalVolumeUSD     float64
	TradeCount         int
	MarketsTraded      int
	SettledCount       int
	SettledWins        int
	AvgPositionSizeUSD float64
	BuyCount           int
	SellCount          int

	TopCategoryVolumeShare float64
	TopCategorySettled     int
	TopCategoryWinRate     float64
	TopCategoryVolumeUSD   float64
	TopCategoryTradeCount  int

	ContrarianEntries int
	ContrarianWins    int

	MedianHoldSecs float64
}

// winRate returns SettledWins/SettledCount, or 0 if nothing has settled.
func (s TraderStatsInput) winRate() float64 {
	if s.SettledCount == 0 {
		return 0
	}
	return float64(s.SettledWins) / float64(s.SettledCount)
}

// zScore is (correct - n/2) / sqrt(n/4), the normal approximation to a
// binomial test against a 50% null hypothesis — used to tell a trader whose
// win rate is merely lucky apart from one with statistically significant
// edge.
func zScore(correct, n int) float64 {
	if n == 0 {
		return 0
	}
	nf := float64(n)
	return (float64(correct) - nf/2) / math.Sqrt(nf/4)
}

// buySellBalance returns a 0..1 score, 1 meaning buy and sell trade counts are
// perfectly even — the shape a market-making trader's flow takes.
func buySellBalance(buys, sells int) float64 {
	total := buys + sells
	if total == 0 {
		return 0
	}
	diff := buys - sells
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(total)
}

// contrarianHitRate returns ContrarianWins/ContrarianEntries.
func (s TraderStatsInput) contrarianHitRate() float64 {
	if s.ContrarianEntries == 0 {
		return 0
	}
	return float64(s.ContrarianWins) / float64(s.ContrarianEntries)
}

func isSharp(s TraderStatsInput) bool {
	return s.SettledCount >= 10 && s.winRate() >= 0.60 && zScore(s.SettledWins, s.SettledCount) > 1.5
}

func isSpecialist(s TraderStatsInput) bool {
	broad := s.TopCategoryVolumeShare >= 0.70 && s.TopCategorySettled >= 5 && s.TopCategoryWinRate > 0.55
	concentrated := s.TopCategoryVolumeShare >= 0.80 && s.TopCategoryVolumeUSD >= 10_000 && s.TopCategoryTradeCount >= 10
	return broad || concentrated
}

func isWhale(s TraderStatsInput) bool {
	return s.TotalVolumeUSD > 100_000 && s.AvgPositionSizeUSD > 5_000 && s.MarketsTraded < 30
}

func isDegen(s TraderStatsInput) bool {
	return s.SettledCount >= 10 && s.winRate() < 0.40 && s.TotalVolumeUSD > 5_000
}

func isMarketMaker(s TraderStatsInput) bool {
	return buySellBalance(s.BuyCount, s.SellCount) > 0.6 && s.TradeCount >= 50 && s.MarketsTraded >= 10
}

func isBot(s TraderStatsInput) bool {
	if s.MarketsTraded == 0 {
		return false
	}
	tradesPerMarket := float64(s.TradeCount) / float64(s.MarketsTraded)
	return s.TradeCount >= 200 && tradesPerMarket >= 15
}

func isContrarian(s TraderStatsInput) bool {
	return s.ContrarianEntries >= 5 && s.contrarianHitRate() >= 0.60
}

func isCasual(s TraderStatsInput) bool {
	return s.TradeCount < 10 || s.TotalVolumeUSD < 500
}

// Labels evaluates every predicate against s and returns the set of labels
// that apply (order: spec.md §4.10 table order), along with the detail
// payload each earns regardless of which labels fired — the UI shows the
// underlying numbers next to whichever labels apply.
func Labels(s TraderStatsInput) ([]types.BehavioralLabel, types.LabelDetails) {
	var labels []types.BehavioralLabel

	if isSharp(s) {
		labels = append(labels, types.LabelSharp)
	}
	if isSpecialist(s) {
		labels = append(labels, types.LabelSpecialist)
	}
	if isWhale(s) {
		labels = append(labels, types.LabelWhale)
	}
	if isDegen(s) {
		labels = append(labels, types.LabelDegen)
	}
	if isMarketMaker(s) {
		labels = append(labels, types.LabelMarketMaker)
	}
	if isBot(s) {
		labels = append(labels, types.LabelBot)
	}
	if isContrarian(s) {
		labels = append(labels, types.LabelContrarian)
	}
	if isCasual(s) {
		labels = append(labels, types.LabelCasual)
	}

	details := types.LabelDetails{
		WinRate:         s.winRate(),
		SettledCount:    s.SettledCount,
		AvgTradeSizeUSD: avgTradeSize(s),
		MarketsTraded:   s.MarketsTraded,
		TradesPerMarket: tradesPerMarket(s),
		PnLZScore:       zScore(s.SettledWins, s.SettledCount),
		BuySellRatio:    buySellBalance(s.BuyCount, s.SellCount),
		MedianHoldSecs:  s.MedianHoldSecs,
	}

	return labels, details
}

func avgTradeSize(s TraderStatsInput) float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return s.TotalVolumeUSD / float64(s.TradeCount)
}

func tradesPerMarket(s TraderStatsInput) float64 {
	if s.MarketsTraded == 0 {
		return 0
	}
	return float64(s.TradeCount) / float64(s.MarketsTraded)
}

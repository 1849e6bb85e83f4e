package analytics

// AssetFillStats is one asset's aggregate fill stats over a trading
// window, the unit hot-markets merging operates on before sibling tokens
// of the same question are combined into a single row.
type AssetFillStats struct {
	AssetID       string
	Question      string
	TotalVolume   float64
	TradeCount    uint64
	UniqueTraders uint64
}

// MergeSiblingMarkets groups rows by Question and merges siblings (e.g.
// the Yes/No legs of a binary market) into one row: volume and trade
// count sum across the group, the higher-volume sibling's asset ID is
// kept as the representative token_id, and unique-trader count takes the
// max across siblings (a safe lower bound given the same trader may
// appear on both legs).
//
// Rows with an empty Question are never merged — they pass through
// unchanged, one row per asset.
func MergeSiblingMarkets(rows []AssetFillStats) []AssetFillStats {
	type group struct {
		rep   AssetFillStats
		total AssetFillStats
	}

	order := make([]string, 0, len(rows))
	byQuestion := make(map[string]*group)
	var standalone []AssetFillStats

	for _, r := range rows {
		if r.Question == "" {
			standalone = append(standalone, r)
			continue
		}
		g, ok := byQuestion[r.Question]
		if !ok {
			g = &group{rep: r, total: r}
			byQuestion[r.Question] = g
			order = append(order, r.Question)
			continue
		}
		if r.TotalVolume > g.rep.TotalVolume {
			g.rep = r
		}
		g.total.TotalVolume += r.TotalVolume
		g.total.TradeCount += r.TradeCount
		if r.UniqueTraders > g.total.UniqueTraders {
			g.total.UniqueTraders = r.UniqueTraders
		}
	}

	merged := make([]AssetFillStats, 0, len(order)+len(standalone))
	for _, q := range order {
		g := byQuestion[q]
		merged = append(merged, AssetFillStats{
			AssetID:       g.rep.AssetID,
			Question:      q,
			TotalVolume:   g.total.TotalVolume,
			TradeCount:    g.total.TradeCount,
			UniqueTraders: g.total.UniqueTraders,
		})
	}
	merged = append(merged, standalone...)
	return merged
}

package analytics

// DeltaRow is one (date, trader, asset) position delta replayed through
// the simulator, ordered by date. Price is the asset's market price at
// the time of the delta, independent of any scaling/clipping applied to
// the delta's size.
type DeltaRow struct {
	Date        string
	Trader      string
	AssetID     string
	DeltaTokens float64
	DeltaCash   float64
	Price       float64
}

// assetState tracks a single asset's running position inside the
// simulator: accumulated tokens, net cash flow against it, and the most
// recent price observed for it.
type assetState struct {
	tokens    float64
	cashFlow  float64
	lastPrice float64
}

// SimPoint is one emitted point of a simulated portfolio value curve.
type SimPoint struct {
	Date   string
	Value  float64
	Cash   float64
	PnL    float64
	PnLPct float64
}

// Simulate replays deltas (already sorted by date, then trader, then
// asset) through the portfolio simulator described in spec.md §4.11:
// per-trader scaling, capital-constrained buy-clipping, one value point
// per date boundary, and a final-point overlay with resolved prices.
//
// scales maps trader address to the capital-scale factor computed for
// that trader (spec.md §4.9's `scale = (initial_capital * copy_pct /
// top_n) / avg_position_size`); a trader absent from scales is treated
// as scale 1.0.
func Simulate(initialCapital, preWindowCost float64, scales map[string]float64, deltas []DeltaRow, resolvedPrices map[string]float64) []SimPoint {
	cashBalance := initialCapital - preWindowCost
	if cashBalance < 0 {
		cashBalance = 0
	}

	assets := make(map[string]*assetState)
	assetOf := func(id string) *assetState {
		st, ok := assets[id]
		if !ok {
			st = &assetState{}
			assets[id] = st
		}
		return st
	}

	var points []SimPoint
	currentDate := ""
	emit := func(date string) {
		var tokenValue float64
		for _, st := range assets {
			tokenValue += st.tokens * st.lastPrice
		}
		value := cashBalance + tokenValue
		pnl := value - initialCapital
		pnlPct := 0.0
		if initialCapital != 0 {
			pnlPct = pnl / initialCapital
		}
		points = append(points, SimPoint{Date: date, Value: value, Cash: cashBalance, PnL: pnl, PnLPct: pnlPct})
	}

	for i, d := range deltas {
		if currentDate == "" {
			currentDate = d.Date
		} else if d.Date != currentDate {
			emit(currentDate)
			currentDate = d.Date
		}

		scale := scales[d.Trader]
		if scale == 0 {
			scale = 1.0
		}

		dTokens := d.DeltaTokens * scale
		dCash := d.DeltaCash * scale

		st := assetOf(d.AssetID)

		if dCash < 0 && -dCash > cashBalance {
			if cashBalance <= 0 {
				st.lastPrice = d.Price
				if i == len(deltas)-1 {
					emit(currentDate)
				}
				continue
			}
			clip := cashBalance / -dCash
			dTokens *= clip
			dCash *= clip
		}

		st.tokens += dTokens
		st.cashFlow += dCash
		st.lastPrice = d.Price
		cashBalance += dCash

		if i == len(deltas)-1 {
			emit(currentDate)
		}
	}

	if len(points) > 0 {
		overlayResolvedPrices(assets, resolvedPrices)
		last := points[len(points)-1]
		var tokenValue float64
		for _, st := range assets {
			tokenValue += st.tokens * st.lastPrice
		}
		value := cashBalance + tokenValue
		pnl := value - initialCapital
		pnlPct := 0.0
		if initialCapital != 0 {
			pnlPct = pnl / initialCapital
		}
		points[len(points)-1] = SimPoint{Date: last.Date, Value: value, Cash: cashBalance, PnL: pnl, PnLPct: pnlPct}
	}

	return points
}

// overlayResolvedPrices replaces each asset's last observed price with its
// on-chain resolved price, where one exists, so the final point reflects
// terminal settlement value rather than a stale mid-market price.
func overlayResolvedPrices(assets map[string]*assetState, resolvedPrices map[string]float64) {
	for id, price := range resolvedPrices {
		if st, ok := assets[id]; ok {
			st.lastPrice = price
		}
	}
}

// TraderScale computes the per-trader capital scale spec.md §4.9's
// backtest uses to size each copied trader's deltas:
// (initial_capital * copy_pct / top_n) / avg_position_size.
func TraderScale(initialCapital, copyPct float64, topN int, avgPositionSize float64) float64 {
	if topN <= 0 || avgPositionSize == 0 {
		return 0
	}
	return (initialCapital * copyPct / float64(topN)) / avgPositionSize
}

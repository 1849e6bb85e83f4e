package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"polydearboard/internal/apierr"
	"polydearboard/internal/chstore"
	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

// QueryLayer answers every analytics HTTP endpoint by rewriting a typed,
// already-validated parameter struct into a templated query against the
// analytics database, then enriching rows from MarketCache. It never
// computes realized PnL itself outside of Backtest — the analytics DB's
// materialized views (trader_positions, pnl_daily, asset_latest_price,
// asset_stats_daily) already carry it.
type QueryLayer struct {
	db     *chstore.DB
	cache  *market.Cache
	logger *slog.Logger
}

// New builds a QueryLayer bound to the analytics database and the warmed
// market cache used for question/category enrichment.
func New(db *chstore.DB, cache *market.Cache, logger *slog.Logger) *QueryLayer {
	return &QueryLayer{db: db, cache: cache, logger: logger.With("component", "query_layer")}
}

// LeaderboardParams is the validated parameter set for GET /leaderboard.
type LeaderboardParams struct {
	Sort      string
	Order     string
	Limit     int
	Offset    int
	Timeframe string
}

// Leaderboard answers GET /leaderboard. For timeframe "all" it reads the
// pre-aggregated trader_positions table as stored, including its
// realized_pnl column; no join to asset_latest_price or resolved_prices is
// made here. For "1h"/"24h" it aggregates the raw trades within the window,
// and realized_pnl is the net cash flow only (sell USDC minus buy USDC):
// tokens still held are not valued at any price.
func (q *QueryLayer) Leaderboard(ctx context.Context, p LeaderboardParams) (types.LeaderboardResponse, error) {
	sort, err := ValidateSort(p.Sort)
	if err != nil {
		return types.LeaderboardResponse{}, err
	}
	order, err := ValidateOrder(p.Order)
	if err != nil {
		return types.LeaderboardResponse{}, err
	}
	timeframe, err := ValidateTimeframe(p.Timeframe)
	if err != nil {
		return types.LeaderboardResponse{}, err
	}

	var query string
	if timeframe == "all" {
		query = fmt.Sprintf(`
			SELECT
				tp.address AS address,
				toString(tp.total_volume) AS total_volume,
				tp.trade_count AS trade_count,
				tp.markets_traded AS markets_traded,
				toString(tp.realized_pnl) AS realized_pnl,
				toString(tp.total_fees) AS total_fees,
				toString(tp.first_trade) AS first_trade,
				toString(tp.last_trade) AS last_trade
			FROM %s AS tp FINAL
			ORDER BY %s %s
			LIMIT ? OFFSET ?`, q.db.Table("trader_positions"), sort, order)
	} else {
		query = fmt.Sprintf(`
			SELECT
				trader AS address,
				toString(sum(usdc_amount)) AS total_volume,
				count() AS trade_count,
				uniqExact(asset_id) AS markets_traded,
				toString(sum(if(side = 'sell', usdc_amount, -usdc_amount))) AS realized_pnl,
				toString(sum(fee)) AS total_fees,
				toString(min(block_timestamp)) AS first_trade,
				toString(max(block_timestamp)) AS last_trade
			FROM %s
			WHERE block_timestamp >= now() - INTERVAL %s
			GROUP BY trader
			ORDER BY %s %s
			LIMIT ? OFFSET ?`, q.db.Table("trades"), timeframeInterval(timeframe), sort, order)
	}

	var rows []types.TraderSummary
	if err := q.db.Conn.Select(ctx, &rows, query, p.Limit, p.Offset); err != nil {
		return types.LeaderboardResponse{}, apierr.Upstream("leaderboard query: " + err.Error())
	}

	q.attachLabels(ctx, rows)

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM %s", q.db.Table("trader_positions"))
	if err := q.db.Conn.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		q.logger.Warn("leaderboard total count failed", "error", err)
	}

	return types.LeaderboardResponse{Traders: rows, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// attachLabels batch-computes behavioral labels for a page of leaderboard
// rows. A timeout or per-trader aggregation failure returns an empty label
// map for that row rather than failing the whole request — spec.md's
// fail-open rule for label computation.
func (q *QueryLayer) attachLabels(ctx context.Context, rows []types.TraderSummary) {
	for i := range rows {
		stats, err := q.traderStatsInput(ctx, rows[i].Address)
		if err != nil {
			q.logger.Warn("label stats lookup failed", "trader", rows[i].Address, "error", err)
			continue
		}
		labels, details := Labels(stats)
		strLabels := make([]string, len(labels))
		for j, l := range labels {
			strLabels[j] = string(l)
		}
		rows[i].Labels = strLabels
		rows[i].LabelDetails = map[string]types.LabelDetails{}
		for _, l := range labels {
			rows[i].LabelDetails[string(l)] = details
		}
	}
}

// traderStatsInput aggregates the raw numbers Labels' predicates need for
// one trader from the analytics DB.
func (q *QueryLayer) traderStatsInput(ctx context.Context, address string) (TraderStatsInput, error) {
	query := fmt.Sprintf(`
		SELECT
			sum(usdc_amount) AS total_volume,
			count() AS trade_count,
			uniqExact(asset_id) AS markets_traded,
			sum(if(side = 'buy', 1, 0)) AS buy_count,
			sum(if(side = 'sell', 1, 0)) AS sell_count,
			avg(usdc_amount) AS avg_position_size
		FROM %s
		WHERE trader = ?`, q.db.Table("trades"))

	var row struct {
		TotalVolume     float64 `db:"total_volume"`
		TradeCount      uint64  `db:"trade_count"`
		MarketsTraded   uint64  `db:"markets_traded"`
		BuyCount        uint64  `db:"buy_count"`
		SellCount       uint64  `db:"sell_count"`
		AvgPositionSize float64 `db:"avg_position_size"`
	}
	if err := q.db.Conn.QueryRow(ctx, query, address).ScanStruct(&row); err != nil {
		return TraderStatsInput{}, err
	}

	settled, err := q.settledStats(ctx, address)
	if err != nil {
		return TraderStatsInput{}, err
	}

	return TraderStatsInput{
		TotalVolumeUSD:     row.TotalVolume,
		TradeCount:         int(row.TradeCount),
		MarketsTraded:      int(row.MarketsTraded),
		BuyCount:           int(row.BuyCount),
		SellCount:          int(row.SellCount),
		AvgPositionSizeUSD: row.AvgPositionSize,
		SettledCount:       settled.count,
		SettledWins:        settled.wins,
	}, nil
}

type settledAggregate struct {
	count int
	wins  int
}

func (q *QueryLayer) settledStats(ctx context.Context, address string) (settledAggregate, error) {
	query := fmt.Sprintf(`
		SELECT
			count() AS settled_count,
			sum(if(is_win, 1, 0)) AS settled_wins
		FROM %s FINAL
		WHERE address = ? AND (resolved OR latest_price <= 0.005 OR latest_price >= 0.995)`,
		q.db.Table("trader_positions"))

	var row struct {
		SettledCount uint64 `db:"settled_count"`
		SettledWins  uint64 `db:"settled_wins"`
	}
	if err := q.db.Conn.QueryRow(ctx, query, address).ScanStruct(&row); err != nil {
		return settledAggregate{}, err
	}
	return settledAggregate{count: int(row.SettledCount), wins: int(row.SettledWins)}, nil
}

// TraderStats answers GET /trader/{addr}: one trader's aggregate row with
// no behavioral labels attached, the fast path for a plain stats lookup.
func (q *QueryLayer) TraderStats(ctx context.Context, address string) (types.TraderSummary, error) {
	query := fmt.Sprintf(`
		SELECT
			address,
			toString(total_volume) AS total_volume,
			trade_count,
			markets_traded,
			toString(realized_pnl) AS realized_pnl,
			toString(total_fees) AS total_fees,
			toString(first_trade) AS first_trade,
			toString(last_trade) AS last_trade
		FROM %s FINAL
		WHERE address = ?`, q.db.Table("trader_positions"))

	var row types.TraderSummary
	if err := q.db.Conn.QueryRow(ctx, query, address).ScanStruct(&row); err != nil {
		return types.TraderSummary{}, apierr.NotFound("trader not found: " + address)
	}
	return row, nil
}

// TraderProfile answers GET /trader/{addr}/profile: the same aggregate row
// as TraderStats, enriched with behavioral labels.
func (q *QueryLayer) TraderProfile(ctx context.Context, address string) (types.TraderSummary, error) {
	row, err := q.TraderStats(ctx, address)
	if err != nil {
		return types.TraderSummary{}, err
	}
	rows := []types.TraderSummary{row}
	q.attachLabels(ctx, rows)
	return rows[0], nil
}

// PnlChart answers GET /trader/{addr}/pnl-chart: a cumulative realized-PnL
// curve. The 24h timeframe derives hourly buckets from the raw trade
// stream; 7d/30d/all read the pre-aggregated pnl_daily table, whose daily
// rows the indexer already overlays with resolved prices on settlement, so
// no further overlay is needed here.
func (q *QueryLayer) PnlChart(ctx context.Context, address, timeframe string) (types.PnlChartResponse, error) {
	timeframe, err := ValidateTimeframe(timeframe)
	if err != nil {
		return types.PnlChartResponse{}, err
	}
	if timeframe == "all" {
		timeframe = "all"
	}

	var query string
	if timeframe == "24h" {
		query = fmt.Sprintf(`
			SELECT
				toString(bucket) AS timestamp,
				toString(sum(delta) OVER (ORDER BY bucket)) AS cum_pnl
			FROM (
				SELECT toStartOfHour(block_timestamp) AS bucket,
					sum(if(side = 'sell', usdc_amount, -usdc_amount)) AS delta
				FROM %s
				WHERE trader = ? AND block_timestamp >= now() - INTERVAL 24 HOUR
				GROUP BY bucket
			)
			ORDER BY bucket`, q.db.Table("trades"))
	} else {
		query = fmt.Sprintf(`
			SELECT toString(bucket_date) AS timestamp, toString(cum_pnl) AS cum_pnl
			FROM %s
			WHERE trader = ? AND bucket_date >= ?
			ORDER BY bucket_date`, q.db.Table("pnl_daily"))
	}

	var rows []types.PnlChartPoint
	var scanErr error
	if timeframe == "24h" {
		scanErr = q.db.Conn.Select(ctx, &rows, query, address)
	} else {
		scanErr = q.db.Conn.Select(ctx, &rows, query, address, windowStartDate(timeframe))
	}
	if scanErr != nil {
		return types.PnlChartResponse{}, apierr.Upstream("pnl chart query: " + scanErr.Error())
	}

	return types.PnlChartResponse{Points: rows, Range: timeframe}, nil
}

// TraderTrades answers GET /trader/{addr}/trades: raw trade history, most
// recent first, enriched with the question text from MarketCache.
func (q *QueryLayer) TraderTrades(ctx context.Context, address string, limit, offset int, side string) (types.TradesResponse, error) {
	whereSide := ""
	args := []any{address}
	if side != "" {
		whereSide = "AND side = ?"
		args = append(args, side)
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT
			tx_hash, block_number, toString(block_timestamp) AS block_timestamp,
			exchange, side, asset_id, toString(amount) AS amount,
			toString(price) AS price, toString(usdc_amount) AS usdc_amount, toString(fee) AS fee
		FROM %s
		WHERE trader = ? %s
		ORDER BY block_timestamp DESC
		LIMIT ? OFFSET ?`, q.db.Table("trades"), whereSide)

	var rows []types.TradeRecord
	if err := q.db.Conn.Select(ctx, &rows, query, args...); err != nil {
		return types.TradesResponse{}, apierr.Upstream("trader trades query: " + err.Error())
	}
	for i := range rows {
		if info, ok := q.cache.Lookup(rows[i].AssetID); ok {
			rows[i].Question = info.Question
		}
	}
	return types.TradesResponse{Trades: rows, Limit: limit, Offset: offset}, nil
}

// TraderPositions answers GET /trader/{addr}/positions, splitting rows
// into open/closed by the four-signal OR in positions.go.
func (q *QueryLayer) TraderPositions(ctx context.Context, address string) (types.PositionsResponse, error) {
	query := fmt.Sprintf(`
		SELECT
			asset_id, net_tokens, cost_basis, avg_entry_price, latest_price,
			resolved, resolved_price, condition_id
		FROM %s FINAL
		WHERE address = ?`, q.db.Table("trader_positions"))

	type posRow struct {
		AssetID       string   `db:"asset_id"`
		NetTokens     float64  `db:"net_tokens"`
		CostBasis     float64  `db:"cost_basis"`
		AvgEntryPrice float64  `db:"avg_entry_price"`
		LatestPrice   float64  `db:"latest_price"`
		Resolved      bool     `db:"resolved"`
		ResolvedPrice *float64 `db:"resolved_price"`
		ConditionID   string   `db:"condition_id"`
	}

	var rows []posRow
	if err := q.db.Conn.Select(ctx, &rows, query, address); err != nil {
		return types.PositionsResponse{}, apierr.Upstream("trader positions query: " + err.Error())
	}

	resp := types.PositionsResponse{}
	for _, r := range rows {
		info, _ := q.cache.Lookup(r.AssetID)
		catalogInactive := info.Question != "" && !info.Active

		effective := EffectivePrice(r.ResolvedPrice, r.LatestPrice)
		marketValue := r.NetTokens * effective
		unrealized := marketValue - r.CostBasis

		out := types.OpenPosition{
			AssetID:       r.AssetID,
			ConditionID:   r.ConditionID,
			Question:      info.Question,
			NetTokens:     strconv.FormatFloat(r.NetTokens, 'f', 6, 64),
			AvgEntryPrice: r.AvgEntryPrice,
			CurrentPrice:  effective,
			CostBasis:     strconv.FormatFloat(r.CostBasis, 'f', 6, 64),
			MarketValue:   strconv.FormatFloat(marketValue, 'f', 6, 64),
			UnrealizedPnL: strconv.FormatFloat(unrealized, 'f', 6, 64),
			Resolved:      r.Resolved,
		}

		settled := IsSettled(PositionSignals{
			OnChainResolved: r.Resolved,
			CatalogInactive: catalogInactive,
			LatestPrice:     r.LatestPrice,
			NetTokens:       r.NetTokens,
		})
		if settled {
			resp.Closed = append(resp.Closed, out)
		} else {
			resp.Open = append(resp.Open, out)
		}
	}
	return resp, nil
}

// RecentTrades answers GET /trades/recent: the most recent fills across all
// traders, optionally filtered to a single token.
func (q *QueryLayer) RecentTrades(ctx context.Context, limit int, tokenID string) (types.LiveFeedResponse, error) {
	var query string
	var args []any
	if tokenID != "" {
		if err := ValidateTokenID(tokenID); err != nil {
			return types.LiveFeedResponse{}, err
		}
		query = fmt.Sprintf(`
			SELECT tx_hash, block_number, toString(block_timestamp) AS block_timestamp,
				trader, side, asset_id, toString(amount) AS amount,
				toString(price) AS price, toString(usdc_amount) AS usdc_amount
			FROM %s WHERE asset_id = ? ORDER BY block_timestamp DESC LIMIT ?`, q.db.Table("trades"))
		args = []any{tokenID, limit}
	} else {
		query = fmt.Sprintf(`
			SELECT tx_hash, block_number, toString(block_timestamp) AS block_timestamp,
				trader, side, asset_id, toString(amount) AS amount,
				toString(price) AS price, toString(usdc_amount) AS usdc_amount
			FROM %s ORDER BY block_timestamp DESC LIMIT ?`, q.db.Table("trades"))
		args = []any{limit}
	}

	var rows []types.FeedTrade
	if err := q.db.Conn.Select(ctx, &rows, query, args...); err != nil {
		return types.LiveFeedResponse{}, apierr.Upstream("recent trades query: " + err.Error())
	}
	for i := range rows {
		if info, ok := q.cache.Lookup(rows[i].AssetID); ok {
			rows[i].Question = info.Question
		}
	}
	return types.LiveFeedResponse{Trades: rows}, nil
}

// ResolveMarkets answers GET /market/resolve: the resolution status of each
// requested token, enriched from MarketCache and the resolved_prices table.
func (q *QueryLayer) ResolveMarkets(ctx context.Context, tokenIDs []string) ([]types.ResolvedMarket, error) {
	prices, err := q.resolvedPrices(ctx, tokenIDs)
	if err != nil {
		q.logger.Warn("resolve markets price lookup failed", "error", err)
	}

	out := make([]types.ResolvedMarket, len(tokenIDs))
	for i, id := range tokenIDs {
		info, _ := q.cache.Lookup(id)
		price, resolved := prices[id]
		out[i] = types.ResolvedMarket{
			AssetID:       id,
			ConditionID:   info.ConditionID,
			Question:      info.Question,
			ResolvedPrice: price,
			Resolved:      resolved,
		}
	}
	return out, nil
}

// HotMarkets answers GET /markets/hot: fills are grouped by asset over the
// window, oversampled 3x to absorb the sibling merge, then merged by
// question and truncated back to the requested limit.
func (q *QueryLayer) HotMarkets(ctx context.Context, limit int, timeframe string) (types.HotMarketsResponse, error) {
	timeframe, err := ValidateTimeframe(timeframe)
	if err != nil {
		return types.HotMarketsResponse{}, err
	}

	query := fmt.Sprintf(`
		SELECT asset_id, toString(sum(usdc_amount)) AS total_volume, count() AS trade_count, uniqExact(trader) AS unique_traders
		FROM %s
		WHERE block_timestamp >= now() - INTERVAL %s
		GROUP BY asset_id
		ORDER BY sum(usdc_amount) DESC
		LIMIT ?`, q.db.Table("trades"), timeframeInterval(timeframe))

	type fillRow struct {
		AssetID       string `db:"asset_id"`
		TotalVolume   string `db:"total_volume"`
		TradeCount    uint64 `db:"trade_count"`
		UniqueTraders uint64 `db:"unique_traders"`
	}
	var rows []fillRow
	if err := q.db.Conn.Select(ctx, &rows, query, limit*3); err != nil {
		return types.HotMarketsResponse{}, apierr.Upstream("hot markets query: " + err.Error())
	}

	stats := make([]AssetFillStats, len(rows))
	for i, r := range rows {
		info, _ := q.cache.Lookup(r.AssetID)
		vol, _ := strconv.ParseFloat(r.TotalVolume, 64)
		stats[i] = AssetFillStats{
			AssetID:       r.AssetID,
			Question:      info.Question,
			TotalVolume:   vol,
			TradeCount:    r.TradeCount,
			UniqueTraders: r.UniqueTraders,
		}
	}

	merged := MergeSiblingMarkets(stats)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	out := make([]types.HotMarket, len(merged))
	for i, m := range merged {
		info, _ := q.cache.Lookup(m.AssetID)
		out[i] = types.HotMarket{
			AssetID:       m.AssetID,
			ConditionID:   info.ConditionID,
			Question:      m.Question,
			TradeCount:    m.TradeCount,
			TotalVolume:   strconv.FormatFloat(m.TotalVolume, 'f', 6, 64),
			UniqueTraders: m.UniqueTraders,
		}
	}
	return types.HotMarketsResponse{Markets: out}, nil
}

// SmartMoney answers GET /smart-money: the active unsettled positions of
// the top-N PnL traders, one row per (trader, asset) position. Rows are not
// aggregated per asset and not merged by question.
func (q *QueryLayer) SmartMoney(ctx context.Context, topN int) (types.SmartMoneyResponse, error) {
	query := fmt.Sprintf(`
		SELECT address FROM %s FINAL ORDER BY realized_pnl DESC LIMIT ?`, q.db.Table("trader_positions"))

	var traders []string
	if err := q.db.Conn.Select(ctx, &traders, query, topN); err != nil {
		return types.SmartMoneyResponse{}, apierr.Upstream("smart money traders query: " + err.Error())
	}
	if len(traders) == 0 {
		return types.SmartMoneyResponse{}, nil
	}

	posQuery := fmt.Sprintf(`
		SELECT address, asset_id, net_tokens, cost_basis, avg_entry_price, latest_price
		FROM %s FINAL
		WHERE address IN ? AND NOT resolved AND latest_price > 0.01 AND latest_price < 0.99 AND abs(net_tokens) > 0.01`,
		q.db.Table("trader_positions"))

	type row struct {
		Address       string  `db:"address"`
		AssetID       string  `db:"asset_id"`
		NetTokens     float64 `db:"net_tokens"`
		CostBasis     float64 `db:"cost_basis"`
		AvgEntryPrice float64 `db:"avg_entry_price"`
		LatestPrice   float64 `db:"latest_price"`
	}
	var rows []row
	if err := q.db.Conn.Select(ctx, &rows, posQuery, traders); err != nil {
		return types.SmartMoneyResponse{}, apierr.Upstream("smart money positions query: " + err.Error())
	}

	out := make([]types.SmartMoneyRow, len(rows))
	for i, r := range rows {
		info, _ := q.cache.Lookup(r.AssetID)
		out[i] = types.SmartMoneyRow{
			AssetID:       r.AssetID,
			ConditionID:   info.ConditionID,
			Question:      info.Question,
			Trader:        r.Address,
			NetTokens:     strconv.FormatFloat(r.NetTokens, 'f', 6, 64),
			AvgEntryPrice: r.AvgEntryPrice,
			CostBasis:     strconv.FormatFloat(r.CostBasis, 'f', 6, 64),
		}
	}
	return types.SmartMoneyResponse{Positions: out}, nil
}

// Backtest answers POST /lab/backtest: picks the top-N PnL traders,
// computes each one's capital scale, and replays their daily position
// deltas through the portfolio simulator.
func (q *QueryLayer) Backtest(ctx context.Context, topN int, timeframe string, initialCapital, copyPct float64) (types.BacktestResponse, error) {
	timeframe, err := ValidateTimeframe(timeframe)
	if err != nil {
		return types.BacktestResponse{}, err
	}

	type traderAgg struct {
		Address         string  `db:"address"`
		AvgPositionSize float64 `db:"avg_position_size"`
	}
	query := fmt.Sprintf(`
		SELECT address, avg(abs(net_tokens * avg_entry_price)) AS avg_position_size
		FROM %s FINAL
		ORDER BY realized_pnl DESC
		LIMIT ?`, q.db.Table("trader_positions"))

	var traders []traderAgg
	if err := q.db.Conn.Select(ctx, &traders, query, topN); err != nil {
		return types.BacktestResponse{}, apierr.Upstream("backtest trader selection query: " + err.Error())
	}
	if len(traders) == 0 {
		return types.BacktestResponse{}, nil
	}

	scales := make(map[string]float64, len(traders))
	btTraders := make([]types.BacktestTrader, len(traders))
	addresses := make([]string, len(traders))
	for i, t := range traders {
		scale := TraderScale(initialCapital, copyPct, len(traders), t.AvgPositionSize)
		scales[t.Address] = scale
		btTraders[i] = types.BacktestTrader{Address: t.Address, Scale: scale}
		addresses[i] = t.Address
	}

	deltaQuery := fmt.Sprintf(`
		SELECT toString(toDate(bucket_date)) AS date, trader, asset_id,
			delta_tokens, delta_cash, last_price
		FROM %s
		WHERE trader IN ? AND bucket_date >= ?
		ORDER BY bucket_date, trader, asset_id`, q.db.Table("pnl_daily"))

	type deltaRowDB struct {
		Date        string  `db:"date"`
		Trader      string  `db:"trader"`
		AssetID     string  `db:"asset_id"`
		DeltaTokens float64 `db:"delta_tokens"`
		DeltaCash   float64 `db:"delta_cash"`
		LastPrice   float64 `db:"last_price"`
	}
	var dbDeltas []deltaRowDB
	if err := q.db.Conn.Select(ctx, &dbDeltas, deltaQuery, addresses, windowStartDate(timeframe)); err != nil {
		return types.BacktestResponse{}, apierr.Upstream("backtest delta query: " + err.Error())
	}

	deltas := make([]DeltaRow, len(dbDeltas))
	assetIDs := make([]string, 0, len(dbDeltas))
	seenAsset := make(map[string]bool, len(dbDeltas))
	for i, d := range dbDeltas {
		deltas[i] = DeltaRow{
			Date: d.Date, Trader: d.Trader, AssetID: d.AssetID,
			DeltaTokens: d.DeltaTokens, DeltaCash: d.DeltaCash, Price: d.LastPrice,
		}
		if !seenAsset[d.AssetID] {
			seenAsset[d.AssetID] = true
			assetIDs = append(assetIDs, d.AssetID)
		}
	}

	resolvedPrices, err := q.resolvedPrices(ctx, assetIDs)
	if err != nil {
		q.logger.Warn("backtest resolved-price overlay failed", "error", err)
	}

	points := Simulate(initialCapital, 0, scales, deltas, resolvedPrices)

	respPoints := make([]types.PortfolioPoint, len(points))
	for i, p := range points {
		respPoints[i] = types.PortfolioPoint{
			Timestamp: p.Date,
			Value:     strconv.FormatFloat(p.Value, 'f', 6, 64),
			Cash:      strconv.FormatFloat(p.Cash, 'f', 6, 64),
		}
	}

	var finalValue float64
	var returnPct float64
	if len(points) > 0 {
		finalValue = points[len(points)-1].Value
		if initialCapital != 0 {
			returnPct = (finalValue - initialCapital) / initialCapital
		}
	}

	// Each trader's individual contribution is reported by replaying just
	// their own deltas against their own capital allocation — the joint
	// simulation above shares one cash pool across all copied traders, so
	// per-trader attribution needs its own isolated run.
	perTraderCapital := initialCapital * copyPct / float64(len(traders))
	for i, t := range traders {
		var own []DeltaRow
		for _, d := range deltas {
			if d.Trader == t.Address {
				own = append(own, d)
			}
		}
		ownPoints := Simulate(perTraderCapital, 0, map[string]float64{t.Address: scales[t.Address]}, own, resolvedPrices)
		final := perTraderCapital
		if len(ownPoints) > 0 {
			final = ownPoints[len(ownPoints)-1].Value
		}
		btTraders[i].FinalValue = strconv.FormatFloat(final, 'f', 6, 64)
	}

	return types.BacktestResponse{
		Points:  respPoints,
		Traders: btTraders,
		Summary: types.BacktestSummary{
			StartingCash: initialCapital,
			FinalValue:   strconv.FormatFloat(finalValue, 'f', 6, 64),
			ReturnPct:    returnPct,
		},
	}, nil
}

// resolvedPrices looks up the on-chain resolved price for each asset id
// that has one, for the final-point overlay spec.md §4.11 step 5 requires.
// Assets with no resolved_prices row are simply absent from the result —
// Simulate leaves their last observed market price untouched.
func (q *QueryLayer) resolvedPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT asset_id, resolved_price FROM %s WHERE asset_id IN ?`, q.db.Table("resolved_prices"))

	type row struct {
		AssetID string  `db:"asset_id"`
		Price   float64 `db:"resolved_price"`
	}
	var rows []row
	if err := q.db.Conn.Select(ctx, &rows, query, assetIDs); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.AssetID] = r.Price
	}
	return out, nil
}

// CopyPortfolio answers GET /lab/copy-portfolio: an equal-weight, live
// snapshot of what copying the top-N PnL traders' currently open positions
// would hold right now, aggregated by asset. Unlike Backtest it replays
// nothing — it is a point-in-time view, so each selected trader contributes
// at an equal 1/N weight (N = the number of traders actually returned,
// which can be fewer than topN) rather than a capital-derived scale.
func (q *QueryLayer) CopyPortfolio(ctx context.Context, topN int) (types.CopyPortfolioResponse, error) {
	if topN <= 0 {
		return types.CopyPortfolioResponse{}, apierr.Parse("top must be positive")
	}

	query := fmt.Sprintf(`SELECT address FROM %s FINAL ORDER BY realized_pnl DESC LIMIT ?`, q.db.Table("trader_positions"))
	var traders []string
	if err := q.db.Conn.Select(ctx, &traders, query, topN); err != nil {
		return types.CopyPortfolioResponse{}, apierr.Upstream("copy portfolio trader selection query: " + err.Error())
	}
	if len(traders) == 0 {
		return types.CopyPortfolioResponse{}, nil
	}
	weight := 1.0 / float64(len(traders))

	posQuery := fmt.Sprintf(`
		SELECT asset_id, net_tokens, cost_basis, latest_price, resolved, resolved_price
		FROM %s FINAL
		WHERE address IN ? AND NOT resolved AND abs(net_tokens) > 0.01`,
		q.db.Table("trader_positions"))

	type row struct {
		AssetID       string   `db:"asset_id"`
		NetTokens     float64  `db:"net_tokens"`
		CostBasis     float64  `db:"cost_basis"`
		LatestPrice   float64  `db:"latest_price"`
		Resolved      bool     `db:"resolved"`
		ResolvedPrice *float64 `db:"resolved_price"`
	}
	var rows []row
	if err := q.db.Conn.Select(ctx, &rows, posQuery, traders); err != nil {
		return types.CopyPortfolioResponse{}, apierr.Upstream("copy portfolio positions query: " + err.Error())
	}

	type agg struct {
		netTokens, costBasis, marketValue float64
	}
	byAsset := make(map[string]*agg)
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		a, ok := byAsset[r.AssetID]
		if !ok {
			a = &agg{}
			byAsset[r.AssetID] = a
			order = append(order, r.AssetID)
		}
		effective := EffectivePrice(r.ResolvedPrice, r.LatestPrice)
		a.netTokens += r.NetTokens * weight
		a.costBasis += r.CostBasis * weight
		a.marketValue += r.NetTokens * weight * effective
	}

	positions := make([]types.CopyPortfolioRow, len(order))
	var startingCash, finalValue float64
	for i, id := range order {
		a := byAsset[id]
		positions[i] = types.CopyPortfolioRow{
			AssetID:   id,
			NetTokens: strconv.FormatFloat(a.netTokens, 'f', 6, 64),
			CostBasis: strconv.FormatFloat(a.costBasis, 'f', 6, 64),
		}
		startingCash += a.costBasis
		finalValue += a.marketValue
	}

	var returnPct float64
	if startingCash != 0 {
		returnPct = (finalValue - startingCash) / startingCash
	}

	return types.CopyPortfolioResponse{
		Positions: positions,
		Summary: types.BacktestSummary{
			StartingCash: startingCash,
			FinalValue:   strconv.FormatFloat(finalValue, 'f', 6, 64),
			ReturnPct:    returnPct,
		},
	}, nil
}

// Health answers GET /health: coarse liveness counters from the analytics
// DB. wsActive is threaded in by the caller (it reflects in-process
// ingestion state, not anything queryable from the DB).
func (q *QueryLayer) Health(ctx context.Context, wsActive bool) (types.HealthResponse, error) {
	type row struct {
		TradeCount  uint64 `db:"trade_count"`
		TraderCount uint64 `db:"trader_count"`
		LatestBlock uint64 `db:"latest_block"`
	}
	query := fmt.Sprintf(`
		SELECT count() AS trade_count, uniqExact(trader) AS trader_count, max(block_number) AS latest_block
		FROM %s`, q.db.Table("trades"))

	var r row
	if err := q.db.Conn.QueryRow(ctx, query).ScanStruct(&r); err != nil {
		return types.HealthResponse{}, apierr.Upstream("health query: " + err.Error())
	}

	return types.HealthResponse{
		Status:      "ok",
		TradeCount:  r.TradeCount,
		TraderCount: r.TraderCount,
		LatestBlock: r.LatestBlock,
		WSActive:    wsActive,
	}, nil
}

// DistinctAssetIDs returns every asset id the trades table has ever seen,
// used by the caller at startup to compute MarketCache's TargetPrefixes so
// the warm pass can stop early once every asset already traded is covered.
func (q *QueryLayer) DistinctAssetIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT asset_id FROM %s`, q.db.Table("trades"))

	var ids []string
	if err := q.db.Conn.Select(ctx, &ids, query); err != nil {
		return nil, apierr.Upstream("distinct asset ids query: " + err.Error())
	}
	return ids, nil
}

// windowStartDate computes the inclusive start date for a day-bucketed
// timeframe filter (pnl_daily's bucket_date column), computed in Go and
// bound as a parameter rather than interpolated — ClickHouse has no
// equivalent builtin. "all" reaches back far enough to include the full
// history of any deployment.
func windowStartDate(timeframe string) string {
	now := time.Now().UTC()
	switch timeframe {
	case "7d":
		return now.AddDate(0, 0, -7).Format("2006-01-02")
	case "30d":
		return now.AddDate(0, 0, -30).Format("2006-01-02")
	default: // "all"
		return now.AddDate(-100, 0, 0).Format("2006-01-02")
	}
}

func timeframeInterval(timeframe string) string {
	switch timeframe {
	case "1h":
		return "1 HOUR"
	case "24h":
		return "24 HOUR"
	case "7d":
		return "7 DAY"
	case "30d":
		return "30 DAY"
	default:
		return "100 YEAR"
	}
}

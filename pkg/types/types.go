// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the service — market metadata,
// decoded trade/resolution events, broadcast envelopes, and the auth/query
// response shapes served over HTTP. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the cached metadata for one outcome token, keyed in
// MarketCache by its 15-digit significand digest. Populated by the Gamma
// API warm protocol and refreshed on demand.
type MarketInfo struct {
	ConditionID string   // CTF condition ID, used to join resolution events
	Question    string   // the prediction question
	Category    string   // Gamma API tag, e.g. "Politics", "Sports"
	Active      bool     // market is live (not yet resolved)
	TokenID     string   // the gamma token id this entry was resolved from (may differ in encoding from the lookup digest)
	OutcomeIndex int     // index of this token within AllTokenIDs/Outcomes
	AllTokenIDs []string // every outcome token id in the market, in outcome order
	Outcomes    []string // human outcome labels, parallel to AllTokenIDs
}

// ResolvedPriceRow is one row of the resolved-price table: the terminal
// settlement price for a token whose market has resolved.
type ResolvedPriceRow struct {
	AssetID       string
	ConditionID   string
	ResolvedPrice float64 // numerator[outcome] / sum(numerators), 6 decimal places
	Block         uint64
}

// ————————————————————————————————————————————————————————————————————————
// Decoded on-chain events
// ————————————————————————————————————————————————————————————————————————

// Exchange identifies which CTF exchange contract emitted a fill.
type Exchange string

const (
	ExchangeCTF     Exchange = "ctf"
	ExchangeNegRisk Exchange = "neg_risk"
)

// TradeSide is the classified direction of a decoded fill, from the
// perspective of the order's maker, who is recorded as the trader.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
	SideMint TradeSide = "mint" // neither leg was USDC — a mint/merge, not a trade
)

// LiveTrade is a fully decoded OrderFilled event, enriched with market
// metadata when available. Emitted by EventDecoder and carried through
// BroadcastHub and the analytics ingestion path.
type LiveTrade struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint      `json:"log_index"`
	Timestamp   time.Time `json:"timestamp"`
	Exchange    Exchange  `json:"exchange"`
	Trader      string    `json:"trader"` // lowercase hex address
	Side        TradeSide `json:"side"`
	AssetID     string    `json:"asset_id"`  // raw on-chain token id as it appeared in the log
	Amount      string    `json:"amount"`    // token amount, "whole.frac6" decimal string
	Price       float64   `json:"price"`     // usdc / token, 0 if token amount is zero
	USDCAmount  string    `json:"usdc_amount"` // "whole.frac6" decimal string

	// Enrichment, populated via MarketCache lookup; empty if the market
	// hasn't been warmed into the cache yet.
	ConditionID string `json:"condition_id,omitempty"`
	Question    string `json:"question,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Category    string `json:"category,omitempty"`

	// CacheKey is the 15-digit significand digest computed from AssetID.
	// Transient: never persisted, never sent to clients.
	CacheKey string `json:"-"`
}

// ConditionResolution is a decoded (or webhook-delivered) market settlement.
type ConditionResolution struct {
	ConditionID    string    `json:"condition_id"`
	Question       string    `json:"question,omitempty"`
	Payouts        []uint64  `json:"payouts"` // raw numerators, one per outcome
	Block          uint64    `json:"block"`
	Timestamp      time.Time `json:"timestamp"`

	// Enrichment, populated from MarketCache (or a verified catalog
	// lookup on a cache miss); empty when neither could resolve the
	// condition id.
	Outcomes       []string `json:"outcomes,omitempty"`
	TokenID        string   `json:"token_id,omitempty"`
	WinningOutcome string   `json:"winning_outcome,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Alerts & broadcast envelopes
// ————————————————————————————————————————————————————————————————————————

// AlertKind tags the variant carried by an Alert.
type AlertKind string

const (
	AlertWhaleTrade       AlertKind = "whale_trade"
	AlertMarketResolution AlertKind = "market_resolution"
	AlertFailedSettlement AlertKind = "failed_settlement"
)

// Alert is the tagged union broadcast on the /ws/alerts gateway. Exactly one
// of the variant fields is populated, matching Kind.
type Alert struct {
	Kind AlertKind `json:"kind"`

	WhaleTrade       *LiveTrade            `json:"whale_trade,omitempty"`
	MarketResolution *ConditionResolution  `json:"market_resolution,omitempty"`
	FailedSettlement *FailedSettlementInfo `json:"failed_settlement,omitempty"`
}

// FailedSettlementInfo describes a resolution event whose payout vector
// could not be resolved against any cached or catalog market. No code path
// in this service emits this variant: an unresolvable resolution is
// published as a market_resolution alert carrying only its raw fields.
type FailedSettlementInfo struct {
	ConditionID string `json:"condition_id"`
	Reason      string `json:"reason"`
}

// SignalKind tags the variant carried by a SignalMessage on /ws/signals.
type SignalKind string

const (
	SignalTrade       SignalKind = "trade"
	SignalConvergence SignalKind = "convergence"
	SignalLag         SignalKind = "lag"
)

// SignalMessage is the tagged union framed on the curated-trader signal
// gateway. Exactly one of Trade/Convergence/Dropped is populated.
type SignalMessage struct {
	Kind SignalKind `json:"kind"`

	Trade       *LiveTrade        `json:"trade,omitempty"`
	Convergence *ConvergenceAlert `json:"convergence,omitempty"`
	Dropped     int               `json:"dropped,omitempty"` // number of messages dropped before this Lag signal
}

// ConvergenceSide is the dominant trade direction carried by a
// ConvergenceAlert. It's distinct from TradeSide (whose values are
// lowercase "buy"/"sell") because the convergence surface uses uppercase
// "BUY"/"SELL" in its API contract.
type ConvergenceSide string

const (
	ConvergenceBuy  ConvergenceSide = "BUY"
	ConvergenceSell ConvergenceSide = "SELL"
)

// ConvergenceAlert fires when distinct curated traders accumulate positions
// in the same asset within the detector's sliding window.
type ConvergenceAlert struct {
	AssetID       string          `json:"asset_id"`
	ConditionID   string          `json:"condition_id,omitempty"`
	Question      string          `json:"question,omitempty"`
	Outcome       string          `json:"outcome,omitempty"`
	Traders       []string        `json:"traders"`
	TraderCount   int             `json:"trader_count"`
	TradeCount    int             `json:"trade_count"`
	WindowSeconds int             `json:"window_seconds"`
	Side          ConvergenceSide `json:"side"`
	TotalUSDC     string          `json:"total_usdc"`
	FirstSeen     time.Time       `json:"first_seen"`
	LastSeen      time.Time       `json:"last_seen"`
}

// ————————————————————————————————————————————————————————————————————————
// Auth & trader lists
// ————————————————————————————————————————————————————————————————————————

// UserAccount is a row of the local users table: a wallet address with a
// rotating sign-in nonce.
type UserAccount struct {
	Address   string
	Nonce     string
	IssuedAt  time.Time
	CreatedAt time.Time
	LastLogin time.Time
}

// TraderList is a named, owned collection of watched trader addresses.
type TraderList struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TraderListMember is one watched address within a TraderList.
type TraderListMember struct {
	Address string    `json:"address"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// TraderListDetail is a TraderList with its members resolved.
type TraderListDetail struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Members   []TraderListMember `json:"members"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Analytics / query response shapes
// ————————————————————————————————————————————————————————————————————————

// TraderSummary is one row of the leaderboard or a single-trader stats
// lookup.
type TraderSummary struct {
	Address       string `json:"address" db:"address"`
	TotalVolume   string `json:"total_volume" db:"total_volume"`
	TradeCount    uint64 `json:"trade_count" db:"trade_count"`
	MarketsTraded uint64 `json:"markets_traded" db:"markets_traded"`
	RealizedPnL   string `json:"realized_pnl" db:"realized_pnl"`
	TotalFees     string `json:"total_fees" db:"total_fees"`
	FirstTrade    string `json:"first_trade" db:"first_trade"`
	LastTrade     string `json:"last_trade" db:"last_trade"`

	Labels       []string                `json:"labels,omitempty"`
	LabelDetails map[string]LabelDetails `json:"label_details,omitempty"`
}

// LeaderboardResponse is the payload for GET /api/leaderboard.
type LeaderboardResponse struct {
	Traders []TraderSummary `json:"traders"`
	Total   uint64          `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// TradeRecord is one row of a trader's trade history.
type TradeRecord struct {
	TxHash         string `json:"tx_hash" db:"tx_hash"`
	BlockNumber    uint64 `json:"block_number" db:"block_number"`
	BlockTimestamp string `json:"block_timestamp" db:"block_timestamp"`
	Exchange       string `json:"exchange" db:"exchange"`
	Side           string `json:"side" db:"side"`
	AssetID        string `json:"asset_id" db:"asset_id"`
	Amount         string `json:"amount" db:"amount"`
	Price          string `json:"price" db:"price"`
	USDCAmount     string `json:"usdc_amount" db:"usdc_amount"`
	Fee            string `json:"fee" db:"fee"`

	Question string `json:"question,omitempty"`
}

// TradesResponse is the payload for GET /api/trader/{addr}/trades.
type TradesResponse struct {
	Trades []TradeRecord `json:"trades"`
	Total  uint64        `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// HealthResponse is the payload for GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	TradeCount  uint64 `json:"trade_count"`
	TraderCount uint64 `json:"trader_count"`
	LatestBlock uint64 `json:"latest_block"`
	WSActive    bool   `json:"ws_active"`
}

// HotMarket is one row of GET /api/markets/hot.
type HotMarket struct {
	AssetID      string `json:"asset_id"`
	ConditionID  string `json:"condition_id,omitempty"`
	Question     string `json:"question,omitempty"`
	TradeCount   uint64 `json:"trade_count"`
	TotalVolume  string `json:"total_volume"`
	UniqueTraders uint64 `json:"unique_traders"`
}

// HotMarketsResponse is the payload for GET /api/markets/hot.
type HotMarketsResponse struct {
	Markets []HotMarket `json:"markets"`
}

// FeedTrade is one row of GET /api/trades/recent.
type FeedTrade struct {
	TxHash         string `json:"tx_hash"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp string `json:"block_timestamp"`
	Trader         string `json:"trader"`
	Side           string `json:"side"`
	AssetID        string `json:"asset_id"`
	Amount         string `json:"amount"`
	Price          string `json:"price"`
	USDCAmount     string `json:"usdc_amount"`
	Question       string `json:"question,omitempty"`
}

// LiveFeedResponse is the payload for GET /api/trades/recent.
type LiveFeedResponse struct {
	Trades []FeedTrade `json:"trades"`
}

// OpenPosition is one row of GET /api/trader/{addr}/positions.
type OpenPosition struct {
	AssetID       string  `json:"asset_id"`
	ConditionID   string  `json:"condition_id,omitempty"`
	Question      string  `json:"question,omitempty"`
	NetTokens     string  `json:"net_tokens"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	CostBasis     string  `json:"cost_basis"`
	MarketValue   string  `json:"market_value"`
	UnrealizedPnL string  `json:"unrealized_pnl"`
	Resolved      bool    `json:"resolved"`
}

// PositionsResponse is the payload for GET /api/trader/{addr}/positions.
type PositionsResponse struct {
	Open   []OpenPosition `json:"open"`
	Closed []OpenPosition `json:"closed"`
}

// PnlChartPoint is one point of GET /api/trader/{addr}/pnl-chart.
type PnlChartPoint struct {
	Timestamp   string `json:"timestamp"`
	CumPnL      string `json:"cum_pnl"`
}

// PnlChartResponse is the payload for GET /api/trader/{addr}/pnl-chart.
type PnlChartResponse struct {
	Points []PnlChartPoint `json:"points"`
	Range  string          `json:"range"` // "24h", "7d", "30d", "all"
}

// ResolvedMarket is the payload for GET /api/market/resolve.
type ResolvedMarket struct {
	AssetID       string  `json:"asset_id"`
	ConditionID   string  `json:"condition_id"`
	Question      string  `json:"question"`
	ResolvedPrice float64 `json:"resolved_price"`
	Resolved      bool    `json:"resolved"`
}

// BehavioralLabel enumerates the non-exclusive trader-archetype labels.
type BehavioralLabel string

const (
	LabelSharp       BehavioralLabel = "sharp"
	LabelSpecialist  BehavioralLabel = "specialist"
	LabelWhale       BehavioralLabel = "whale"
	LabelDegen       BehavioralLabel = "degen"
	LabelMarketMaker BehavioralLabel = "market_maker"
	LabelBot         BehavioralLabel = "bot"
	LabelContrarian  BehavioralLabel = "contrarian"
	LabelCasual      BehavioralLabel = "casual"
)

// LabelDetails carries the aggregate statistics a label was derived from,
// for display alongside the label itself.
type LabelDetails struct {
	WinRate          float64 `json:"win_rate"`
	SettledCount     int     `json:"settled_count"`
	AvgTradeSizeUSD  float64 `json:"avg_trade_size_usd"`
	MarketsTraded    int     `json:"markets_traded"`
	TradesPerMarket  float64 `json:"trades_per_market"`
	PnLZScore        float64 `json:"pnl_zscore"`
	BuySellRatio     float64 `json:"buy_sell_ratio"`
	MedianHoldSecs   float64 `json:"median_hold_secs"`
}

// SmartMoneyRow is one row of GET /api/smart-money.
type SmartMoneyRow struct {
	AssetID       string  `json:"asset_id"`
	ConditionID   string  `json:"condition_id,omitempty"`
	Question      string  `json:"question,omitempty"`
	Trader        string  `json:"trader"`
	NetTokens     string  `json:"net_tokens"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CostBasis     string  `json:"cost_basis"`
}

// SmartMoneyResponse is the payload for GET /api/smart-money.
type SmartMoneyResponse struct {
	Positions []SmartMoneyRow `json:"positions"`
}

// The request body for POST /api/lab/backtest follows spec.md §4.9's
// documented shape (top_n, timeframe, initial_capital, copy_pct) rather
// than a trader/scale list — see internal/api's backtestRequest.

// PortfolioPoint is one point of a simulated portfolio value curve.
type PortfolioPoint struct {
	Timestamp string `json:"timestamp"`
	Value     string `json:"value"`
	Cash      string `json:"cash"`
}

// BacktestTrader is one trader's contribution to a backtest result.
type BacktestTrader struct {
	Address    string  `json:"address"`
	Scale      float64 `json:"scale"`
	FinalValue string  `json:"final_value"`
}

// BacktestSummary totals a backtest run.
type BacktestSummary struct {
	StartingCash float64 `json:"starting_cash"`
	FinalValue   string  `json:"final_value"`
	ReturnPct    float64 `json:"return_pct"`
}

// BacktestResponse is the payload for POST /api/lab/backtest.
type BacktestResponse struct {
	Points  []PortfolioPoint `json:"points"`
	Traders []BacktestTrader `json:"traders"`
	Summary BacktestSummary  `json:"summary"`
}

// CopyPortfolioRow is one row of a copy-portfolio simulation.
type CopyPortfolioRow struct {
	AssetID   string `json:"asset_id"`
	NetTokens string `json:"net_tokens"`
	CostBasis string `json:"cost_basis"`
}

// CopyPortfolioResponse is the payload for GET /api/lab/copy-portfolio.
type CopyPortfolioResponse struct {
	Positions []CopyPortfolioRow `json:"positions"`
	Summary   BacktestSummary    `json:"summary"`
}

// Package convergence implements ConvergenceDetector: per-asset sliding
// window tracking of curated-trader activity, firing an alert when enough
// distinct watched traders pile into the same market within a short span.
//
// Shaped after a toxic-flow tracker: a rolling window of recent events per
// key, evicted by age, gated by a threshold and a cooldown so a single
// burst doesn't re-fire the detector every tick.
package convergence

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polydearboard/pkg/types"
)

const (
	windowDuration   = 300 * time.Second
	dedupWindow      = 60 * time.Second
	distinctTraders  = 2
	maxTrackedAssets = 500
	sweepInterval    = 60 * time.Second
)

type entry struct {
	trader    string
	timestamp time.Time
	side      types.TradeSide
	usdc      decimal.Decimal
}

type assetWindow struct {
	entries       []entry
	lastAlertTime time.Time
	lastActivity  time.Time
	conditionID   string
	question      string
	outcome       string
}

// Detector tracks convergence per asset for one logical consumer (e.g. one
// curated trader list, or one /ws/signals connection). Each connection
// gets its own Detector instance so detection state isn't shared across
// unrelated trader lists.
type Detector struct {
	mu     sync.Mutex
	assets map[string]*assetWindow
}

// New creates an empty convergence detector.
func New() *Detector {
	return &Detector{assets: make(map[string]*assetWindow)}
}

// Observe feeds one curated-trader trade into the detector. It returns a
// non-nil alert if this observation pushed the asset's window over the
// distinct-trader threshold and the per-asset dedup window has elapsed
// since the last alert for that asset.
func (d *Detector) Observe(trade types.LiveTrade) *types.ConvergenceAlert {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := trade.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	w, ok := d.assets[trade.AssetID]
	if !ok {
		if len(d.assets) >= maxTrackedAssets {
			d.evictOldestLocked()
		}
		w = &assetWindow{}
		d.assets[trade.AssetID] = w
	}

	usdc, err := decimal.NewFromString(trade.USDCAmount)
	if err != nil {
		usdc = decimal.Zero
	}

	w.entries = append(w.entries, entry{
		trader:    trade.Trader,
		timestamp: now,
		side:      trade.Side,
		usdc:      usdc,
	})
	w.lastActivity = now
	w.conditionID = trade.ConditionID
	w.question = trade.Question
	w.outcome = trade.Outcome
	evictStale(w, now)

	distinct := distinctTradersIn(w.entries)
	if len(distinct) < distinctTraders {
		return nil
	}
	if !w.lastAlertTime.IsZero() && now.Sub(w.lastAlertTime) < dedupWindow {
		return nil
	}

	w.lastAlertTime = now

	first, last := w.entries[0].timestamp, w.entries[0].timestamp
	buys, sells := 0, 0
	total := decimal.Zero
	for _, e := range w.entries {
		if e.timestamp.Before(first) {
			first = e.timestamp
		}
		if e.timestamp.After(last) {
			last = e.timestamp
		}
		switch e.side {
		case types.SideBuy:
			buys++
		case types.SideSell:
			sells++
		}
		total = total.Add(e.usdc)
	}

	side := types.ConvergenceBuy
	if sells > buys {
		side = types.ConvergenceSell
	}

	return &types.ConvergenceAlert{
		AssetID:       trade.AssetID,
		ConditionID:   w.conditionID,
		Question:      w.question,
		Outcome:       w.outcome,
		Traders:       distinct,
		TraderCount:   len(distinct),
		TradeCount:    len(w.entries),
		WindowSeconds: int(windowDuration.Seconds()),
		Side:          side,
		TotalUSDC:     total.StringFixed(6),
		FirstSeen:     first,
		LastSeen:      last,
	}
}

// Sweep prunes stale entries and empty/over-budget assets. Intended to run
// on a sweepInterval ticker so idle assets don't linger in memory forever
// between observations.
func (d *Detector) Sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for assetID, w := range d.assets {
		evictStale(w, now)
		if len(w.entries) == 0 {
			delete(d.assets, assetID)
		}
	}

	for len(d.assets) > maxTrackedAssets {
		d.evictOldestLocked()
	}
}

// evictOldestLocked removes the tracked asset with the oldest lastActivity.
// Caller must hold d.mu.
func (d *Detector) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	first := true
	for id, w := range d.assets {
		if first || w.lastActivity.Before(oldestTime) {
			oldestID = id
			oldestTime = w.lastActivity
			first = false
		}
	}
	if oldestID != "" {
		delete(d.assets, oldestID)
	}
}

func evictStale(w *assetWindow, now time.Time) {
	cutoff := now.Add(-windowDuration)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}

func distinctTradersIn(entries []entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.trader]; !ok {
			seen[e.trader] = struct{}{}
			out = append(out, e.trader)
		}
	}
	return out
}

// TrackedAssets returns the number of assets currently tracked, for
// observability.
func (d *Detector) TrackedAssets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.assets)
}

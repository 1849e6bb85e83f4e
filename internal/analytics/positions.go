package analytics

import "math"

// priceBoundaryEpsilon is the "within half a cent of 0 or 1" tolerance
// spec.md §4.9 uses to call a position settled without an on-chain
// resolution — a price this close to a boundary means the market has
// effectively decided even before the oracle posts.
const priceBoundaryEpsilon = 0.005

// netTokensEpsilon absorbs the rounding dust from repeated buy/sell
// accumulation so a trader who nets out to +/-1e-9 tokens still counts as
// fully exited.
const netTokensEpsilon = 1e-6

// PositionSignals is the four-signal input to IsSettled: on-chain
// resolution, catalog-inactive, price-near-boundary, and fully-exited are
// evaluated as an OR, none of them authoritative on their own.
type PositionSignals struct {
	OnChainResolved bool
	CatalogInactive bool
	LatestPrice     float64
	NetTokens       float64
}

// IsSettled applies the four-signal OR spec.md §4.9/§4.12 define: a
// position is settled (closed) if it is on-chain resolved, its catalog
// entry has gone inactive, its latest price sits within half a cent of a
// 0/1 boundary, or the trader has fully exited.
func IsSettled(s PositionSignals) bool {
	if s.OnChainResolved || s.CatalogInactive {
		return true
	}
	if math.Abs(s.LatestPrice) <= priceBoundaryEpsilon || math.Abs(1-s.LatestPrice) <= priceBoundaryEpsilon {
		return true
	}
	if math.Abs(s.NetTokens) <= netTokensEpsilon {
		return true
	}
	return false
}

// ResolvedPrice computes a position's terminal price from the condition's
// payout numerators: the share of the total payout allocated to this
// position's outcome index. payouts = [3, 0], outcomeIndex = 0 yields 1.0
// (this outcome took the entire payout).
func ResolvedPrice(payoutNumerators []uint64, outcomeIndex int) (float64, bool) {
	if outcomeIndex < 0 || outcomeIndex >= len(payoutNumerators) {
		return 0, false
	}
	var total uint64
	for _, p := range payoutNumerators {
		total += p
	}
	if total == 0 {
		return 0, false
	}
	return float64(payoutNumerators[outcomeIndex]) / float64(total), true
}

// EffectivePrice returns resolvedPrice if the position has an on-chain
// resolution, otherwise latestPrice — the COALESCE(resolved_price,
// latest_price) spec.md §4.9's PnL formula uses throughout.
func EffectivePrice(resolvedPrice *float64, latestPrice float64) float64 {
	if resolvedPrice != nil {
		return *resolvedPrice
	}
	return latestPrice
}

// PnL computes the canonical realized+unrealized PnL for one position:
// (sell_usdc - buy_usdc) + (buy_amount - sell_amount) * effective_price.
func PnL(sellUSDC, buyUSDC, buyAmount, sellAmount, effectivePrice float64) float64 {
	return (sellUSDC - buyUSDC) + (buyAmount-sellAmount)*effectivePrice
}

// IsWin reports whether a settled position resolved in the trader's
// favor: a net-long position that settled above 0.5, or a net-short
// position that settled below 0.5.
func IsWin(netTokens, effectivePrice float64) bool {
	if netTokens > 0 {
		return effectivePrice > 0.5
	}
	if netTokens < 0 {
		return effectivePrice < 0.5
	}
	return false
}

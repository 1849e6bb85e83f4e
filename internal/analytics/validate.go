package analytics

import (
	"strings"

	"polydearboard/internal/apierr"
)

// sortWhitelist is the hard-coded set of columns a leaderboard-style query
// may sort by. Anything else is rejected rather than interpolated.
var sortWhitelist = map[string]bool{
	"realized_pnl": true,
	"total_volume": true,
	"trade_count":  true,
}

// DefaultSort is used when a request omits sort entirely.
const DefaultSort = "realized_pnl"

// DefaultOrder is used when a request omits order entirely.
const DefaultOrder = "desc"

// ValidateSort rejects any sort column outside the whitelist.
func ValidateSort(sort string) (string, error) {
	if sort == "" {
		return DefaultSort, nil
	}
	if !sortWhitelist[sort] {
		return "", apierr.Parse("invalid sort column: " + sort)
	}
	return sort, nil
}

// ValidateOrder restricts ordering to asc|desc.
func ValidateOrder(order string) (string, error) {
	switch order {
	case "":
		return DefaultOrder, nil
	case "asc", "desc":
		return order, nil
	default:
		return "", apierr.Parse("invalid order: " + order)
	}
}

// ValidateTokenID rejects anything that isn't a plain base-10 integer
// string before it is interpolated into a SQL template — token IDs arrive
// as free text from request parameters, so this is the boundary check
// that keeps them from being anything but digits.
func ValidateTokenID(tokenID string) error {
	if tokenID == "" || strings.TrimLeft(tokenID, "0123456789") != "" {
		return apierr.Parse("invalid token_id: " + tokenID)
	}
	return nil
}

// ValidateTokenIDs validates a CSV list of token IDs, as accepted by the
// /ws/trades and /market/resolve endpoints.
func ValidateTokenIDs(csv string) ([]string, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.TrimSpace(p)
		if err := ValidateTokenID(id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ValidTimeframes are the accepted values for the timeframe query
// parameter shared by the leaderboard, PnL chart, and backtest endpoints.
var ValidTimeframes = map[string]bool{
	"1h":  true,
	"24h": true,
	"7d":  true,
	"30d": true,
	"all": true,
}

func ValidateTimeframe(tf string) (string, error) {
	if tf == "" {
		return "all", nil
	}
	if !ValidTimeframes[tf] {
		return "", apierr.Parse("invalid timeframe: " + tf)
	}
	return tf, nil
}

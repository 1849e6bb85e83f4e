package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"polydearboard/internal/chstore"
	"polydearboard/pkg/types"
)

// conditionResolutionRow mirrors one row of the conditional-tokens
// resolution table the indexer writes to.
type conditionResolutionRow struct {
	ConditionID string
	Payouts     []uint64
	Block       uint64
}

// PopulateResolvedPrices recomputes the resolved_prices table from the
// conditional-tokens resolution feed joined against every distinct asset id
// seen in trades. It replaces the table wholesale each run — resolutions
// are derived state, not a log, so truncate-then-rebuild is correct and
// avoids double-counting across warm cycles.
func PopulateResolvedPrices(ctx context.Context, db *chstore.DB, cache *Cache, logger *slog.Logger) error {
	log := logger.With("component", "resolved_prices")

	resolutions, err := fetchResolutions(ctx, db)
	if err != nil {
		return fmt.Errorf("fetch resolutions: %w", err)
	}

	assetIDs, err := fetchDistinctAssetIDs(ctx, db)
	if err != nil {
		return fmt.Errorf("fetch distinct asset ids: %w", err)
	}

	var rows []types.ResolvedPriceRow
	for _, assetID := range assetIDs {
		info, ok := cache.Lookup(assetID)
		if !ok {
			continue
		}
		bare := strings.TrimPrefix(strings.ToLower(info.ConditionID), "0x")
		res, ok := resolutions[bare]
		if !ok {
			continue
		}

		total := uint64(0)
		for _, p := range res.Payouts {
			total += p
		}
		if total == 0 || info.OutcomeIndex >= len(res.Payouts) {
			continue
		}

		price := float64(res.Payouts[info.OutcomeIndex]) / float64(total)
		rows = append(rows, types.ResolvedPriceRow{
			AssetID:       assetID,
			ConditionID:   info.ConditionID,
			ResolvedPrice: roundTo6(price),
			Block:         res.Block,
		})
	}

	if err := db.Conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", db.Table("resolved_prices"))); err != nil {
		return fmt.Errorf("truncate resolved_prices: %w", err)
	}

	batch, err := db.Conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (asset_id, condition_id, resolved_price, block)", db.Table("resolved_prices")))
	if err != nil {
		return fmt.Errorf("prepare resolved_prices batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.AssetID, r.ConditionID, r.ResolvedPrice, r.Block); err != nil {
			return fmt.Errorf("append resolved_prices row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send resolved_prices batch: %w", err)
	}

	log.Info("resolved prices repopulated", "rows", len(rows))
	return nil
}

func fetchResolutions(ctx context.Context, db *chstore.DB) (map[string]conditionResolutionRow, error) {
	rows, err := db.Conn.Query(ctx, fmt.Sprintf(
		"SELECT condition_id, payout_numerators, block_number FROM %s",
		db.Schema+"_conditional_tokens.condition_resolution"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]conditionResolutionRow)
	for rows.Next() {
		var r conditionResolutionRow
		if err := rows.Scan(&r.ConditionID, &r.Payouts, &r.Block); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(strings.ToLower(r.ConditionID), "0x")] = r
	}
	return out, rows.Err()
}

func fetchDistinctAssetIDs(ctx context.Context, db *chstore.DB) ([]string, error) {
	rows, err := db.Conn.Query(ctx, fmt.Sprintf("SELECT DISTINCT asset_id FROM %s", db.Table("trades")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func roundTo6(f float64) float64 {
	const scale = 1_000_000
	return float64(int64(f*scale+0.5)) / scale
}

// TargetPrefixesFromAssetIDs builds a warm-protocol coverage target from a
// batch of raw asset ids pulled from the trades table.
func TargetPrefixesFromAssetIDs(assetIDs []string) TargetPrefixes {
	t := make(TargetPrefixes, len(assetIDs))
	for _, id := range assetIDs {
		t[CacheKey(id)] = struct{}{}
	}
	return t
}

// FetchDistinctAssetIDs exposes the distinct-asset-id query for callers
// wiring the warm protocol (cmd/server's startup/refresh loop).
func FetchDistinctAssetIDs(ctx context.Context, db *chstore.DB) ([]string, error) {
	return fetchDistinctAssetIDs(ctx, db)
}

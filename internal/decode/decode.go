// Package decode implements EventDecoder: turning a raw OrderFilled log (or
// a condition-resolution payload, however it was delivered) into the
// service's canonical LiveTrade / ConditionResolution shapes, enriched from
// the market cache where possible.
package decode

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polydearboard/internal/market"
	"polydearboard/pkg/types"
)

// Exchange contract addresses. Which one emitted a fill determines the
// Exchange field on the decoded trade.
const (
	CTFExchangeAddr     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddr = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// WhaleThresholdRaw is the USDC notional (6-decimal raw units) at or above
// which a fill is surfaced as a whale-trade alert. $25,000.
const WhaleThresholdRaw uint64 = 25_000_000_000

// OrderFilledTopic0 is the keccak256 signature hash of
// OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256).
const OrderFilledTopic0 = "0xd0a08e8c493f9c94f29311604c9de1b4e8c78d388a1fc09011b3a32d1bbcf036"

// RawLog is the subset of an eth_subscribe "logs" notification this package
// needs. WSSubscriber normalizes its log notifications into this shape
// before calling DecodeFill; WebhookIngress does not use it and applies the
// same classification rule to the indexer's flat JSON fields instead.
type RawLog struct {
	Address         string
	Topics          []string // hex-encoded, topics[0] is the event signature
	Data            string   // hex-encoded, 0x-prefixed
	TransactionHash string
	BlockNumber     uint64
	LogIndex        uint
	Removed         bool
}

// DecodeFill decodes an OrderFilled log into a LiveTrade. The trader field
// is the maker address (lowercase hex); side/asset/amount classification
// follows the maker/taker-asset-zero rule: USDC's on-chain asset id is
// always zero, so whichever leg is zero identifies which side of the trade
// paid cash vs tokens.
func DecodeFill(log RawLog, blockTime time.Time) (types.LiveTrade, error) {
	if len(log.Topics) < 3 {
		return types.LiveTrade{}, fmt.Errorf("order filled log has %d topics, want >= 3", len(log.Topics))
	}

	data, err := hexToBytes(log.Data)
	if err != nil {
		return types.LiveTrade{}, fmt.Errorf("decode log data: %w", err)
	}
	if len(data) < 32*5 {
		return types.LiveTrade{}, fmt.Errorf("order filled data too short: %d bytes", len(data))
	}

	makerAssetID := wordAt(data, 0)
	takerAssetID := wordAt(data, 1)
	makerAmount := wordAt(data, 2)
	takerAmount := wordAt(data, 3)

	maker := common.HexToAddress(log.Topics[2]).Hex()

	var side types.TradeSide
	var assetID string
	var usdcRaw, tokenRaw *big.Int

	switch {
	case makerAssetID.Sign() == 0:
		// Maker gave USDC, took tokens: the maker (recorded as the trader)
		// bought takerAssetID.
		side = types.SideBuy
		assetID = takerAssetID.String()
		usdcRaw = makerAmount
		tokenRaw = takerAmount
	case takerAssetID.Sign() == 0:
		side = types.SideSell
		assetID = makerAssetID.String()
		usdcRaw = takerAmount
		tokenRaw = makerAmount
	default:
		side = types.SideMint
		assetID = takerAssetID.String()
		usdcRaw = big.NewInt(0)
		tokenRaw = takerAmount
	}

	price := 0.0
	if tokenRaw.Sign() != 0 {
		priceF, _ := new(big.Float).Quo(
			new(big.Float).SetInt(usdcRaw),
			new(big.Float).SetInt(tokenRaw),
		).Float64()
		price = priceF
	}

	exchange := types.ExchangeCTF
	if strings.EqualFold(log.Address, NegRiskExchangeAddr) {
		exchange = types.ExchangeNegRisk
	}

	trade := types.LiveTrade{
		TxHash:      log.TransactionHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.LogIndex,
		Timestamp:   blockTime,
		Exchange:    exchange,
		Trader:      strings.ToLower(maker),
		Side:        side,
		AssetID:     assetID,
		Amount:      formatUSDC(tokenRaw),
		Price:       price,
		USDCAmount:  formatUSDC(usdcRaw),
		CacheKey:    market.CacheKey(assetID),
	}

	return trade, nil
}

// IsWhale reports whether a decoded trade's USDC notional crosses the whale
// alert threshold. Raw units, not the formatted decimal string, drive the
// comparison to avoid floating-point error at the boundary.
func IsWhale(usdcRaw *big.Int) bool {
	return usdcRaw.Cmp(new(big.Int).SetUint64(WhaleThresholdRaw)) >= 0
}

// Enrich fills in ConditionID/Question/Outcome/Category from the market
// cache, if warmed. Trades are broadcast and recorded whether or not
// enrichment succeeds — enrichment only adds display metadata, never gates
// delivery.
func Enrich(trade types.LiveTrade, cache *market.Cache) types.LiveTrade {
	info, ok := cache.Lookup(trade.AssetID)
	if !ok {
		return trade
	}
	trade.ConditionID = info.ConditionID
	trade.Question = info.Question
	trade.Category = info.Category
	if info.OutcomeIndex < len(info.Outcomes) {
		trade.Outcome = info.Outcomes[info.OutcomeIndex]
	}
	return trade
}

// DecodeResolution turns a raw condition-resolution payload (decoded from
// either the on-chain ConditionResolution event or a webhook payload that
// already carries the same fields) into the canonical shape: looks up the
// market by condition id in the cache, sorted implicitly since every token
// entry for a market already carries the full outcome/token-id list; on a
// cache miss, falls back to a direct catalog API lookup, verified against
// the requested condition id before any field is accepted (the catalog
// silently ignores unknown filter params, so an unverified response could
// otherwise splice in an unrelated market's fields).
func DecodeResolution(ctx context.Context, conditionID string, payouts []uint64, block uint64, ts time.Time, cache *market.Cache) types.ConditionResolution {
	res := types.ConditionResolution{
		ConditionID: conditionID,
		Payouts:     payouts,
		Block:       block,
		Timestamp:   ts,
	}

	info, ok := cache.LookupByConditionID(conditionID)
	if !ok {
		info, ok = cache.ResolveByConditionID(ctx, conditionID)
	}
	if !ok {
		return res
	}

	res.Question = info.Question
	res.Outcomes = info.Outcomes
	if len(info.AllTokenIDs) > 0 {
		res.TokenID = info.AllTokenIDs[0]
	}
	for i, p := range payouts {
		if p > 0 && i < len(info.Outcomes) {
			res.WinningOutcome = info.Outcomes[i]
			break
		}
	}
	return res
}

// formatUSDC renders a raw 6-decimal integer amount as "whole.frac6".
func formatUSDC(raw *big.Int) string {
	if raw == nil {
		raw = big.NewInt(0)
	}
	million := big.NewInt(1_000_000)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.DivMod(raw, million, frac)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Int64())
}

func wordAt(data []byte, index int) *big.Int {
	start := index * 32
	end := start + 32
	if end > len(data) {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data[start:end])
}

func hexToBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	return common.FromHex(s), nil
}

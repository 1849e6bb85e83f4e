// Package market implements MarketCache: a concurrent, content-addressable
// lookup from on-chain token id to catalog metadata (question, condition id,
// outcome set), kept warm by periodically paginating the Gamma API.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polydearboard/pkg/types"
)

// prefixLen is the number of leading significant digits used as the cache
// key. Token ids can arrive in three encodings (full-precision decimal,
// scientific notation, or an already-truncated digest); truncating every
// encoding to the same number of leading digits reconciles all three to
// one lookup key, at the cost of an astronomically small collision risk.
const prefixLen = 15

// Cache is the concurrent token-id → market metadata map. Reads never
// block on a write in progress except during the bounded page-insert
// critical section of Warm.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]types.MarketInfo

	http    *resty.Client
	limiter *tokenBucket
	logger  *slog.Logger
}

// New creates an empty cache pointed at the given Gamma API base URL.
func New(gammaURL string, logger *slog.Logger) *Cache {
	client := resty.New().
		SetBaseURL(gammaURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Cache{
		entries: make(map[string]types.MarketInfo),
		http:    client,
		limiter: newGammaEventsLimiter(),
		logger:  logger.With("component", "market_cache"),
	}
}

// CacheKey computes the reconciliation digest for a raw token id string,
// regardless of which of the three encodings it arrived in.
func CacheKey(tokenID string) string {
	digits := significantDigits(tokenID)
	if len(digits) >= prefixLen {
		return digits[:prefixLen]
	}
	return digits + strings.Repeat("0", prefixLen-len(digits))
}

// toIntegerID expands a scientific-notation token id ("1.234e+20") into its
// full-precision integer string. Ids already in decimal form pass through
// unchanged.
func toIntegerID(id string) string {
	if !strings.ContainsAny(id, "eE") {
		return id
	}
	f, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return id
	}
	return strconv.FormatFloat(f, 'f', 0, 64)
}

// significantDigits extracts the leading significant digits from a token id
// string, stripping the decimal point out of a scientific-notation mantissa
// ("1.234e+20" → "1234") or out of a plain decimal string.
func significantDigits(id string) string {
	mantissa := id
	if idx := strings.IndexAny(id, "eE"); idx >= 0 {
		mantissa = id[:idx]
	}
	return strings.ReplaceAll(mantissa, ".", "")
}

// Lookup returns the cached metadata for a raw token id, if warmed.
func (c *Cache) Lookup(tokenID string) (types.MarketInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[CacheKey(tokenID)]
	return info, ok
}

// LookupByConditionID scans the cache for an entry matching a condition id.
// Used by resolution handling, which only has the condition id to go on.
// O(n) over the cache; the cache is small (thousands of entries at most).
func (c *Cache) LookupByConditionID(conditionID string) (types.MarketInfo, bool) {
	bare := strings.TrimPrefix(strings.ToLower(conditionID), "0x")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, info := range c.entries {
		if strings.TrimPrefix(strings.ToLower(info.ConditionID), "0x") == bare {
			return info, true
		}
	}
	return types.MarketInfo{}, false
}

// Insert writes a single entry under the digest of its token id. Exposed so
// EventDecoder can backfill an on-demand catalog lookup into the cache.
func (c *Cache) Insert(tokenID string, info types.MarketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(tokenID)] = info
}

// Len reports the number of warmed entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ————————————————————————————————————————————————————————————————————————
// Gamma API shapes
// ————————————————————————————————————————————————————————————————————————

// gammaEvent is one page element of GET /events.
type gammaEvent struct {
	ID      string        `json:"id"`
	Markets []gammaMarket `json:"markets"`
}

// gammaMarket is one binary/categorical market nested under an event.
type gammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	Outcomes     string `json:"outcomes"`     // JSON-string-encoded array
	ClobTokenIds string `json:"clobTokenIds"` // JSON-string-encoded array
	Category     string `json:"category"`
}

func (m gammaMarket) isActive() bool {
	return !m.Closed && m.Active
}

func (m gammaMarket) parsedOutcomes() []string {
	var out []string
	_ = json.Unmarshal([]byte(m.Outcomes), &out)
	return out
}

func (m gammaMarket) parsedTokenIDs() []string {
	var out []string
	_ = json.Unmarshal([]byte(m.ClobTokenIds), &out)
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Warm protocol
// ————————————————————————————————————————————————————————————————————————

// TargetPrefixes is the set of digests the warm pass must cover before it
// can stop early. Computed by the caller from the distinct asset ids seen
// in the analytics database.
type TargetPrefixes map[string]struct{}

// Warm paginates the Gamma API ordered by descending 24h volume, inserting
// every outcome token into the cache, until either every target prefix has
// been covered, a page comes back empty, or the pagination
// offset passes the hard ceiling of 100,000 events scanned.
func (c *Cache) Warm(ctx context.Context, targets TargetPrefixes) error {
	const batch = 100
	const maxOffset = 100_000

	covered := make(map[string]struct{}, len(targets))
	offset := 0

	for {
		if err := c.limiter.wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		var page []gammaEvent
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":      strconv.Itoa(batch),
				"offset":     strconv.Itoa(offset),
				"order":      "volume24hr",
				"ascending":  "false",
			}).
			SetResult(&page).
			Get("/events")
		if err != nil {
			return fmt.Errorf("fetch events page at offset %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("fetch events: status %d", resp.StatusCode())
		}

		c.insertPage(page, targets, covered)

		if len(targets) > 0 && len(covered) >= len(targets) {
			break
		}
		if len(page) == 0 {
			break
		}
		offset += batch
		if offset >= maxOffset {
			c.logger.Warn("warm cache hit offset ceiling without full coverage", "offset", offset)
			break
		}
	}

	c.logger.Info("warm cache complete", "entries", c.Len(), "covered", len(covered))
	return nil
}

// insertPage writes every outcome token from a page of events into the
// cache under a single write-lock acquisition, recording which target
// prefixes were matched along the way.
func (c *Cache) insertPage(page []gammaEvent, targets TargetPrefixes, covered map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range page {
		for _, m := range ev.Markets {
			outcomes := m.parsedOutcomes()
			tokenIDs := m.parsedTokenIDs()
			for i, tokenID := range tokenIDs {
				key := CacheKey(tokenID)
				info := types.MarketInfo{
					ConditionID:  m.ConditionID,
					Question:     m.Question,
					Category:     m.Category,
					Active:       m.isActive(),
					TokenID:      tokenID,
					OutcomeIndex: i,
					AllTokenIDs:  tokenIDs,
					Outcomes:     outcomes,
				}
				c.entries[key] = info

				if _, want := targets[key]; want {
					covered[key] = struct{}{}
				}
			}
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// On-demand resolution (EventDecoder fallback path)
// ————————————————————————————————————————————————————————————————————————

// maxConcurrentLookups bounds simultaneous Gamma API calls made by Resolve
// for cache misses, per the service-wide catalog concurrency budget.
const maxConcurrentLookups = 10

// Resolve looks up a batch of token ids, returning cache hits immediately
// and fetching misses concurrently (bounded to maxConcurrentLookups),
// writing results back into the cache before returning.
func (c *Cache) Resolve(ctx context.Context, tokenIDs []string) map[string]types.MarketInfo {
	result := make(map[string]types.MarketInfo, len(tokenIDs))
	var misses []string

	for _, id := range tokenIDs {
		if info, ok := c.Lookup(id); ok {
			result[id] = info
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return result
	}

	sem := make(chan struct{}, maxConcurrentLookups)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, id := range misses {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			info, err := c.fetchMarketInfo(ctx, id)
			if err != nil {
				c.logger.Debug("resolve miss", "token_id", id, "error", err)
				return
			}
			c.Insert(id, info)

			mu.Lock()
			result[id] = info
			mu.Unlock()
		}()
	}
	wg.Wait()

	return result
}

// ResolveByConditionID looks up a market by condition id, checking the
// cache first and falling back to a direct catalog lookup on a miss. The
// catalog API silently ignores unknown filter parameters, so the response
// must be verified by matching ConditionID on the returned record before
// any field is accepted — an unverified response could otherwise splice in
// an unrelated market picked arbitrarily off the catalog's default listing.
func (c *Cache) ResolveByConditionID(ctx context.Context, conditionID string) (types.MarketInfo, bool) {
	if info, ok := c.LookupByConditionID(conditionID); ok {
		return info, true
	}

	var markets []gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", conditionID).
		SetResult(&markets).
		Get("/markets")
	if err != nil || resp.StatusCode() != 200 {
		return types.MarketInfo{}, false
	}

	bare := strings.TrimPrefix(strings.ToLower(conditionID), "0x")
	for _, m := range markets {
		if strings.TrimPrefix(strings.ToLower(m.ConditionID), "0x") != bare {
			continue
		}

		tokenIDs := m.parsedTokenIDs()
		info := types.MarketInfo{
			ConditionID: m.ConditionID,
			Question:    m.Question,
			Category:    m.Category,
			Active:      m.isActive(),
			AllTokenIDs: tokenIDs,
			Outcomes:    m.parsedOutcomes(),
		}
		if len(tokenIDs) > 0 {
			info.TokenID = tokenIDs[0]
			c.Insert(tokenIDs[0], info)
		}
		return info, true
	}
	return types.MarketInfo{}, false
}

// fetchMarketInfo looks up a single uncached token id directly against the
// catalog API by its CLOB token id.
func (c *Cache) fetchMarketInfo(ctx context.Context, tokenID string) (types.MarketInfo, error) {
	var markets []gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("clob_token_ids", toIntegerID(tokenID)).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return types.MarketInfo{}, fmt.Errorf("fetch market by token id: %w", err)
	}
	if resp.StatusCode() != 200 || len(markets) == 0 {
		return types.MarketInfo{}, fmt.Errorf("no market found for token id %s", tokenID)
	}

	m := markets[0]
	tokenIDs := m.parsedTokenIDs()
	outcomes := m.parsedOutcomes()

	idx := 0
	wantInt := toIntegerID(tokenID)
	for i, t := range tokenIDs {
		if toIntegerID(t) == wantInt {
			idx = i
			break
		}
	}

	return types.MarketInfo{
		ConditionID:  m.ConditionID,
		Question:     m.Question,
		Category:     m.Category,
		Active:       m.isActive(),
		TokenID:      tokenID,
		OutcomeIndex: idx,
		AllTokenIDs:  tokenIDs,
		Outcomes:     outcomes,
	}, nil
}

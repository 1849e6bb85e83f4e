package analytics

import (
	"context"
	"testing"
	"time"

	"polydearboard/pkg/types"
)

func TestIsDefaultLeaderboardShapeMatchesDefaults(t *testing.T) {
	t.Parallel()
	if !isDefaultLeaderboardShape(defaultLeaderboardParams()) {
		t.Fatalf("defaultLeaderboardParams() must be recognized as the default shape")
	}
}

func TestIsDefaultLeaderboardShapeRejectsNonDefaultSort(t *testing.T) {
	t.Parallel()
	p := defaultLeaderboardParams()
	p.Sort = "total_volume"
	if isDefaultLeaderboardShape(p) {
		t.Fatalf("a non-default sort must not be treated as the memoized shape")
	}
}

func TestIsDefaultLeaderboardShapeRejectsNonDefaultOffset(t *testing.T) {
	t.Parallel()
	p := defaultLeaderboardParams()
	p.Offset = 50
	if isDefaultLeaderboardShape(p) {
		t.Fatalf("a non-default offset must not be treated as the memoized shape")
	}
}

// TestLeaderboardCacheServesFreshMemoWithoutRecomputing exercises the
// fast-path branch of Get directly against the cache's fields, since
// QueryLayer.Leaderboard requires a live ClickHouse connection to call.
func TestLeaderboardCacheServesFreshMemoWithoutRecomputing(t *testing.T) {
	t.Parallel()

	c := &LeaderboardCache{
		resp:      types.LeaderboardResponse{Traders: []types.TraderSummary{{Address: "0xabc"}}},
		fresh:     true,
		expiresAt: time.Now().Add(leaderboardCacheTTL),
	}

	resp, err := c.Get(context.Background(), defaultLeaderboardParams())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(resp.Traders) != 1 || resp.Traders[0].Address != "0xabc" {
		t.Fatalf("resp = %+v, want the memoized entry untouched", resp)
	}
}

package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"polydearboard/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.db")
	store, err := Open(path, "test-secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIssueNonceCreatesUser(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	nonce, issuedAt, err := store.IssueNonce("0xTrader")
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if nonce == "" {
		t.Fatal("expected a non-empty nonce")
	}
	if issuedAt.IsZero() {
		t.Fatal("expected a non-zero issuedAt")
	}
}

func TestIssueNonceRotatesOnRepeatedCall(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	first, _, err := store.IssueNonce("0xTrader")
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	second, _, err := store.IssueNonce("0xTrader")
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if first == second {
		t.Fatal("expected a fresh nonce on each call")
	}
}

func TestVerifyRejectsMismatchedNonce(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, issuedAt, err := store.IssueNonce("0xTrader")
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	sigHex, addr := signSignIn(t, "", "some-other-nonce", issuedAt.Format(time.RFC3339))

	_, err = store.Verify(addr.Hex(), sigHex, "some-other-nonce", issuedAt.Format(time.RFC3339))
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("Verify error = %v, want ErrNonceMismatch", err)
	}
}

func TestCreateTraderListEnforcesLimit(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	for i := 0; i < maxListsPerUser; i++ {
		if _, err := store.CreateTraderList("0xowner", randListName(i)); err != nil {
			t.Fatalf("CreateTraderList #%d: %v", i, err)
		}
	}

	_, err := store.CreateTraderList("0xowner", "one-too-many")
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestCreateTraderListRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if _, err := store.CreateTraderList("0xowner", "whales"); err != nil {
		t.Fatalf("CreateTraderList: %v", err)
	}
	_, err := store.CreateTraderList("0xowner", "whales")
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestGetTraderListNotFoundForWrongOwner(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	list, err := store.CreateTraderList("0xowner", "whales")
	if err != nil {
		t.Fatalf("CreateTraderList: %v", err)
	}

	_, err = store.GetTraderList(list.ID, "0xsomeone-else")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddListMembersIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	list, err := store.CreateTraderList("0xowner", "whales")
	if err != nil {
		t.Fatalf("CreateTraderList: %v", err)
	}

	members := []types.TraderListMember{{Address: "0xAAA"}, {Address: "0xbbb"}}
	if err := store.AddListMembers(list.ID, "0xowner", members); err != nil {
		t.Fatalf("AddListMembers: %v", err)
	}
	// Re-adding the same members must be a no-op, not an error.
	if err := store.AddListMembers(list.ID, "0xowner", members); err != nil {
		t.Fatalf("AddListMembers (repeat): %v", err)
	}

	detail, err := store.GetTraderList(list.ID, "0xowner")
	if err != nil {
		t.Fatalf("GetTraderList: %v", err)
	}
	if len(detail.Members) != 2 {
		t.Fatalf("Members = %d, want 2 after idempotent re-add", len(detail.Members))
	}
}

func TestAddListMembersEnforcesLimit(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	list, err := store.CreateTraderList("0xowner", "whales")
	if err != nil {
		t.Fatalf("CreateTraderList: %v", err)
	}

	members := make([]types.TraderListMember, maxMembersPerList+1)
	for i := range members {
		members[i] = types.TraderListMember{Address: randListName(i)}
	}

	err = store.AddListMembers(list.ID, "0xowner", members)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestRemoveListMembersRequiresOwnership(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	list, err := store.CreateTraderList("0xowner", "whales")
	if err != nil {
		t.Fatalf("CreateTraderList: %v", err)
	}

	err = store.RemoveListMembers(list.ID, "0xnot-the-owner", []string{"0xabc"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func randListName(i int) string {
	return "list-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

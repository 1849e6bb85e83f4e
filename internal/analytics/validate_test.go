package analytics

import (
	"errors"
	"testing"

	"polydearboard/internal/apierr"
)

func TestValidateSortAcceptsWhitelisted(t *testing.T) {
	t.Parallel()
	got, err := ValidateSort("total_volume")
	if err != nil || got != "total_volume" {
		t.Fatalf("ValidateSort = %q, %v", got, err)
	}
}

func TestValidateSortDefaultsWhenEmpty(t *testing.T) {
	t.Parallel()
	got, err := ValidateSort("")
	if err != nil || got != DefaultSort {
		t.Fatalf("ValidateSort(\"\") = %q, %v", got, err)
	}
}

func TestValidateSortRejectsUnknownColumn(t *testing.T) {
	t.Parallel()
	_, err := ValidateSort("owner; DROP TABLE users")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindParse {
		t.Fatalf("expected KindParse error, got %v", err)
	}
}

func TestValidateOrderRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := ValidateOrder("sideways")
	if err == nil {
		t.Fatal("expected an error for an invalid order")
	}
}

func TestValidateTokenIDRejectsNonNumeric(t *testing.T) {
	t.Parallel()
	if err := ValidateTokenID("12a34"); err == nil {
		t.Fatal("expected an error for a non-numeric token id")
	}
}

func TestValidateTokenIDAcceptsDigits(t *testing.T) {
	t.Parallel()
	if err := ValidateTokenID("1234567890"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTokenIDsSplitsAndValidates(t *testing.T) {
	t.Parallel()
	ids, err := ValidateTokenIDs("123, 456,789")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"123", "456", "789"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestValidateTimeframeRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, err := ValidateTimeframe("3months"); err == nil {
		t.Fatal("expected an error for an unknown timeframe")
	}
}

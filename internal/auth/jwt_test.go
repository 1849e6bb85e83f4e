package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidateTokenRoundTrips(t *testing.T) {
	t.Parallel()

	token, err := IssueToken("test-secret", "0xABCDEF", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	sub, err := ValidateToken("test-secret", token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != "0xabcdef" {
		t.Fatalf("subject = %q, want lowercased 0xabcdef", sub)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := IssueToken("secret-a", "0xabc", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := ValidateToken("secret-b", token); err == nil {
		t.Fatal("expected validation to fail with the wrong secret")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	token, err := IssueToken("test-secret", "0xabc", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := ValidateToken("test-secret", token); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}

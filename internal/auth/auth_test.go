package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"defitown.org/internal/chain"
)

const testSecret = "0123456789abcdef-test"

var alice = chain.HexToAddress("0x0000000000000000000000000000000000000a11")

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer(testSecret, 30*time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, exp, err := iss.Issue(alice, []string{"Admin", "viewer", "admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}
	p, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Address != alice {
		t.Fatalf("unexpected subject: %s", p.Address)
	}
	if len(p.Roles) != 2 || !p.HasRole("admin") || !p.HasRole("viewer") {
		t.Fatalf("roles were not preserved: %v", p.Roles)
	}
	if p.TokenID == "" {
		t.Fatal("expected token id")
	}
}

func TestVerifyRejects(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	other, err := NewIssuer(testSecret+"-other", time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	stale, err := NewIssuer(testSecret, time.Minute, WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	foreign, _, err := other.Issue(alice, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	expired, _, err := stale.Issue(alice, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	valid, _, err := iss.Issue(alice, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"wrong secret":   foreign,
		"expired":        expired,
		"tampered":       spliced(valid, expired),
		"truncated body": strings.Join(strings.Split(valid, ".")[:2], "."),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer("", time.Minute); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewIssuer("short", time.Minute); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret for short secret, got %v", err)
	}
	iss, err := NewIssuer(testSecret, 0)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if iss.ttl != defaultTTL {
		t.Fatalf("expected default ttl, got %v", iss.ttl)
	}
	if _, _, err := iss.Issue(chain.ZeroAddress, nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("unexpected principal in empty context")
	}
	ctx := ContextWithPrincipal(context.Background(), Principal{Address: alice, Roles: []string{"admin"}})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Address != alice {
		t.Fatalf("unexpected principal: %+v, ok=%v", p, ok)
	}
	if !slices.Equal(p.Roles, []string{"admin"}) {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
}

func TestCredentials(t *testing.T) {
	creds := NewCredentials()
	if err := creds.SetPassword(alice, "hunter22"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := creds.Check(alice, "hunter22"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := creds.Check(alice, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	bob := chain.HexToAddress("0x0000000000000000000000000000000000000b0b")
	if err := creds.Check(bob, "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown address, got %v", err)
	}
	if err := creds.SetHash(bob, "plaintext"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected malformed hash to be rejected, got %v", err)
	}
	if creds.Len() != 1 {
		t.Fatalf("expected one credential, got %d", creds.Len())
	}
}

// spliced puts the claims of from under the header and signature of sig.
func spliced(sig, from string) string {
	parts := strings.Split(sig, ".")
	parts[1] = strings.Split(from, ".")[1]
	return strings.Join(parts, ".")
}

package identity

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuerMintAndVerify(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, expiry, err := issuer.Mint(Identity{ID: "u1", Email: "u1@example.com", DisplayName: "Asha"})
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}
	if !expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiry)
	}

	ident, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ident.ID != "u1" || ident.Email != "u1@example.com" || ident.DisplayName != "Asha" {
		t.Fatalf("unexpected identity %+v", ident)
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, _, err := issuer.Mint(Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignSignature(t *testing.T) {
	mine := newTestIssuer(t, time.Now)
	theirs, err := NewTokenIssuer("another-key")
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}

	token, _, err := theirs.Mint(Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}
	if _, err := mine.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokenIssuerGeneratesKeyWhenEmpty(t *testing.T) {
	a, err := NewTokenIssuer("")
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	b, err := NewTokenIssuer("")
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}

	token, _, err := a.Mint(Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatal("expected generated keys to differ")
	}
}

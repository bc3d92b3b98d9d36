package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL    = time.Hour
	defaultTokenIssuer = "carebook"
)

// ErrInvalidToken is returned when an ID token fails verification.
var ErrInvalidToken = errors.New("invalid id token")

// Claims are the ID token claims minted for an identity.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 ID tokens.
type TokenIssuer struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption customizes a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenClock injects a clock (useful for tests).
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer builds an issuer signing with key. An empty key generates a
// random one, so tokens do not survive a restart.
func NewTokenIssuer(key string, opts ...TokenOption) (*TokenIssuer, error) {
	keyBytes := []byte(key)
	if len(keyBytes) == 0 {
		keyBytes = make([]byte, 32)
		if _, err := rand.Read(keyBytes); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
	}

	t := &TokenIssuer{
		key:    keyBytes,
		ttl:    defaultTokenTTL,
		issuer: defaultTokenIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Mint signs a token for ident and returns it with its expiry.
func (t *TokenIssuer) Mint(ident Identity) (string, time.Time, error) {
	now := t.now()
	expiry := now.Add(t.ttl)
	claims := Claims{
		Email: ident.Email,
		Name:  ident.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign id token: %w", err)
	}
	return signed, expiry, nil
}

// Verify checks the signature, issuer and lifetime of token and returns the identity it names.
func (t *TokenIssuer) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{ID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

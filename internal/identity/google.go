package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// googleNamespace scopes identity ids derived from Google subjects.
var googleNamespace = uuid.MustParse("6f1c9a52-8c1e-4e5e-9b0a-3d2f7c4b1a90")

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Identity maps the Google subject onto a stable identity id.
func (c GoogleClaims) Identity() Identity {
	return Identity{
		ID:          uuid.NewSHA1(googleNamespace, []byte("google:"+c.Sub)).String(),
		Email:       strings.ToLower(strings.TrimSpace(c.Email)),
		DisplayName: strings.TrimSpace(c.Name),
	}
}

// GoogleAuthenticator handles Google OAuth 2.0 / OIDC sign-in.
type GoogleAuthenticator struct {
	config         *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains map[string]struct{}
	allowedEmails  map[string]struct{}
}

// NewGoogleAuthenticator discovers Google's OIDC configuration and builds the authenticator.
func NewGoogleAuthenticator(ctx context.Context, clientID, clientSecret, redirectURL string, allowedDomains, allowedEmails []string) (*GoogleAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &GoogleAuthenticator{
		config:         config,
		verifier:       provider.Verifier(&oidc.Config{ClientID: clientID}),
		allowedDomains: toSet(allowedDomains),
		allowedEmails:  toSet(allowedEmails),
	}, nil
}

// AuthURL generates the Google consent URL with the given state.
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange trades the authorization code for tokens and returns the verified claims.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*GoogleClaims, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, networkFailure(fmt.Errorf("token exchange: %w", err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, invalidCredential(fmt.Errorf("no id_token in response"))
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, invalidCredential(fmt.Errorf("verify id_token: %w", err))
	}

	var claims GoogleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, invalidCredential(fmt.Errorf("parse claims: %w", err))
	}

	return &claims, nil
}

// IsEmailAllowed checks the email against the domain and email allowlists.
// With both allowlists empty every email is allowed.
func (g *GoogleAuthenticator) IsEmailAllowed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, ok := g.allowedEmails[email]; ok {
		return true
	}

	if _, domain, found := strings.Cut(email, "@"); found {
		if _, ok := g.allowedDomains[domain]; ok {
			return true
		}
	}

	return len(g.allowedDomains) == 0 && len(g.allowedEmails) == 0
}

// HasAllowlist returns true if any allowlist restrictions are configured.
func (g *GoogleAuthenticator) HasAllowlist() bool {
	return len(g.allowedDomains) > 0 || len(g.allowedEmails) > 0
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

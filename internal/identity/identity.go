// Package identity is the identity provider boundary: it verifies credentials,
// holds the signed-in identity of one client and notifies subscribers when
// that identity changes.
package identity

import (
	"context"
	"errors"
	"fmt"
)

// Identity is the provider-issued handle for a signed-in user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Credentials are the email/password pair submitted by a sign-in form.
type Credentials struct {
	Email    string
	Password string
}

// Authenticator verifies credentials and returns the matching identity.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Identity, error)
}

// Sentinels for the AuthError kinds. Match them with errors.Is.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNetwork           = errors.New("identity provider network failure")
	ErrProviderDown      = errors.New("identity provider unavailable")
)

// ErrNoIdentity is returned by token operations when nobody is signed in.
var ErrNoIdentity = errors.New("no signed-in identity")

// AuthErrorKind classifies a sign-in failure.
type AuthErrorKind string

const (
	KindInvalidCredential AuthErrorKind = "invalid-credential"
	KindNetwork           AuthErrorKind = "network"
	KindProviderDown      AuthErrorKind = "provider-down"
)

// AuthError is a sign-in or sign-out failure. Message is safe to show to the user.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *AuthError against the kind sentinels.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrInvalidCredential:
		return e.Kind == KindInvalidCredential
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrProviderDown:
		return e.Kind == KindProviderDown
	}
	return false
}

func invalidCredential(err error) error {
	return &AuthError{Kind: KindInvalidCredential, Message: "Invalid email or password.", Err: err}
}

func networkFailure(err error) error {
	return &AuthError{Kind: KindNetwork, Message: "Could not reach the sign-in service. Please try again.", Err: err}
}

func providerDown(err error) error {
	return &AuthError{Kind: KindProviderDown, Message: "Sign-in is temporarily unavailable.", Err: err}
}

// UserMessage returns the user-facing text for err, falling back to a generic message.
func UserMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return "Sign-in failed. Please try again."
}

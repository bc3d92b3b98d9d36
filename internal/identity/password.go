package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"carebook/internal/store"
)

const minPasswordLength = 6

// Registration failures. These are form errors, not AuthErrors.
var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrWeakPassword = errors.New("password too short")
)

// account is the stored password account at accounts/{sha256(email)}.
type account struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PasswordAuthenticator verifies email/password accounts kept in the record store.
type PasswordAuthenticator struct {
	store store.Store
	cost  int
	now   func() time.Time
}

// NewPasswordAuthenticator creates an authenticator hashing with the given bcrypt cost.
// A cost of zero uses bcrypt.DefaultCost.
func NewPasswordAuthenticator(s store.Store, cost int) *PasswordAuthenticator {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordAuthenticator{store: s, cost: cost, now: time.Now}
}

// Register creates a password account. It writes no application profile:
// a freshly registered identity has none until profile completion.
func (a *PasswordAuthenticator) Register(ctx context.Context, creds Credentials, displayName string) (Identity, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return Identity{}, err
	}
	if len(creds.Password) < minPasswordLength {
		return Identity{}, fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, minPasswordLength)
	}

	path, err := store.AccountPath(emailKey(email))
	if err != nil {
		return Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	acct := account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return Identity{}, fmt.Errorf("encode account: %w", err)
	}
	if err := a.store.Create(ctx, path, raw); err != nil {
		if errors.Is(err, store.ErrExists) {
			return Identity{}, ErrEmailTaken
		}
		return Identity{}, providerDown(err)
	}

	return acct.identity(), nil
}

// Authenticate verifies the credentials against the stored account.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil || creds.Password == "" {
		return Identity{}, invalidCredential(err)
	}

	path, err := store.AccountPath(emailKey(email))
	if err != nil {
		return Identity{}, invalidCredential(err)
	}

	raw, err := a.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, invalidCredential(nil)
		}
		return Identity{}, providerDown(err)
	}

	var acct account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return Identity{}, providerDown(fmt.Errorf("decode account: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(creds.Password)); err != nil {
		return Identity{}, invalidCredential(nil)
	}

	return acct.identity(), nil
}

func (a account) identity() Identity {
	return Identity{ID: a.UID, Email: a.Email, DisplayName: a.DisplayName}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// emailKey hashes the email so that addresses never appear in record paths.
func emailKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

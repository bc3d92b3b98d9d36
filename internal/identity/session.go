package identity

import (
	"context"
	"sync"
	"time"
)

// tokenRefreshMargin is how close to expiry a cached token may get before
// FreshToken mints a new one.
const tokenRefreshMargin = time.Minute

// Session is the identity provider as seen by one client: it holds the
// signed-in identity and notifies subscribers on every change.
//
// Notifications are delivered synchronously, in emission order, one at a time.
// Subscribers must not call SignIn, Establish or SignOut from the callback.
type Session struct {
	authenticator Authenticator
	tokens        *TokenIssuer

	emitMu sync.Mutex

	mu          sync.Mutex
	current     *Identity
	subscribers map[int]func(*Identity)
	nextSubID   int
	token       string
	tokenExpiry time.Time
}

// NewSession creates a signed-out session.
func NewSession(authenticator Authenticator, tokens *TokenIssuer) *Session {
	return &Session{
		authenticator: authenticator,
		tokens:        tokens,
		subscribers:   make(map[int]func(*Identity)),
	}
}

// Subscribe registers onChange and immediately delivers the current identity
// (nil when signed out). The returned function unsubscribes; calling it more
// than once is a no-op.
func (s *Session) Subscribe(onChange func(*Identity)) func() {
	s.emitMu.Lock()
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = onChange
	current := copyIdentity(s.current)
	s.mu.Unlock()

	onChange(current)
	s.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// SignIn verifies the credentials and, on success, makes the identity current.
func (s *Session) SignIn(ctx context.Context, creds Credentials) (Identity, error) {
	if s.authenticator == nil {
		return Identity{}, providerDown(nil)
	}
	ident, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		return Identity{}, err
	}
	s.Establish(ident)
	return ident, nil
}

// Establish makes an already verified identity current, for example after an
// OAuth callback or when a persisted session is restored.
func (s *Session) Establish(ident Identity) {
	s.emit(&ident)
}

// SignOut clears the current identity.
func (s *Session) SignOut() {
	s.emit(nil)
}

// Current returns a copy of the signed-in identity, or nil.
func (s *Session) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

// FreshToken returns a signed ID token for the current identity. A cached
// token is reused unless force is set or it is about to expire.
func (s *Session) FreshToken(_ context.Context, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return "", ErrNoIdentity
	}
	if !force && s.token != "" && s.tokens.now().Add(tokenRefreshMargin).Before(s.tokenExpiry) {
		return s.token, nil
	}

	token, expiry, err := s.tokens.Mint(*s.current)
	if err != nil {
		return "", err
	}
	s.token = token
	s.tokenExpiry = expiry
	return token, nil
}

func (s *Session) emit(ident *Identity) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.current = copyIdentity(ident)
	s.token = ""
	s.tokenExpiry = time.Time{}
	subs := make([]func(*Identity), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(copyIdentity(ident))
	}
}

func copyIdentity(ident *Identity) *Identity {
	if ident == nil {
		return nil
	}
	cpy := *ident
	return &cpy
}

// Package session keeps one client runtime per browser client: an identity
// session, its auth state store and the observer linking them. Runtimes are
// keyed by the SHA-256 hash of an opaque client token.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"carebook/internal/authstate"
	"carebook/internal/identity"
	"carebook/internal/platform/metrics"
	"carebook/internal/store"
)

const (
	defaultTTL          = 12 * time.Hour
	defaultAnonymousTTL = 30 * time.Minute
	defaultMaxAnonymous = 4096
	persistTimeout      = 5 * time.Second
	maxUserAgentLen     = 512
	maxIPAddressLen     = 45
)

// ErrNoToken is returned by Attach when the client presented no token.
var ErrNoToken = errors.New("missing client token")

// Record is the persisted form of a signed-in client at sessions/{tokenHash}.
type Record struct {
	Identity  identity.Identity `json:"identity"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	UserAgent string            `json:"userAgent,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
}

// Meta describes the request that attached a client.
type Meta struct {
	UserAgent string
	IPAddress string
}

// Client is the runtime of one browser client.
type Client struct {
	Session  *identity.Session
	Observer *authstate.Observer

	tokenHash   string
	createdAt   time.Time
	meta        Meta
	unsubscribe func()

	mu        sync.Mutex
	expiresAt time.Time
	promoted  bool
	stopped   bool
}

// State returns the current auth state of the client.
func (c *Client) State() authstate.State {
	return c.Observer.Store().Current()
}

// ExpiresAt returns when a signed-in runtime is torn down.
func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

func (c *Client) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.Observer.Stop()
}

// Options configures a Manager.
type Options struct {
	// TTL bounds the lifetime of a signed-in runtime and its persisted record.
	TTL time.Duration
	// AnonymousTTL and MaxAnonymous bound signed-out runtimes, which are
	// kept in memory only.
	AnonymousTTL   time.Duration
	MaxAnonymous   int
	ResolveTimeout time.Duration
	Authenticator  identity.Authenticator
	Tokens         *identity.TokenIssuer
	Logger         *slog.Logger
	Now            func() time.Time
}

// Manager creates, restores and expires client runtimes. Signed-in runtimes
// live until their TTL; signed-out ones sit in a bounded LRU and are moved
// over on sign-in.
type Manager struct {
	store    store.Store
	resolver authstate.Resolver
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	clients   map[string]*Client
	anonymous *expirable.LRU[string, *Client]
}

// NewManager wires a manager. records holds the persisted sessions and
// resolver is handed to every observer.
func NewManager(records store.Store, resolver authstate.Resolver, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.AnonymousTTL <= 0 {
		opts.AnonymousTTL = defaultAnonymousTTL
	}
	if opts.MaxAnonymous <= 0 {
		opts.MaxAnonymous = defaultMaxAnonymous
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    records,
		resolver: resolver,
		opts:     opts,
		logger:   logger.With("component", "session"),
		clients:  make(map[string]*Client),
	}
	m.anonymous = expirable.NewLRU[string, *Client](opts.MaxAnonymous, m.evicted, opts.AnonymousTTL)
	return m
}

// NewToken generates a cryptographically secure client token.
func NewToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate client token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// Attach returns the live runtime for token, restoring a persisted sign-in
// or creating a signed-out runtime when none exists.
func (m *Manager) Attach(ctx context.Context, token string, meta Meta) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	hash := hashToken(token)
	now := m.opts.Now()

	m.mu.Lock()
	live, expired := m.liveLocked(hash, now)
	m.mu.Unlock()
	if live != nil {
		return live, nil
	}
	if expired != nil {
		expired.stop()
		m.deleteRecord(ctx, hash)
	}

	rec, err := m.load(ctx, hash)
	if err != nil {
		m.logger.Warn("failed to restore client session", "error", err)
	}
	if rec != nil && !now.Before(rec.ExpiresAt) {
		m.deleteRecord(ctx, hash)
		rec = nil
	}

	fresh := m.newClient(hash, now, meta, rec)

	m.mu.Lock()
	live, expired = m.liveLocked(hash, now)
	if live == nil {
		if rec != nil {
			fresh.promoted = true
			m.clients[hash] = fresh
		} else {
			// Drops an expired entry the LRU has not purged yet, so it is stopped.
			m.anonymous.Remove(hash)
			m.anonymous.Add(hash, fresh)
		}
		m.reportLocked()
	}
	m.mu.Unlock()

	if expired != nil {
		expired.stop()
	}
	if live != nil {
		// Another request for the same token won the race.
		fresh.stop()
		return live, nil
	}
	return fresh, nil
}

// Forget tears down the runtime for token and deletes its persisted record.
func (m *Manager) Forget(ctx context.Context, token string) {
	if token == "" {
		return
	}
	hash := hashToken(token)

	m.mu.Lock()
	c := m.clients[hash]
	delete(m.clients, hash)
	m.anonymous.Remove(hash)
	m.reportLocked()
	m.mu.Unlock()

	if c != nil {
		c.stop()
	}
	m.deleteRecord(ctx, hash)
}

// Cleanup stops every expired signed-in runtime and returns how many were
// removed. Signed-out runtimes expire on their own.
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.opts.Now()

	m.mu.Lock()
	expired := make(map[string]*Client)
	for hash, c := range m.clients {
		if now.Before(c.ExpiresAt()) {
			continue
		}
		expired[hash] = c
		delete(m.clients, hash)
	}
	m.reportLocked()
	m.mu.Unlock()

	for hash, c := range expired {
		c.stop()
		m.deleteRecord(ctx, hash)
	}
	return len(expired)
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(ctx); n > 0 {
				m.logger.Debug("expired client runtimes removed", "count", n)
			}
		}
	}
}

// Close stops every runtime. Persisted records are kept so clients can be
// restored after a restart.
func (m *Manager) Close() {
	m.mu.Lock()
	signedIn := make([]*Client, 0, len(m.clients))
	for hash, c := range m.clients {
		signedIn = append(signedIn, c)
		delete(m.clients, hash)
	}
	m.anonymous.Purge()
	m.mu.Unlock()

	for _, c := range signedIn {
		c.stop()
	}
	metrics.ActiveClients.Set(0)
}

// Len returns the number of live runtimes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients) + m.anonymous.Len()
}

// liveLocked returns the usable runtime for hash. An expired signed-in
// runtime is unregistered and returned separately for the caller to stop.
func (m *Manager) liveLocked(hash string, now time.Time) (live, expired *Client) {
	if c, ok := m.clients[hash]; ok {
		if now.Before(c.ExpiresAt()) {
			return c, nil
		}
		delete(m.clients, hash)
		return nil, c
	}
	if c, ok := m.anonymous.Get(hash); ok {
		return c, nil
	}
	return nil, nil
}

func (m *Manager) reportLocked() {
	metrics.ActiveClients.Set(float64(len(m.clients) + m.anonymous.Len()))
}

// promote moves a runtime that just signed in out of the anonymous LRU and
// starts its TTL.
func (m *Manager) promote(c *Client) {
	c.mu.Lock()
	if c.promoted || c.stopped {
		c.mu.Unlock()
		return
	}
	c.promoted = true
	c.expiresAt = m.opts.Now().Add(m.opts.TTL)
	c.mu.Unlock()

	m.mu.Lock()
	if cur, ok := m.anonymous.Peek(c.tokenHash); ok && cur == c {
		m.anonymous.Remove(c.tokenHash)
	}
	m.clients[c.tokenHash] = c
	m.reportLocked()
	m.mu.Unlock()
}

// evicted stops a signed-out runtime dropped by the LRU.
func (m *Manager) evicted(_ string, c *Client) {
	c.mu.Lock()
	promoted := c.promoted
	c.mu.Unlock()
	if !promoted {
		c.stop()
	}
}

func (m *Manager) newClient(hash string, now time.Time, meta Meta, rec *Record) *Client {
	meta.UserAgent = truncateString(meta.UserAgent, maxUserAgentLen)
	meta.IPAddress = truncateString(meta.IPAddress, maxIPAddressLen)

	c := &Client{
		Session:   identity.NewSession(m.opts.Authenticator, m.opts.Tokens),
		tokenHash: hash,
		createdAt: now,
		expiresAt: now.Add(m.opts.TTL),
		meta:      meta,
	}
	if rec != nil {
		c.Session.Establish(rec.Identity)
		c.createdAt = rec.CreatedAt
		c.expiresAt = rec.ExpiresAt
		m.logger.Debug("client session restored", "identity_id", rec.Identity.ID)
	}

	c.Observer = authstate.NewObserver(c.Session, m.resolver, authstate.NewStore(),
		authstate.WithResolveTimeout(m.opts.ResolveTimeout),
		authstate.WithLogger(m.logger),
	)

	primed := false
	c.unsubscribe = c.Session.Subscribe(func(ident *identity.Identity) {
		if !primed {
			primed = true
			return
		}
		m.persist(c, ident)
	})
	c.Observer.Start()
	return c
}

// persist mirrors identity changes of c into the record store.
func (m *Manager) persist(c *Client, ident *identity.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if ident == nil {
		m.deleteRecord(ctx, c.tokenHash)
		return
	}
	m.promote(c)

	rec := Record{
		Identity:  *ident,
		CreatedAt: c.createdAt,
		ExpiresAt: c.ExpiresAt(),
		UserAgent: c.meta.UserAgent,
		IPAddress: c.meta.IPAddress,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		m.logger.Error("failed to encode client session", "error", err)
		return
	}
	path, err := store.SessionPath(c.tokenHash)
	if err != nil {
		m.logger.Error("invalid session path", "error", err)
		return
	}
	if err := m.store.Write(ctx, path, raw); err != nil {
		m.logger.Warn("failed to persist client session", "identity_id", ident.ID, "error", err)
	}
}

func (m *Manager) load(ctx context.Context, hash string) (*Record, error) {
	path, err := store.SessionPath(hash)
	if err != nil {
		return nil, err
	}
	raw, err := m.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rec.Identity.ID == "" {
		return nil, fmt.Errorf("decode %s: missing identity", path)
	}
	return &rec, nil
}

func (m *Manager) deleteRecord(ctx context.Context, hash string) {
	path, err := store.SessionPath(hash)
	if err != nil {
		return
	}
	if err := m.store.Delete(ctx, path); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("failed to delete client session", "error", err)
	}
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

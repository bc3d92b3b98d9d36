package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"carebook/internal/identity"
	"carebook/internal/platform/metrics"
	"carebook/internal/profile"
	"carebook/internal/store"
)

const defaultResolveTimeout = 10 * time.Second

// IdentitySource emits the signed-in identity (nil when signed out). The
// current value is delivered on subscribe.
type IdentitySource interface {
	Subscribe(onChange func(*identity.Identity)) func()
}

// Resolver looks up the profile for an identity. A clean miss is (nil, nil).
type Resolver interface {
	Lookup(ctx context.Context, identityID string) (profile.Profile, error)
}

// Option configures an Observer.
type Option func(*Observer)

// WithResolveTimeout bounds a single profile lookup.
func WithResolveTimeout(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used for resolution outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Observer follows the identity source and drives the Store: every identity
// event moves the state to resolving, then to a terminal variant once the
// profile lookup for that identity settles.
//
// Each resolution is tagged with a sequence number and the identity it was
// issued for. A result whose tag is no longer the latest is dropped.
type Observer struct {
	source   IdentitySource
	resolver Resolver
	store    *Store
	logger   *slog.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	seq         uint64
	latest      *identity.Identity
	started     bool
	stopped     bool
	unsubscribe func()
}

// NewObserver wires an observer; call Start to begin following the source.
func NewObserver(source IdentitySource, resolver Resolver, st *Store, opts ...Option) *Observer {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer{
		source:   source,
		resolver: resolver,
		store:    st,
		logger:   slog.Default(),
		timeout:  defaultResolveTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "authstate")
	return o
}

// Store returns the state store driven by this observer.
func (o *Observer) Store() *Store {
	return o.store
}

// Start subscribes to the identity source. Calling it again is a no-op.
func (o *Observer) Start() {
	o.mu.Lock()
	if o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	unsubscribe := o.source.Subscribe(o.observe)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		unsubscribe()
		return
	}
	o.unsubscribe = unsubscribe
	o.mu.Unlock()
}

// Stop unsubscribes from the identity source exactly once, abandons pending
// lookups and waits for in-flight resolutions to return.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.cancel()
	o.wg.Wait()
}

// Wait blocks until every resolution started so far has returned.
func (o *Observer) Wait() {
	o.wg.Wait()
}

// ReResolve runs profile resolution again for the latest identity, for
// example after its profile record has been written.
func (o *Observer) ReResolve() {
	defer o.store.deliver()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || o.latest == nil {
		return
	}
	o.begin(*o.latest)
}

func (o *Observer) observe(ident *identity.Identity) {
	defer o.store.deliver()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return
	}
	if ident == nil {
		o.seq++
		o.latest = nil
		o.store.commit(Resolving())
		o.store.commit(Unauthenticated())
		return
	}

	latest := *ident
	o.latest = &latest
	o.begin(latest)
}

// begin must be called with o.mu held. The caller delivers the commit after
// releasing it.
func (o *Observer) begin(ident identity.Identity) {
	o.seq++
	seq := o.seq
	o.store.commit(Resolving())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.resolve(seq, ident)
	}()
}

func (o *Observer) resolve(seq uint64, ident identity.Identity) {
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	p, err := o.resolver.Lookup(ctx, ident.ID)

	var (
		next    State
		outcome string
	)
	switch {
	case err != nil:
		next, outcome = NoProfile(), "failure"
	case p == nil:
		next, outcome = NoProfile(), "miss"
	default:
		next, outcome = WithProfile(p), "hit"
	}

	defer o.store.deliver()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || seq != o.seq || o.latest == nil || o.latest.ID != ident.ID {
		metrics.ProfileResolutionsTotal.WithLabelValues("stale").Inc()
		o.logger.Debug("discarding stale profile resolution", "identity_id", ident.ID, "seq", seq)
		return
	}

	metrics.ProfileResolutionsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		o.logger.Warn("profile resolution failed, continuing without profile",
			"identity_id", ident.ID,
			"reason", failureReason(err),
			"error", err,
		)
	} else {
		o.logger.Debug("profile resolved", "identity_id", ident.ID, "outcome", outcome)
	}
	o.store.commit(next)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, store.ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, store.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, profile.ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

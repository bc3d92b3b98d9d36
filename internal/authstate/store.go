package authstate

import (
	"context"
	"sync"

	"carebook/internal/platform/metrics"
)

// Store holds the current State of one client and notifies subscribers on
// every transition. Consumers can only read and subscribe; transitions are
// made by the Observer.
type Store struct {
	mu          sync.Mutex
	current     State
	changed     chan struct{}
	subscribers map[int]func(State)
	nextID      int

	// pending holds committed transitions not yet handed to subscribers.
	// One delivery loop runs at a time and drains it in commit order.
	pending    []State
	delivering bool
}

// NewStore returns a store in the Unknown state.
func NewStore() *Store {
	return &Store{
		current:     Unknown(),
		changed:     make(chan struct{}),
		subscribers: make(map[int]func(State)),
	}
}

// Current returns the state synchronously.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn for every future transition, delivered in order. The
// returned function cancels the subscription.
//
// Callbacks run outside every observer lock, so fn may call back into the
// Observer (for example ReResolve). A transition caused by such a call is
// delivered after fn returns.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Await blocks until the current state satisfies pred or ctx is done. On
// cancellation it returns the latest state together with ctx.Err().
func (s *Store) Await(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		current, changed := s.current, s.changed
		s.mu.Unlock()

		if pred(current) {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return s.Current(), ctx.Err()
		case <-changed:
		}
	}
}

// set commits state and delivers it.
func (s *Store) set(state State) {
	s.commit(state)
	s.deliver()
}

// commit makes state current and queues it for subscribers. It never calls
// out, so it is safe under the observer lock.
func (s *Store) commit(state State) {
	s.mu.Lock()
	s.current = state
	close(s.changed)
	s.changed = make(chan struct{})
	s.pending = append(s.pending, state)
	s.mu.Unlock()

	metrics.AuthTransitionsTotal.WithLabelValues(string(state.Status())).Inc()
}

// deliver hands every queued transition to the subscribers. It returns at
// once when another call is already delivering; that call drains the queue.
func (s *Store) deliver() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for len(s.pending) > 0 {
		state := s.pending[0]
		s.pending = s.pending[1:]
		subs := make([]func(State), 0, len(s.subscribers))
		for _, fn := range s.subscribers {
			subs = append(subs, fn)
		}
		s.mu.Unlock()

		for _, fn := range subs {
			fn(state)
		}

		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

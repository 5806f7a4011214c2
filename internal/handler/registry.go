package handler

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// Opener creates checkout sessions.
type Opener interface {
	Open(ctx context.Context, id string, p checkout.OpenParams) *checkout.Session
}

type entry struct {
	session *checkout.Session
	seen    time.Time
}

// Registry keeps the open checkout sessions. A session not used for the idle
// TTL is evicted by Sweep.
type Registry struct {
	opener Opener
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a registry evicting sessions idle for ttl.
func NewRegistry(opener Opener, ttl time.Duration) *Registry {
	return &Registry{
		opener:   opener,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Open creates and registers a session with a fresh id.
func (r *Registry) Open(ctx context.Context, p checkout.OpenParams) *checkout.Session {
	s := r.opener.Open(ctx, uuid.NewString(), p)

	r.mu.Lock()
	r.sessions[s.ID] = &entry{session: s, seen: r.now()}
	r.mu.Unlock()
	return s
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (*checkout.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.seen = r.now()
	return e.session, true
}

// Close discards the session. It reports whether the session existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed. A session
// with a submission in flight is kept.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := r.now().Add(-r.ttl)
	var n int
	for id, e := range r.sessions {
		if e.seen.After(deadline) {
			continue
		}
		if st := e.session.Checkout.Guard().State(); st.Placing && st.Phase != checkout.PhaseSucceeded {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	lg := zctx.From(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				lg.Debug("Evicted idle sessions", zap.Int("count", n), zap.Int("open", r.Len()))
			}
		}
	}
}

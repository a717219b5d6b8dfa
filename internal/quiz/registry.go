package quiz

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry keeps at most one running attempt per browser session.
type Registry struct {
	clock Clock
	grace time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

// NewRegistry returns an empty registry. Ended attempts stay readable (for the
// result page) for grace before Sweep evicts them.
func NewRegistry(clock Clock, grace time.Duration) *Registry {
	if clock == nil {
		clock = RealClock()
	}
	return &Registry{clock: clock, grace: grace, entries: make(map[string]*entry)}
}

// Start opens quizID for sessionID, replacing any attempt the session had
// running, and starts its countdown. The countdown outlives ctx.
func (r *Registry) Start(ctx context.Context, sessionID string, backend Backend, quizID string) (*Controller, error) {
	r.Drop(sessionID)

	ctrl := NewController(backend, r.clock)
	if err := ctrl.Start(ctx, quizID); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	if old, ok := r.entries[sessionID]; ok {
		old.stop()
	}
	r.entries[sessionID] = &entry{ctrl: ctrl, cancel: cancel}
	r.mu.Unlock()

	go ctrl.Run(runCtx)
	return ctrl, nil
}

// Get returns the attempt of sessionID, or nil.
func (r *Registry) Get(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		return e.ctrl
	}
	return nil
}

// Drop abandons and forgets the attempt of sessionID.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		e.stop()
	}
}

// Sweep evicts attempts that ended more than grace ago and returns how many.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if ended, ok := e.ctrl.EndedAt(); ok && now.Sub(ended) >= r.grace {
			e.cancel()
			delete(r.entries, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("evicted ended quiz attempts", "count", n)
	}
	return n
}

// Len returns the number of tracked attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (e *entry) stop() {
	e.ctrl.Cancel()
	e.cancel()
}

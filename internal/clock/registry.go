package clock

import (
	"sync"
	"time"
)

// Registry keeps at most one countdown per key.
type Registry struct {
	countdown *Countdown

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry returns an empty Registry whose countdowns run on c.
func NewRegistry(c Clock) *Registry {
	return &Registry{
		countdown: NewCountdown(c),
		handles:   make(map[string]*Handle),
	}
}

// Start arms a countdown for key, cancelling any countdown already running
// for it.
func (r *Registry) Start(key string, deadline time.Time, onTick func(int), onExpire func()) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handles[key]; ok {
		old.Cancel()
	}
	h := newHandle()
	r.handles[key] = h
	r.countdown.run(h, deadline, onTick, func() {
		r.release(key, h)
		if onExpire != nil {
			onExpire()
		}
	})
	return h
}

// Cancel stops the countdown for key, if any.
func (r *Registry) Cancel(key string) {
	r.mu.Lock()
	h, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()
	if ok {
		h.Cancel()
	}
}

// Active reports whether a countdown is running for key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key]
	return ok
}

// Len returns the number of running countdowns.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Stop cancels every countdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

func (r *Registry) release(key string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[key] == h {
		delete(r.handles, key)
	}
}

package clock

import (
	"sync"
	"time"
)

// Countdown runs one-second countdowns against a Clock.
type Countdown struct {
	clock Clock
}

// NewCountdown returns a Countdown driven by c.
func NewCountdown(c Clock) *Countdown {
	return &Countdown{clock: c}
}

// Handle controls a running countdown.
type Handle struct {
	once sync.Once
	done chan struct{}
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// finish marks the countdown over. Only the first caller gets true.
func (h *Handle) finish() bool {
	won := false
	h.once.Do(func() {
		won = true
		close(h.done)
	})
	return won
}

// Cancel stops the countdown. After Cancel returns, onExpire will not be
// invoked unless it had already started. Cancel may be called any number
// of times, before or after expiry.
func (h *Handle) Cancel() {
	h.finish()
}

// Done is closed once the countdown has expired or been cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start begins a countdown to deadline. onTick, if non-nil, receives the
// whole seconds remaining once per second. onExpire runs exactly once when
// the remaining time reaches zero. A deadline in the past expires at once.
// Both callbacks run on the countdown goroutine.
func (c *Countdown) Start(deadline time.Time, onTick func(remaining int), onExpire func()) *Handle {
	h := newHandle()
	c.run(h, deadline, onTick, onExpire)
	return h
}

func (c *Countdown) run(h *Handle, deadline time.Time, onTick func(int), onExpire func()) {
	// The ticker is created before the goroutine so that a Manual clock
	// advanced right after Start still delivers to it.
	ticker := c.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			remaining := SecondsUntil(deadline, c.clock.Now())
			if remaining == 0 {
				if h.finish() && onExpire != nil {
					onExpire()
				}
				return
			}
			if onTick != nil {
				onTick(remaining)
			}
			select {
			case <-h.done:
				return
			case <-ticker.C():
			}
		}
	}()
}

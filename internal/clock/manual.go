package clock

import (
	"slices"
	"sync"
	"time"
)

// Manual is a Clock that only moves when Advance is called. Tick delivery
// blocks until the receiver takes the tick or the ticker is stopped, so a
// countdown has observed every tick by the time the next one is sent.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		clock: m,
		c:     make(chan time.Time),
		d:     d,
		next:  m.now.Add(d),
		done:  make(chan struct{}),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Set jumps the clock to t without firing tickers. Like a real ticker
// after a stall, a ticker that missed intervals owes a single tick, which
// the next Advance delivers at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	for _, tk := range m.tickers {
		if tk.next.Before(t) {
			tk.next = t
		}
	}
}

// Advance moves the clock forward by d, firing every ticker interval that
// falls inside the window in time order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		at := t.next
		if at.After(m.now) {
			m.now = at
		}
		t.next = t.next.Add(t.d)
		m.mu.Unlock()

		select {
		case t.c <- at:
		case <-t.done:
		}
	}
}

// Tickers returns the number of live tickers.
func (m *Manual) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *Manual) nextDue(target time.Time) *manualTicker {
	var due *manualTicker
	for _, t := range m.tickers {
		if t.next.After(target) {
			continue
		}
		if due == nil || t.next.Before(due.next) {
			due = t
		}
	}
	return due
}

func (m *Manual) remove(t *manualTicker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers = slices.DeleteFunc(m.tickers, func(x *manualTicker) bool { return x == t })
}

type manualTicker struct {
	clock *Manual
	c     chan time.Time
	d     time.Duration
	next  time.Time
	done  chan struct{}
	once  sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.once.Do(func() {
		close(t.done)
		t.clock.remove(t)
	})
}

// Package clock provides the wall-clock source and per-session countdowns
// used by timed exams and games.
package clock

import (
	"math"
	"time"
)

// Clock is a source of the current time and of periodic ticks.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// SecondsUntil returns the whole seconds left before deadline, rounded up,
// or 0 once the deadline is reached.
func SecondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// RemainingSeconds recomputes the time left on an attempt started at
// startedAt with the given limit. It never goes below zero.
func RemainingSeconds(startedAt time.Time, limit time.Duration, now time.Time) int {
	return SecondsUntil(startedAt.Add(limit), now)
}

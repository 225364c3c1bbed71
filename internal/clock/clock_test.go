package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSecondsUntil(t *testing.T) {
	tests := []struct {
		name string
		left time.Duration
		want int
	}{
		{"exact", 60 * time.Second, 60},
		{"rounds up", 59*time.Second + time.Millisecond, 60},
		{"half second", 500 * time.Millisecond, 1},
		{"reached", 0, 0},
		{"past", -5 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecondsUntil(epoch.Add(tt.left), epoch); got != tt.want {
				t.Errorf("SecondsUntil = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRemainingSeconds(t *testing.T) {
	started := epoch
	limit := 30 * time.Minute
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at start", started, 1800},
		{"after ten minutes", started.Add(10 * time.Minute), 1200},
		{"at limit", started.Add(limit), 0},
		{"after restart past limit", started.Add(2 * time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingSeconds(started, limit, tt.now); got != tt.want {
				t.Errorf("RemainingSeconds = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCountdownTicksAndExpiresOnce(t *testing.T) {
	clk := NewManual(epoch)
	ticks := make(chan int, 10)
	var expired atomic.Int32
	fired := make(chan struct{})

	h := NewCountdown(clk).Start(epoch.Add(3*time.Second), func(rem int) {
		ticks <- rem
	}, func() {
		if expired.Add(1) == 1 {
			close(fired)
		}
	})

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
	}
	waitClosed(t, fired, "expiry")
	waitClosed(t, h.Done(), "handle done")

	close(ticks)
	var got []int
	for r := range ticks {
		got = append(got, r)
	}
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("ticks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tick %d = %d, want %d", i, got[i], want[i])
		}
	}

	h.Cancel()
	h.Cancel()
	if n := expired.Load(); n != 1 {
		t.Errorf("onExpire ran %d times, want 1", n)
	}
}

func TestCountdownUsesWallClockDelta(t *testing.T) {
	clk := NewManual(epoch)
	fired := make(chan struct{})
	h := NewCountdown(clk).Start(epoch.Add(60*time.Second), nil, func() { close(fired) })

	// A jump without ticks (process suspended) is caught on the next tick.
	clk.Set(epoch.Add(59*time.Second + 500*time.Millisecond))
	clk.Advance(time.Second)

	waitClosed(t, fired, "expiry after jump")
	waitClosed(t, h.Done(), "handle done")
}

func TestCountdownPastDeadlineExpiresImmediately(t *testing.T) {
	clk := NewManual(epoch)
	fired := make(chan struct{})
	NewCountdown(clk).Start(epoch.Add(-time.Minute), func(int) {
		t.Error("onTick called for expired deadline")
	}, func() { close(fired) })
	waitClosed(t, fired, "immediate expiry")
}

func TestCountdownCancelBeforeExpiry(t *testing.T) {
	clk := NewManual(epoch)
	var expired atomic.Bool
	h := NewCountdown(clk).Start(epoch.Add(2*time.Second), nil, func() { expired.Store(true) })

	clk.Advance(time.Second)
	h.Cancel()
	waitClosed(t, h.Done(), "cancel")
	clk.Advance(5 * time.Second)

	if expired.Load() {
		t.Error("onExpire ran after Cancel")
	}
}

func TestRegistryReplacesPriorCountdown(t *testing.T) {
	clk := NewManual(epoch)
	reg := NewRegistry(clk)

	var firstExpired atomic.Bool
	first := reg.Start("sub-1", epoch.Add(2*time.Second), nil, func() { firstExpired.Store(true) })
	secondFired := make(chan struct{})
	reg.Start("sub-1", epoch.Add(4*time.Second), nil, func() { close(secondFired) })

	waitClosed(t, first.Done(), "first handle cancelled")
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	for i := 0; i < 4; i++ {
		clk.Advance(time.Second)
	}
	waitClosed(t, secondFired, "second expiry")
	if firstExpired.Load() {
		t.Error("replaced countdown fired")
	}
	if reg.Active("sub-1") {
		t.Error("expired countdown still registered")
	}
}

func TestRegistryCancelAndStop(t *testing.T) {
	clk := NewManual(epoch)
	reg := NewRegistry(clk)
	a := reg.Start("a", epoch.Add(time.Hour), nil, nil)
	b := reg.Start("b", epoch.Add(time.Hour), nil, nil)

	reg.Cancel("a")
	reg.Cancel("a")
	waitClosed(t, a.Done(), "cancel a")
	if reg.Len() != 1 {
		t.Errorf("Len after cancel = %d, want 1", reg.Len())
	}

	reg.Stop()
	waitClosed(t, b.Done(), "stop b")
	if reg.Len() != 0 {
		t.Errorf("Len after stop = %d, want 0", reg.Len())
	}
}

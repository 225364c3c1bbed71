// Package session implements the lifecycle shared by exam attempts:
// not started, in progress, submitted, graded.
package session

import (
	"fmt"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/model"
)

// State is the lifecycle position of an attempt.
type State = model.SubmissionStatus

const (
	NotStarted = model.StatusNotStarted
	InProgress = model.StatusInProgress
	Submitted  = model.StatusSubmitted
	Graded     = model.StatusGraded
)

// Reason records what triggered a submission.
type Reason = model.SubmitReason

// ParseReason validates a reason string. Empty means manual.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case "":
		return model.SubmitManual, nil
	case model.SubmitManual, model.SubmitTimeout, model.SubmitDeadline:
		return r, nil
	default:
		return "", model.Invalid("reason", "unknown submit reason %q", s)
	}
}

// Machine tracks one attempt. A zero Duration means untimed.
type Machine struct {
	State       State
	StartedAt   *time.Time
	SubmittedAt *time.Time
	Duration    time.Duration
}

// FromSubmission builds a Machine from a persisted submission.
func FromSubmission(sub model.Submission, limit time.Duration) *Machine {
	state := sub.Status
	if state == "" {
		state = NotStarted
	}
	return &Machine{
		State:       state,
		StartedAt:   sub.StartedAt,
		SubmittedAt: sub.SubmittedAt,
		Duration:    limit,
	}
}

func stale(from State, op string) error {
	return fmt.Errorf("%s from %s: %w", op, from, model.ErrStaleTransition)
}

// Start moves NotStarted to InProgress. It is a no-op when already in
// progress.
func (m *Machine) Start(now time.Time) error {
	switch m.State {
	case NotStarted:
		m.State = InProgress
		m.StartedAt = &now
		return nil
	case InProgress:
		return nil
	default:
		return stale(m.State, "start")
	}
}

// CanWrite reports whether answers may be recorded.
func (m *Machine) CanWrite() bool {
	return m.State == InProgress
}

// Submit freezes the attempt. When complete is true no manual grading is
// outstanding and the attempt goes straight to Graded.
func (m *Machine) Submit(now time.Time, complete bool) error {
	if m.State != InProgress {
		return stale(m.State, "submit")
	}
	m.SubmittedAt = &now
	if complete {
		m.State = Graded
	} else {
		m.State = Submitted
	}
	return nil
}

// Reconcile moves Submitted to Graded once grading is complete. Any other
// combination is a no-op.
func (m *Machine) Reconcile(complete bool) {
	if m.State == Submitted && complete {
		m.State = Graded
	}
}

// Remaining returns the whole seconds left on the attempt. Untimed or
// unstarted attempts report the full limit; frozen attempts report 0.
func (m *Machine) Remaining(now time.Time) int {
	switch {
	case m.State.Frozen():
		return 0
	case m.StartedAt == nil:
		return int(m.Duration / time.Second)
	}
	return clock.RemainingSeconds(*m.StartedAt, m.Duration, now)
}

// Elapsed returns the time spent in progress, capped at Duration when the
// attempt is timed.
func (m *Machine) Elapsed(now time.Time) time.Duration {
	if m.StartedAt == nil {
		return 0
	}
	end := now
	if m.SubmittedAt != nil {
		end = *m.SubmittedAt
	}
	d := end.Sub(*m.StartedAt)
	if d < 0 {
		d = 0
	}
	if m.Duration > 0 && d > m.Duration {
		d = m.Duration
	}
	return d
}

// Expired reports whether an in-progress timed attempt has run out.
func (m *Machine) Expired(now time.Time) bool {
	return m.State == InProgress && m.Duration > 0 && m.Remaining(now) == 0
}

// Deadline returns when the attempt runs out, if it is timed and started.
func (m *Machine) Deadline() (time.Time, bool) {
	if m.StartedAt == nil || m.Duration <= 0 {
		return time.Time{}, false
	}
	return m.StartedAt.Add(m.Duration), true
}

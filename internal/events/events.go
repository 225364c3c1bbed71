// Package events publishes domain events about submissions and game plays.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Event kinds.
const (
	SubmissionSubmitted = "submission.submitted"
	SubmissionGraded    = "submission.graded"
	GamePlayed          = "game.played"
)

// Event is one domain event. Subject is the ID of the record it is about.
type Event struct {
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventLog is the persistence the Log publisher writes to.
type EventLog interface {
	AppendEvent(ctx context.Context, kind, subject string, payload []byte) error
}

// Log appends events to the database event log.
type Log struct {
	store EventLog
}

// NewLog returns a Log publisher backed by store.
func NewLog(store EventLog) *Log {
	return &Log{store: store}
}

func (l *Log) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Kind, err)
	}
	if err := l.store.AppendEvent(ctx, e.Kind, e.Subject, payload); err != nil {
		return fmt.Errorf("append event %s: %w", e.Kind, err)
	}
	return nil
}

// Emit publishes e and logs a failure instead of returning it. Event
// delivery never fails the operation that produced the event.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("publish event failed", "kind", e.Kind, "subject", e.Subject, "error", err)
	}
}

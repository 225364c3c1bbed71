package store

import (
	"context"
	"time"
)

// Event is one row of the event log.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvent writes an event to the log.
func (s *Store) AppendEvent(ctx context.Context, kind, subject string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (kind, subject, payload, created_at) VALUES ($1, $2, $3, $4)`,
		kind, subject, string(payload), s.now().UTC(),
	)
	return err
}

// ListEvents returns logged events for subject, oldest first. An empty
// subject lists every event.
func (s *Store) ListEvents(ctx context.Context, subject string) ([]Event, error) {
	query := `SELECT id, kind, subject, payload, created_at FROM event_log`
	var args []any
	if subject != "" {
		query += ` WHERE subject = $1`
		args = append(args, subject)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

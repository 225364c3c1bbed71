package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/proctor/internal/model"
)

const examColumns = `id, title, owner_id, questions, duration_minutes, deadline, target, status, created_at`

func scanExam(row scanner) (model.Exam, error) {
	var (
		e         model.Exam
		questions string
		target    string
		deadline  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Title, &e.OwnerID, &questions, &e.DurationMinutes, &deadline, &target, &e.Status, &e.CreatedAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
		return e, fmt.Errorf("decode questions of exam %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(target), &e.Target); err != nil {
		return e, fmt.Errorf("decode target of exam %s: %w", e.ID, err)
	}
	e.Deadline = timePtr(deadline)
	return e, nil
}

// UpsertExam inserts an exam or replaces its authored fields.
func (s *Store) UpsertExam(ctx context.Context, e model.Exam) error {
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	target, err := json.Marshal(e.Target)
	if err != nil {
		return fmt.Errorf("encode target: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var deadline any
	if e.Deadline != nil {
		deadline = e.Deadline.UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (`+examColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			owner_id = excluded.owner_id,
			questions = excluded.questions,
			duration_minutes = excluded.duration_minutes,
			deadline = excluded.deadline,
			target = excluded.target,
			status = excluded.status`,
		e.ID, e.Title, e.OwnerID, string(questions), e.DurationMinutes, deadline, string(target), e.Status, created.UTC(),
	)
	return err
}

// GetExam returns an exam by ID or model.ErrNotFound.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if notFound(err) {
		return e, fmt.Errorf("exam %s: %w", id, model.ErrNotFound)
	}
	return e, err
}

// ListExams returns all exams ordered by creation time.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+examColumns+` FROM exams ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/proctor/internal/model"
)

const submissionColumns = `id, exam_id, student_id, status, answers, essay_grades,
	mc_score, essay_score, total_score, total_points, total_essay, graded_essay,
	time_spent_seconds, submit_reason, created_at, started_at, submitted_at, graded_at`

func scanSubmission(row scanner) (model.Submission, error) {
	var (
		sub                          model.Submission
		answers, grades              string
		started, submitted, gradedAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.Status, &answers, &grades,
		&sub.MCScore, &sub.EssayScore, &sub.TotalScore, &sub.TotalPoints,
		&sub.TotalEssayQuestions, &sub.GradedEssayQuestions,
		&sub.TimeSpentSeconds, &sub.SubmitReason, &sub.CreatedAt, &started, &submitted, &gradedAt)
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return sub, fmt.Errorf("decode answers of submission %s: %w", sub.ID, err)
	}
	if err := json.Unmarshal([]byte(grades), &sub.EssayGrades); err != nil {
		return sub, fmt.Errorf("decode grades of submission %s: %w", sub.ID, err)
	}
	if sub.Answers == nil {
		sub.Answers = map[int]model.Answer{}
	}
	if sub.EssayGrades == nil {
		sub.EssayGrades = map[int]model.EssayGrade{}
	}
	sub.StartedAt = timePtr(started)
	sub.SubmittedAt = timePtr(submitted)
	sub.GradedAt = timePtr(gradedAt)
	return sub, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) getSubmissionByID(ctx context.Context, q querier, id string, lock bool) (model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	if lock {
		query += s.forUpdate()
	}
	sub, err := scanSubmission(q.QueryRowContext(ctx, query, id))
	if notFound(err) {
		return sub, fmt.Errorf("submission %s: %w", id, model.ErrNotFound)
	}
	return sub, err
}

// GetSubmissionByID returns a submission or model.ErrNotFound.
func (s *Store) GetSubmissionByID(ctx context.Context, id string) (model.Submission, error) {
	return s.getSubmissionByID(ctx, s.db, id, false)
}

// GetSubmission returns the submission of a student for an exam or
// model.ErrNotFound.
func (s *Store) GetSubmission(ctx context.Context, examID string, studentID int64) (model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
	if notFound(err) {
		return sub, fmt.Errorf("submission for exam %s student %d: %w", examID, studentID, model.ErrNotFound)
	}
	return sub, err
}

// EnsureSubmission returns the submission of a student for an exam,
// creating a not_started one when none exists yet.
func (s *Store) EnsureSubmission(ctx context.Context, examID string, studentID int64) (model.Submission, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, exam_id, student_id, status, answers, essay_grades, created_at)
		 VALUES ($1, $2, $3, $4, '{}', '{}', $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		uuid.NewString(), examID, studentID, model.StatusNotStarted, s.now().UTC(),
	)
	if err != nil {
		return model.Submission{}, fmt.Errorf("create submission: %w", err)
	}
	return s.GetSubmission(ctx, examID, studentID)
}

// StartSubmission moves a not_started submission to in_progress. It
// reports false when the submission was not in the not_started state.
func (s *Store) StartSubmission(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		model.StatusInProgress, startedAt.UTC(), id, model.StatusNotStarted,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PutAnswer stores one answer on an in-progress submission, replacing any
// earlier value. On a submission that is not in progress it returns the
// stored submission with an error wrapping model.ErrStaleTransition.
func (s *Store) PutAnswer(ctx context.Context, id string, index int, ans model.Answer) (model.Submission, error) {
	var sub model.Submission
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sub, err = s.getSubmissionByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if sub.Status != model.StatusInProgress {
			return fmt.Errorf("answer on %s submission: %w", sub.Status, model.ErrStaleTransition)
		}
		sub.Answers[index] = ans
		answers, err := encodeJSON(sub.Answers)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE submissions SET answers = $1 WHERE id = $2`, answers, id)
		return err
	})
	return sub, err
}

// FinalizeSubmission writes a scored submission if, and only if, it is
// still in progress. It reports false when another writer got there first.
func (s *Store) FinalizeSubmission(ctx context.Context, sub model.Submission) (bool, error) {
	answers, err := encodeJSON(sub.Answers)
	if err != nil {
		return false, fmt.Errorf("encode answers: %w", err)
	}
	grades, err := encodeJSON(sub.EssayGrades)
	if err != nil {
		return false, fmt.Errorf("encode grades: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET
			status = $1, answers = $2, essay_grades = $3,
			mc_score = $4, essay_score = $5, total_score = $6, total_points = $7,
			total_essay = $8, graded_essay = $9, time_spent_seconds = $10,
			submit_reason = $11, submitted_at = $12, graded_at = $13
		 WHERE id = $14 AND status = $15`,
		sub.Status, answers, grades,
		sub.MCScore, sub.EssayScore, sub.TotalScore, sub.TotalPoints,
		sub.TotalEssayQuestions, sub.GradedEssayQuestions, sub.TimeSpentSeconds,
		sub.SubmitReason, nullTime(sub.SubmittedAt), nullTime(sub.GradedAt),
		sub.ID, model.StatusInProgress,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateSubmission re-reads a submission inside a transaction, lets fn
// modify it and writes back grades, scores and status. Nothing is written
// when fn returns an error.
func (s *Store) UpdateSubmission(ctx context.Context, id string, fn func(sub *model.Submission) error) (model.Submission, error) {
	var sub model.Submission
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sub, err = s.getSubmissionByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&sub); err != nil {
			return err
		}
		grades, err := encodeJSON(sub.EssayGrades)
		if err != nil {
			return fmt.Errorf("encode grades: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE submissions SET
				status = $1, essay_grades = $2,
				mc_score = $3, essay_score = $4, total_score = $5, total_points = $6,
				total_essay = $7, graded_essay = $8, graded_at = $9
			 WHERE id = $10`,
			sub.Status, grades,
			sub.MCScore, sub.EssayScore, sub.TotalScore, sub.TotalPoints,
			sub.TotalEssayQuestions, sub.GradedEssayQuestions, nullTime(sub.GradedAt),
			sub.ID,
		)
		return err
	})
	return sub, err
}

func (s *Store) querySubmissions(ctx context.Context, where string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListSubmissions returns every submission for an exam.
func (s *Store) ListSubmissions(ctx context.Context, examID string) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `exam_id = $1`, examID)
}

// ListSubmissionsByStatus returns every submission in the given state.
func (s *Store) ListSubmissionsByStatus(ctx context.Context, status model.SubmissionStatus) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `status = $1`, status)
}

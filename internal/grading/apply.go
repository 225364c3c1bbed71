package grading

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/validate"
)

// Grade batch outcomes as reported to metrics.
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeStale    = "stale"
)

// validateBatch checks every entry against exam and reports all problems.
func validateBatch(exam model.Exam, entries []model.GradeEntry) error {
	if len(entries) == 0 {
		return model.Invalid("grades", "no grades given")
	}
	verr := &model.ValidationError{}
	seen := make(map[int]bool, len(entries))
	for i, e := range entries {
		field := fmt.Sprintf("grades[%d]", i)
		var ve *model.ValidationError
		if err := validate.Struct(field, e); errors.As(err, &ve) {
			verr.Problems = append(verr.Problems, ve.Problems...)
			continue
		} else if err != nil {
			return err
		}
		if e.QuestionIndex >= len(exam.Questions) {
			verr.Add(field, "question %d does not exist", e.QuestionIndex)
			continue
		}
		if seen[e.QuestionIndex] {
			verr.Add(field, "question %d graded twice", e.QuestionIndex)
			continue
		}
		seen[e.QuestionIndex] = true
		if errors.As(scoring.ValidateGrade(exam.Questions[e.QuestionIndex], e.QuestionIndex, e.Score), &ve) {
			verr.Problems = append(verr.Problems, ve.Problems...)
		}
	}
	return verr.OrNil()
}

// ApplyGrades records essay grades on a submitted or graded submission.
// The batch is all or nothing: any invalid entry rejects it with a
// validation error and nothing is written. The write re-reads the
// submission inside a transaction, so concurrent graders never work from
// a stale count. Re-applying an identical batch changes nothing.
//
// Grading a submission that has not been submitted yet returns it
// unchanged with an error wrapping model.ErrStaleTransition. Only the
// exam's owner or an admin may grade.
func (w *Workbench) ApplyGrades(ctx context.Context, submissionID string, grader *model.User, entries []model.GradeEntry) (model.Submission, error) {
	current, err := w.store.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return current, err
	}
	exam, err := w.store.GetExam(ctx, current.ExamID)
	if err != nil {
		return current, err
	}
	if err := authorize(exam, grader); err != nil {
		return current, err
	}
	graderID := grader.ID
	if err := validateBatch(exam, entries); err != nil {
		w.metrics.GradeBatch(outcomeRejected)
		return current, err
	}

	now := w.clock.Now()
	var before model.SubmissionStatus
	sub, err := w.store.UpdateSubmission(ctx, submissionID, func(sub *model.Submission) error {
		before = sub.Status
		if !sub.Status.Frozen() {
			return fmt.Errorf("grade %s submission: %w", sub.Status, model.ErrStaleTransition)
		}
		if sub.EssayGrades == nil {
			sub.EssayGrades = make(map[int]model.EssayGrade, len(entries))
		}
		for _, e := range entries {
			old, ok := sub.EssayGrades[e.QuestionIndex]
			if ok && old.Score == e.Score && old.Feedback == e.Feedback && old.GraderID == graderID {
				continue
			}
			sub.EssayGrades[e.QuestionIndex] = model.EssayGrade{
				Score:    e.Score,
				Feedback: e.Feedback,
				GraderID: graderID,
				GradedAt: now,
			}
		}
		sum := w.scorer.Score(exam, sub.Answers, sub.EssayGrades)
		sum.Apply(sub)
		sub.Status = sum.Status()
		switch {
		case sub.Status != model.StatusGraded:
			sub.GradedAt = nil
		case sub.GradedAt == nil:
			sub.GradedAt = &now
		}
		return nil
	})
	if errors.Is(err, model.ErrStaleTransition) {
		w.metrics.GradeBatch(outcomeStale)
		w.logger.Info("grades for unsubmitted attempt ignored", "submission", submissionID, "status", before)
		return sub, err
	}
	if err != nil {
		return current, fmt.Errorf("apply grades: %w", err)
	}

	w.metrics.GradeBatch(outcomeApplied)
	w.logger.Info("grades applied",
		"submission", sub.ID, "grader", graderID, "entries", len(entries),
		"status", sub.Status, "essay_score", sub.EssayScore, "total", sub.TotalScore)
	if before != model.StatusGraded && sub.Status == model.StatusGraded {
		events.Emit(ctx, w.events, w.logger, events.Event{
			Kind: events.SubmissionGraded, Subject: sub.ID, At: now,
			Data: map[string]any{
				"exam_id":    sub.ExamID,
				"student_id": sub.StudentID,
				"grader_id":  graderID,
				"score":      sub.TotalScore,
			},
		})
	}
	return sub, nil
}

// SuggestGrades asks the configured model for a grade on every essay of
// the submission that has no grade yet. Nothing is stored.
func (w *Workbench) SuggestGrades(ctx context.Context, submissionID string, actor *model.User) ([]model.GradeEntry, error) {
	sub, err := w.store.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	exam, err := w.store.GetExam(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}
	if err := authorize(exam, actor); err != nil {
		return nil, err
	}
	if w.suggester == nil {
		return nil, ErrNoSuggester
	}
	if !sub.Status.Frozen() {
		return nil, fmt.Errorf("suggest grades for %s submission: %w", sub.Status, model.ErrStaleTransition)
	}
	out := []model.GradeEntry{}
	for i, q := range exam.Questions {
		if q.Type != model.QuestionEssay {
			continue
		}
		if _, graded := sub.EssayGrades[i]; graded {
			continue
		}
		var text string
		if t := sub.Answers[i].Text; t != nil {
			text = *t
		}
		s, err := w.suggester.SuggestGrade(ctx, i, q, text)
		if err != nil {
			return out, fmt.Errorf("suggest grade for question %d: %w", i, err)
		}
		out = append(out, model.GradeEntry{QuestionIndex: s.QuestionIndex, Score: s.Score, Feedback: s.Feedback})
	}
	return out, nil
}

package exam

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/session"
)

// Submit freezes the attempt and scores it. answers, if given, are merged
// over the recorded ones first. Submitting an attempt that is already
// submitted or graded returns the stored result, so a timeout racing a
// manual click scores the attempt once.
func (c *Controller) Submit(ctx context.Context, examID string, studentID int64, reason model.SubmitReason, answers map[int]model.Answer) (model.SubmitResult, error) {
	exam, sub, err := c.enter(ctx, examID, studentID)
	if err != nil {
		return model.SubmitResult{}, err
	}
	if sub.Status.Frozen() {
		return c.result(exam, sub), nil
	}

	final := make(map[int]model.Answer, len(answers))
	for i, a := range answers {
		if !a.IsZero() {
			final[i] = a
		}
	}
	if err := scoring.ValidateAnswers(exam, final); err != nil {
		return model.SubmitResult{}, err
	}
	if sub, err = c.begin(ctx, exam, sub); err != nil {
		return model.SubmitResult{}, err
	}
	if sub.Answers == nil {
		sub.Answers = map[int]model.Answer{}
	}
	for i, a := range final {
		sub.Answers[i] = a
	}

	now := c.clock.Now()
	sum := c.scorer.Score(exam, sub.Answers, sub.EssayGrades)
	m := session.FromSubmission(sub, exam.Duration())
	if err := m.Submit(now, sum.Complete()); err != nil {
		return c.current(ctx, exam, sub.ID)
	}
	sum.Apply(&sub)
	sub.Status = m.State
	sub.SubmittedAt = m.SubmittedAt
	sub.SubmitReason = reason
	sub.TimeSpentSeconds = int(m.Elapsed(now) / time.Second)
	if sub.Status == model.StatusGraded {
		sub.GradedAt = &now
	}

	won, err := c.store.FinalizeSubmission(ctx, sub)
	if err != nil {
		return model.SubmitResult{}, fmt.Errorf("finalize submission: %w", err)
	}
	c.timers.Cancel(sub.ID)
	if !won {
		return c.current(ctx, exam, sub.ID)
	}

	c.logger.Info("exam submitted",
		"exam", exam.ID, "student", studentID, "submission", sub.ID,
		"reason", reason, "status", sub.Status, "score", sub.TotalScore, "time_spent", sub.TimeSpentSeconds)
	c.metrics.Submitted(string(reason), string(sub.Status), sub.TimeSpentSeconds)

	res := c.result(exam, sub)
	events.Emit(ctx, c.events, c.logger, events.Event{
		Kind: events.SubmissionSubmitted, Subject: sub.ID, At: now,
		Data: map[string]any{
			"exam_id":    exam.ID,
			"student_id": studentID,
			"reason":     reason,
			"status":     sub.Status,
			"score":      sub.TotalScore,
			"time_spent": sub.TimeSpentSeconds,
		},
	})
	if sub.Status == model.StatusGraded {
		events.Emit(ctx, c.events, c.logger, events.Event{
			Kind: events.SubmissionGraded, Subject: sub.ID, At: now,
			Data: map[string]any{"exam_id": exam.ID, "student_id": studentID, "score": sub.TotalScore},
		})
	}
	return res, nil
}

// current returns the result of the submission as stored.
func (c *Controller) current(ctx context.Context, exam model.Exam, id string) (model.SubmitResult, error) {
	stored, err := c.store.GetSubmissionByID(ctx, id)
	if err != nil {
		return model.SubmitResult{}, err
	}
	return c.result(exam, stored), nil
}

func (c *Controller) result(exam model.Exam, sub model.Submission) model.SubmitResult {
	sum := c.scorer.Score(exam, sub.Answers, sub.EssayGrades)
	return model.SubmitResult{
		SubmissionID:       sub.ID,
		Status:             sub.Status,
		Score:              sub.TotalScore,
		TotalPoints:        sum.TotalPoints,
		TimeSpentSeconds:   sub.TimeSpentSeconds,
		PerQuestionResults: sum.Results,
	}
}

// ResumeState is the reconstructed state of an attempt after a restart.
type ResumeState struct {
	State            model.SubmissionStatus
	RemainingSeconds int
	Expired          bool
}

// Resume reconstructs the state of an attempt from a stored snapshot
// without touching storage.
func Resume(snapshot model.Submission, durationMinutes int, now time.Time) ResumeState {
	m := session.FromSubmission(snapshot, time.Duration(durationMinutes)*time.Minute)
	return ResumeState{
		State:            m.State,
		RemainingSeconds: m.Remaining(now),
		Expired:          m.Expired(now),
	}
}

// RecoverAll re-arms countdowns for every attempt in progress, submitting
// the ones whose time ran out while the process was down. It returns the
// number re-armed and the number submitted.
func (c *Controller) RecoverAll(ctx context.Context) (armed, submitted int, err error) {
	subs, err := c.store.ListSubmissionsByStatus(ctx, model.StatusInProgress)
	if err != nil {
		return 0, 0, fmt.Errorf("list in-progress submissions: %w", err)
	}
	now := c.clock.Now()
	exams := map[string]model.Exam{}
	for _, sub := range subs {
		exam, ok := exams[sub.ExamID]
		if !ok {
			exam, err = c.store.GetExam(ctx, sub.ExamID)
			if err != nil {
				c.logger.Error("recover: load exam", "exam", sub.ExamID, "error", err)
				continue
			}
			exams[sub.ExamID] = exam
		}
		m := session.FromSubmission(sub, exam.Duration())
		if m.Expired(now) {
			if _, err := c.Submit(ctx, sub.ExamID, sub.StudentID, model.SubmitTimeout, nil); err != nil {
				c.logger.Error("recover: timeout submit", "submission", sub.ID, "error", err)
				continue
			}
			submitted++
			continue
		}
		c.arm(exam, sub)
		armed++
	}
	c.logger.Info("recovered exam sessions", "armed", armed, "submitted", submitted)
	return armed, submitted, nil
}

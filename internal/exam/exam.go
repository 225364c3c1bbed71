// Package exam runs student exam attempts: entry checks, the countdown,
// answer recording and idempotent submission.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/session"
)

// Store is the persistence the controller needs.
type Store interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
	GetSubmission(ctx context.Context, examID string, studentID int64) (model.Submission, error)
	GetSubmissionByID(ctx context.Context, id string) (model.Submission, error)
	EnsureSubmission(ctx context.Context, examID string, studentID int64) (model.Submission, error)
	StartSubmission(ctx context.Context, id string, startedAt time.Time) (bool, error)
	PutAnswer(ctx context.Context, id string, index int, ans model.Answer) (model.Submission, error)
	FinalizeSubmission(ctx context.Context, sub model.Submission) (bool, error)
	ListSubmissionsByStatus(ctx context.Context, status model.SubmissionStatus) ([]model.Submission, error)
}

// Roster resolves class membership for exam targeting.
type Roster interface {
	ClassesOf(ctx context.Context, userID int64) ([]string, error)
}

// Controller coordinates exam attempts.
type Controller struct {
	store   Store
	roster  Roster
	clock   clock.Clock
	timers  *clock.Registry
	scorer  *scoring.Engine
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source. The default is the system clock.
func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithEvents sets the event publisher.
func WithEvents(p events.Publisher) Option { return func(ctl *Controller) { ctl.events = p } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(ctl *Controller) { ctl.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.logger = l } }

// New returns a Controller. roster may be nil, in which case only direct
// student targets grant access.
func New(store Store, roster Roster, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		roster: roster,
		clock:  clock.System{},
		scorer: scoring.New(),
		events: events.Nop{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.timers = clock.NewRegistry(c.clock)
	return c
}

// ActiveCountdowns returns the number of running countdowns.
func (c *Controller) ActiveCountdowns() int { return c.timers.Len() }

// Close cancels every running countdown.
func (c *Controller) Close() { c.timers.Stop() }

// Session is what a student sees when entering an exam.
type Session struct {
	Exam             model.Exam       `json:"exam"`
	Submission       model.Submission `json:"submission"`
	RemainingSeconds int              `json:"remaining_seconds"`
}

func unavailable(examID string, reason model.UnavailableReason) error {
	return &model.UnavailableError{ExamID: examID, Reason: reason}
}

// admit loads the exam and checks that the student may work on it.
// It does not create or change the submission.
func (c *Controller) admit(ctx context.Context, examID string, studentID int64) (model.Exam, error) {
	exam, err := c.store.GetExam(ctx, examID)
	if errors.Is(err, model.ErrNotFound) {
		return exam, unavailable(examID, model.UnavailableNotFound)
	}
	if err != nil {
		return exam, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status == model.ExamDraft {
		return exam, unavailable(examID, model.UnavailableDraft)
	}
	var classes []string
	if c.roster != nil && len(exam.Target.ClassIDs) > 0 {
		classes, err = c.roster.ClassesOf(ctx, studentID)
		if err != nil {
			return exam, fmt.Errorf("resolve classes: %w", err)
		}
	}
	if !exam.Target.Includes(studentID, classes) {
		return exam, unavailable(examID, model.UnavailableNotAssigned)
	}
	return exam, nil
}

// closedToNewAttempts reports whether an exam no longer accepts attempts
// that have not started yet.
func (c *Controller) closedToNewAttempts(exam model.Exam) bool {
	if exam.Status == model.ExamCompleted {
		return true
	}
	return exam.Deadline != nil && !c.clock.Now().Before(*exam.Deadline)
}

// enter returns the student's submission, creating it on first entry.
// Admission is checked until the attempt starts. A started attempt keeps
// running when the exam later goes back to draft or the student leaves
// the targeted class, so it can always be submitted.
func (c *Controller) enter(ctx context.Context, examID string, studentID int64) (model.Exam, model.Submission, error) {
	sub, err := c.store.GetSubmission(ctx, examID, studentID)
	switch {
	case err == nil && sub.Status != model.StatusNotStarted:
		exam, err := c.store.GetExam(ctx, examID)
		if err != nil {
			return exam, sub, fmt.Errorf("get exam: %w", err)
		}
		return exam, sub, nil
	case err != nil && !errors.Is(err, model.ErrNotFound):
		return model.Exam{}, sub, fmt.Errorf("get submission: %w", err)
	}
	found := err == nil

	exam, err := c.admit(ctx, examID, studentID)
	if err != nil {
		return exam, sub, err
	}
	if c.closedToNewAttempts(exam) {
		return exam, sub, unavailable(examID, model.UnavailableDeadlinePassed)
	}
	if !found {
		sub, err = c.store.EnsureSubmission(ctx, examID, studentID)
		if err != nil {
			return exam, sub, fmt.Errorf("create submission: %w", err)
		}
	}
	return exam, sub, nil
}

// Open enters an exam. An attempt already in progress resumes with its
// remaining time recomputed from the wall clock; one that ran out while
// the student was away is submitted with reason timeout first.
func (c *Controller) Open(ctx context.Context, examID string, studentID int64) (Session, error) {
	exam, sub, err := c.enter(ctx, examID, studentID)
	if err != nil {
		return Session{}, err
	}
	if sub.Status == model.StatusInProgress {
		m := session.FromSubmission(sub, exam.Duration())
		if m.Expired(c.clock.Now()) {
			if _, err := c.Submit(ctx, examID, studentID, model.SubmitTimeout, nil); err != nil {
				return Session{}, err
			}
			if sub, err = c.store.GetSubmissionByID(ctx, sub.ID); err != nil {
				return Session{}, err
			}
		} else if !c.timers.Active(sub.ID) {
			c.arm(exam, sub)
		}
	}
	return c.view(exam, sub), nil
}

func (c *Controller) view(exam model.Exam, sub model.Submission) Session {
	m := session.FromSubmission(sub, exam.Duration())
	return Session{
		Exam:             exam.StudentView(),
		Submission:       sub,
		RemainingSeconds: m.Remaining(c.clock.Now()),
	}
}

// Start begins the attempt and arms its countdown. Starting an attempt
// that is already in progress only re-arms a missing countdown; starting
// a finished one returns it unchanged.
func (c *Controller) Start(ctx context.Context, examID string, studentID int64) (Session, error) {
	exam, sub, err := c.enter(ctx, examID, studentID)
	if err != nil {
		return Session{}, err
	}
	if sub, err = c.start(ctx, exam, sub); err != nil {
		return Session{}, err
	}
	return c.view(exam, sub), nil
}

func (c *Controller) start(ctx context.Context, exam model.Exam, sub model.Submission) (model.Submission, error) {
	sub, err := c.begin(ctx, exam, sub)
	if err != nil {
		return sub, err
	}
	if sub.Status == model.StatusInProgress && !c.timers.Active(sub.ID) {
		c.arm(exam, sub)
	}
	return sub, nil
}

// begin moves a not-started submission to in progress without arming a
// countdown.
func (c *Controller) begin(ctx context.Context, exam model.Exam, sub model.Submission) (model.Submission, error) {
	if sub.Status == model.StatusNotStarted {
		now := c.clock.Now()
		if _, err := c.store.StartSubmission(ctx, sub.ID, now); err != nil {
			return sub, fmt.Errorf("start submission: %w", err)
		}
		// Reread: a concurrent start may have won with an earlier time.
		reread, err := c.store.GetSubmissionByID(ctx, sub.ID)
		if err != nil {
			return sub, err
		}
		sub = reread
		c.logger.Info("exam started", "exam", exam.ID, "student", sub.StudentID, "submission", sub.ID)
	}
	return sub, nil
}

// arm starts the countdown whose expiry submits with reason timeout.
func (c *Controller) arm(exam model.Exam, sub model.Submission) {
	m := session.FromSubmission(sub, exam.Duration())
	deadline, ok := m.Deadline()
	if !ok {
		return
	}
	examID, studentID := exam.ID, sub.StudentID
	c.timers.Start(sub.ID, deadline, nil, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.Submit(ctx, examID, studentID, model.SubmitTimeout, nil); err != nil {
			c.logger.Error("timeout submit failed", "exam", examID, "student", studentID, "error", err)
		}
	})
}

// RecordAnswer stores one answer. The first answer on an unstarted attempt
// starts it. An answer that arrives after submission is dropped: the
// frozen submission is returned with an error wrapping
// model.ErrStaleTransition.
func (c *Controller) RecordAnswer(ctx context.Context, examID string, studentID int64, index int, ans model.Answer) (model.Submission, error) {
	exam, sub, err := c.enter(ctx, examID, studentID)
	if err != nil {
		return sub, err
	}
	if sub.Status.Frozen() {
		return sub, fmt.Errorf("answer after %s: %w", sub.Status, model.ErrStaleTransition)
	}
	if err := scoring.ValidateAnswer(exam, index, ans); err != nil {
		return sub, err
	}
	if sub, err = c.start(ctx, exam, sub); err != nil {
		return sub, err
	}
	return c.store.PutAnswer(ctx, sub.ID, index, ans)
}

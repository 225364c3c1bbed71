// Package grading is the teacher-facing side of exams: reviewing
// submissions, applying essay grades and asking for grade suggestions.
package grading

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
)

// Store is the persistence the workbench needs.
type Store interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
	GetSubmissionByID(ctx context.Context, id string) (model.Submission, error)
	ListSubmissions(ctx context.Context, examID string) ([]model.Submission, error)
	UpdateSubmission(ctx context.Context, id string, fn func(sub *model.Submission) error) (model.Submission, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Suggester proposes essay grades.
type Suggester interface {
	SuggestGrade(ctx context.Context, index int, q model.Question, answer string) (llm.Suggestion, error)
}

// ErrNoSuggester is returned by SuggestGrades when no model is configured.
var ErrNoSuggester = errors.New("grade suggestions are not configured")

// Workbench grades submissions.
type Workbench struct {
	store     Store
	suggester Suggester
	clock     clock.Clock
	scorer    *scoring.Engine
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Workbench.
type Option func(*Workbench)

func WithClock(c clock.Clock) Option { return func(w *Workbench) { w.clock = c } }
func WithSuggester(s Suggester) Option { return func(w *Workbench) { w.suggester = s } }
func WithEvents(p events.Publisher) Option { return func(w *Workbench) { w.events = p } }
func WithMetrics(m *metrics.Metrics) Option { return func(w *Workbench) { w.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(w *Workbench) { w.logger = l } }

// New returns a Workbench backed by store.
func New(store Store, opts ...Option) *Workbench {
	w := &Workbench{
		store:  store,
		clock:  clock.System{},
		scorer: scoring.New(),
		events: events.Nop{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Row is one line of the submissions overview.
type Row struct {
	SubmissionID     string                 `json:"submission_id"`
	StudentID        int64                  `json:"student_id"`
	Username         string                 `json:"username"`
	DisplayName      string                 `json:"display_name"`
	Status           model.SubmissionStatus `json:"status"`
	MCScore          float64                `json:"mc_score"`
	EssayScore       float64                `json:"essay_score"`
	TotalScore       float64                `json:"total_score"`
	TotalPoints      float64                `json:"total_points"`
	TotalEssay       int                    `json:"total_essay"`
	GradedEssay      int                    `json:"graded_essay"`
	UngradedEssay    int                    `json:"ungraded_essay"`
	NeedsGrading     bool                   `json:"needs_grading"`
	TimeSpentSeconds int                    `json:"time_spent_seconds"`
	SubmittedAt      *time.Time             `json:"submitted_at,omitempty"`
}

// authorize fails with model.ErrForbidden unless actor manages the exam.
func authorize(exam model.Exam, actor *model.User) error {
	if exam.ManagedBy(actor) {
		return nil
	}
	if actor == nil {
		return fmt.Errorf("exam %s: %w", exam.ID, model.ErrForbidden)
	}
	return fmt.Errorf("exam %s not managed by user %d: %w", exam.ID, actor.ID, model.ErrForbidden)
}

// ListSubmissions returns every submission of an exam, the ones waiting
// for essay grades first. Teachers see only their own exams.
func (w *Workbench) ListSubmissions(ctx context.Context, examID string, actor *model.User) ([]Row, error) {
	exam, err := w.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := authorize(exam, actor); err != nil {
		return nil, err
	}
	subs, err := w.store.ListSubmissions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	rows := make([]Row, 0, len(subs))
	for _, sub := range subs {
		row := Row{
			SubmissionID:     sub.ID,
			StudentID:        sub.StudentID,
			Status:           sub.Status,
			MCScore:          sub.MCScore,
			EssayScore:       sub.EssayScore,
			TotalScore:       sub.TotalScore,
			TotalPoints:      exam.TotalPoints(),
			TotalEssay:       exam.EssayCount(),
			GradedEssay:      sub.GradedEssayQuestions,
			TimeSpentSeconds: sub.TimeSpentSeconds,
			SubmittedAt:      sub.SubmittedAt,
		}
		row.UngradedEssay = row.TotalEssay - row.GradedEssay
		row.NeedsGrading = sub.Status == model.StatusSubmitted && row.UngradedEssay > 0
		if u, err := w.store.GetUserByID(ctx, sub.StudentID); err != nil {
			return nil, fmt.Errorf("get user %d: %w", sub.StudentID, err)
		} else if u != nil {
			row.Username, row.DisplayName = u.Username, u.DisplayName
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		if a.NeedsGrading != b.NeedsGrading {
			if a.NeedsGrading {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(statusRank(a.Status), statusRank(b.Status)); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return rows, nil
}

func statusRank(s model.SubmissionStatus) int {
	switch s {
	case model.StatusSubmitted:
		return 0
	case model.StatusGraded:
		return 1
	case model.StatusInProgress:
		return 2
	}
	return 3
}

// QuestionDetail is one question of a submission as a grader sees it.
type QuestionDetail struct {
	Index        int                `json:"index"`
	Type         model.QuestionType `json:"type"`
	Prompt       string             `json:"prompt"`
	Points       float64            `json:"points"`
	Options      []string           `json:"options,omitempty"`
	CorrectIndex *int               `json:"correct_index,omitempty"`
	Answer       model.Answer       `json:"answer"`
	Awarded      float64            `json:"awarded"`
	Correct      *bool              `json:"correct,omitempty"`
	Graded       bool               `json:"graded"`
	Feedback     string             `json:"feedback,omitempty"`
}

// Detail is a full submission breakdown.
type Detail struct {
	Submission model.Submission `json:"submission"`
	Student    *model.User      `json:"student,omitempty"`
	ExamID     string           `json:"exam_id"`
	Title      string           `json:"title"`
	Questions  []QuestionDetail `json:"questions"`
}

// OpenSubmissionDetail returns the per-question breakdown of a submission.
func (w *Workbench) OpenSubmissionDetail(ctx context.Context, submissionID string, actor *model.User) (Detail, error) {
	sub, err := w.store.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return Detail{}, err
	}
	exam, err := w.store.GetExam(ctx, sub.ExamID)
	if err != nil {
		return Detail{}, err
	}
	if err := authorize(exam, actor); err != nil {
		return Detail{}, err
	}
	student, err := w.store.GetUserByID(ctx, sub.StudentID)
	if err != nil {
		return Detail{}, fmt.Errorf("get user %d: %w", sub.StudentID, err)
	}
	return w.detail(exam, sub, student), nil
}

func (w *Workbench) detail(exam model.Exam, sub model.Submission, student *model.User) Detail {
	sum := w.scorer.Score(exam, sub.Answers, sub.EssayGrades)
	d := Detail{
		Submission: sub,
		Student:    student,
		ExamID:     exam.ID,
		Title:      exam.Title,
		Questions:  make([]QuestionDetail, len(exam.Questions)),
	}
	for i, q := range exam.Questions {
		r := sum.Results[i]
		qd := QuestionDetail{
			Index:   i,
			Type:    q.Type,
			Prompt:  q.Prompt,
			Points:  q.Points,
			Answer:  sub.Answers[i],
			Awarded: r.Awarded,
			Correct: r.Correct,
			Graded:  r.Graded,
		}
		if q.Type == model.QuestionMultipleChoice {
			ci := q.CorrectIndex
			qd.Options = q.Answers
			qd.CorrectIndex = &ci
		}
		if g, ok := sub.EssayGrades[i]; ok {
			qd.Feedback = g.Feedback
		}
		d.Questions[i] = qd
	}
	return d
}

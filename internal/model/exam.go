package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ExamStatus is the authoring status of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamCompleted ExamStatus = "completed"
)

// QuestionType distinguishes auto-scored from manually graded questions.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionEssay          QuestionType = "essay"
)

// SubmissionStatus represents the status of a submission.
type SubmissionStatus string

const (
	StatusNotStarted SubmissionStatus = "not_started"
	StatusInProgress SubmissionStatus = "in_progress"
	StatusSubmitted  SubmissionStatus = "submitted"
	StatusGraded     SubmissionStatus = "graded"
)

// Frozen reports whether answers can no longer change.
func (s SubmissionStatus) Frozen() bool {
	return s == StatusSubmitted || s == StatusGraded
}

// Question is one exam item. Answers and CorrectIndex are only meaningful
// for multiple-choice questions.
type Question struct {
	Type         QuestionType `json:"type"`
	Prompt       string       `json:"prompt"`
	Points       float64      `json:"points"`
	Answers      []string     `json:"answers,omitempty"`
	CorrectIndex int          `json:"correct_index"`
}

// Target lists who an exam is assigned to. Either set may be empty.
type Target struct {
	ClassIDs   []string `json:"class_ids,omitempty"`
	StudentIDs []int64  `json:"student_ids,omitempty"`
}

// Includes reports whether a student is targeted directly or through one of
// the given class memberships.
func (t Target) Includes(studentID int64, classIDs []string) bool {
	if slices.Contains(t.StudentIDs, studentID) {
		return true
	}
	for _, c := range classIDs {
		if slices.Contains(t.ClassIDs, c) {
			return true
		}
	}
	return false
}

// Exam is an authored, timed assessment.
type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	OwnerID         int64      `json:"owner_id"`
	Questions       []Question `json:"questions"`
	DurationMinutes int        `json:"duration_minutes"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	Target          Target     `json:"target"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TotalPoints sums the points of every question.
func (e Exam) TotalPoints() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

// EssayCount returns the number of essay questions.
func (e Exam) EssayCount() int {
	n := 0
	for _, q := range e.Questions {
		if q.Type == QuestionEssay {
			n++
		}
	}
	return n
}

// ManagedBy reports whether u may edit or grade the exam: admins manage
// every exam, teachers only their own.
func (e Exam) ManagedBy(u *User) bool {
	if u == nil {
		return false
	}
	return u.Role == UserRoleAdmin || (u.Role == UserRoleTeacher && e.OwnerID == u.ID)
}

// SameContent reports whether both exams ask the same questions with the
// same points and keys.
func (e Exam) SameContent(other Exam) bool {
	return slices.EqualFunc(e.Questions, other.Questions, func(a, b Question) bool {
		return a.Type == b.Type && a.Prompt == b.Prompt && a.Points == b.Points &&
			a.CorrectIndex == b.CorrectIndex && slices.Equal(a.Answers, b.Answers)
	})
}

// Duration returns the exam time limit.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// StudentView returns a copy of the exam with correct answers removed.
func (e Exam) StudentView() Exam {
	out := e
	out.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectIndex = -1
		out.Questions[i] = q
	}
	return out
}

// Answer is a learner's response to one question: a selected option index
// for multiple-choice, or free text for essays. On the wire it is a bare
// JSON number or string.
type Answer struct {
	Option *int
	Text   *string
}

// OptionAnswer returns an Answer selecting option i.
func OptionAnswer(i int) Answer { return Answer{Option: &i} }

// TextAnswer returns an essay Answer.
func TextAnswer(s string) Answer { return Answer{Text: &s} }

// IsZero reports whether the answer carries no value.
func (a Answer) IsZero() bool { return a.Option == nil && a.Text == nil }

func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Option != nil:
		return json.Marshal(*a.Option)
	case a.Text != nil:
		return json.Marshal(*a.Text)
	default:
		return []byte("null"), nil
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = Answer{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Text = &s
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("answer must be an option index or text: %w", err)
	}
	i := int(f)
	if float64(i) != f {
		return fmt.Errorf("answer option %v is not an integer", f)
	}
	a.Option = &i
	return nil
}

// EssayGrade is a teacher-assigned score for one essay question.
type EssayGrade struct {
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback,omitempty"`
	GraderID int64     `json:"grader_id"`
	GradedAt time.Time `json:"graded_at"`
}

// GradeEntry is one item of a grading batch.
type GradeEntry struct {
	QuestionIndex int     `json:"question_index" validate:"gte=0"`
	Score         float64 `json:"score" validate:"gte=0,halfstep"`
	Feedback      string  `json:"feedback" validate:"max=4000"`
}

// SubmitReason records why a submission left the in-progress state.
type SubmitReason string

const (
	SubmitManual   SubmitReason = "manual"
	SubmitTimeout  SubmitReason = "timeout"
	SubmitDeadline SubmitReason = "deadline"
)

// Forced reports whether the submission bypasses learner confirmation.
func (r SubmitReason) Forced() bool {
	return r == SubmitTimeout || r == SubmitDeadline
}

// Submission is one student's attempt record for one exam.
type Submission struct {
	ID                   string             `json:"id"`
	ExamID               string             `json:"exam_id"`
	StudentID            int64              `json:"student_id"`
	Status               SubmissionStatus   `json:"status"`
	Answers              map[int]Answer     `json:"answers"`
	EssayGrades          map[int]EssayGrade `json:"essay_grades,omitempty"`
	MCScore              float64            `json:"mc_score"`
	EssayScore           float64            `json:"essay_score"`
	TotalScore           float64            `json:"total_score"`
	TotalPoints          float64            `json:"total_points"`
	TotalEssayQuestions  int                `json:"total_essay_questions"`
	GradedEssayQuestions int                `json:"graded_essay_questions"`
	TimeSpentSeconds     int                `json:"time_spent_seconds"`
	SubmitReason         SubmitReason       `json:"submit_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	StartedAt            *time.Time         `json:"started_at,omitempty"`
	SubmittedAt          *time.Time         `json:"submitted_at,omitempty"`
	GradedAt             *time.Time         `json:"graded_at,omitempty"`
}

// QuestionResult is the scored outcome of one question.
type QuestionResult struct {
	Index       int          `json:"index"`
	Type        QuestionType `json:"type"`
	Points      float64      `json:"points"`
	Awarded     float64      `json:"awarded"`
	Answered    bool         `json:"answered"`
	Correct     *bool        `json:"correct,omitempty"`
	NeedsManual bool         `json:"needs_manual"`
	Graded      bool         `json:"graded"`
}

// SubmitResult is returned to the student after submission.
type SubmitResult struct {
	SubmissionID       string           `json:"submission_id"`
	Status             SubmissionStatus `json:"status"`
	Score              float64          `json:"score"`
	TotalPoints        float64          `json:"total_points"`
	TimeSpentSeconds   int              `json:"time_spent_seconds"`
	PerQuestionResults []QuestionResult `json:"per_question_results"`
}

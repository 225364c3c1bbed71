// Package scoring computes exam scores: automatic for multiple-choice,
// teacher-assigned for essays.
package scoring

import (
	"math"

	"github.com/pavelanni/proctor/internal/model"
)

// Strategy scores a single question.
type Strategy interface {
	Score(q model.Question, ans model.Answer, grade *model.EssayGrade) model.QuestionResult
}

// Engine routes each question to the strategy for its type.
type Engine struct {
	strategies map[model.QuestionType]Strategy
}

// New returns an Engine with the built-in strategies installed.
func New() *Engine {
	return &Engine{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionMultipleChoice: multipleChoice{},
			model.QuestionEssay:          essay{},
		},
	}
}

// Summary is the scored state of a submission.
type Summary struct {
	MCScore     float64
	EssayScore  float64
	TotalScore  float64
	TotalPoints float64
	TotalEssay  int
	GradedEssay int
	Results     []model.QuestionResult
}

// Complete reports whether no manual grading is outstanding.
func (s Summary) Complete() bool {
	return s.GradedEssay == s.TotalEssay
}

// Status returns the derived post-submission status.
func (s Summary) Status() model.SubmissionStatus {
	return DeriveStatus(s.TotalEssay, s.GradedEssay)
}

// Score scores every question of exam against answers and any essay grades.
func (e *Engine) Score(exam model.Exam, answers map[int]model.Answer, grades map[int]model.EssayGrade) Summary {
	sum := Summary{Results: make([]model.QuestionResult, 0, len(exam.Questions))}
	for i, q := range exam.Questions {
		var grade *model.EssayGrade
		if g, ok := grades[i]; ok {
			grade = &g
		}
		s, ok := e.strategies[q.Type]
		var r model.QuestionResult
		if ok {
			r = s.Score(q, answers[i], grade)
		} else {
			r = model.QuestionResult{Type: q.Type, Points: q.Points, NeedsManual: true}
		}
		r.Index = i
		sum.TotalPoints += q.Points
		switch q.Type {
		case model.QuestionMultipleChoice:
			sum.MCScore += r.Awarded
		case model.QuestionEssay:
			sum.TotalEssay++
			if r.Graded {
				sum.GradedEssay++
				sum.EssayScore += r.Awarded
			}
		}
		sum.Results = append(sum.Results, r)
	}
	sum.TotalScore = sum.MCScore + sum.EssayScore
	return sum
}

// Apply copies the summary totals onto sub.
func (s Summary) Apply(sub *model.Submission) {
	sub.MCScore = s.MCScore
	sub.EssayScore = s.EssayScore
	sub.TotalScore = s.TotalScore
	sub.TotalPoints = s.TotalPoints
	sub.TotalEssayQuestions = s.TotalEssay
	sub.GradedEssayQuestions = s.GradedEssay
}

// DeriveStatus returns graded when every essay question has a score,
// including the case of no essay questions, and submitted otherwise.
func DeriveStatus(totalEssay, gradedEssay int) model.SubmissionStatus {
	if gradedEssay == totalEssay {
		return model.StatusGraded
	}
	return model.StatusSubmitted
}

type multipleChoice struct{}

func (multipleChoice) Score(q model.Question, ans model.Answer, _ *model.EssayGrade) model.QuestionResult {
	r := model.QuestionResult{Type: q.Type, Points: q.Points, Graded: true}
	if ans.Option == nil {
		correct := false
		r.Correct = &correct
		return r
	}
	r.Answered = true
	correct := *ans.Option == q.CorrectIndex
	r.Correct = &correct
	if correct {
		r.Awarded = q.Points
	}
	return r
}

type essay struct{}

func (essay) Score(q model.Question, ans model.Answer, grade *model.EssayGrade) model.QuestionResult {
	r := model.QuestionResult{
		Type:        q.Type,
		Points:      q.Points,
		Answered:    ans.Text != nil && *ans.Text != "",
		NeedsManual: grade == nil,
	}
	if grade != nil {
		r.Graded = true
		r.Awarded = grade.Score
	}
	return r
}

// ValidateGrade checks a teacher score for question q at the given index.
func ValidateGrade(q model.Question, index int, score float64) error {
	field := fieldName("grades", index)
	switch {
	case q.Type != model.QuestionEssay:
		return model.Invalid(field, "question is not an essay")
	case math.IsNaN(score) || math.IsInf(score, 0):
		return model.Invalid(field, "score must be a finite number")
	case score < 0 || score > q.Points:
		return model.Invalid(field, "score %g out of range 0..%g", score, q.Points)
	case !HalfStep(score):
		return model.Invalid(field, "score %g is not a multiple of 0.5", score)
	}
	return nil
}

// HalfStep reports whether v is a whole multiple of 0.5.
func HalfStep(v float64) bool {
	return math.Mod(v*2, 1) == 0
}

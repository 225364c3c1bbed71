package scoring

import (
	"errors"
	"strconv"

	"github.com/pavelanni/proctor/internal/model"
)

func fieldName(prefix string, index int) string {
	return prefix + "[" + strconv.Itoa(index) + "]"
}

// ValidateAnswer checks that ans fits question index of exam.
func ValidateAnswer(exam model.Exam, index int, ans model.Answer) error {
	field := fieldName("answers", index)
	if index < 0 || index >= len(exam.Questions) {
		return model.Invalid(field, "question index out of range")
	}
	if ans.IsZero() {
		return model.Invalid(field, "answer is empty")
	}
	q := exam.Questions[index]
	switch q.Type {
	case model.QuestionMultipleChoice:
		if ans.Option == nil {
			return model.Invalid(field, "multiple-choice answer must be an option index")
		}
		if *ans.Option < 0 || *ans.Option >= len(q.Answers) {
			return model.Invalid(field, "option %d out of range", *ans.Option)
		}
	case model.QuestionEssay:
		if ans.Text == nil {
			return model.Invalid(field, "essay answer must be text")
		}
	}
	return nil
}

// ValidateAnswers checks a whole answer map and reports every problem.
func ValidateAnswers(exam model.Exam, answers map[int]model.Answer) error {
	verr := &model.ValidationError{}
	for i, a := range answers {
		var ve *model.ValidationError
		if errors.As(ValidateAnswer(exam, i, a), &ve) {
			verr.Problems = append(verr.Problems, ve.Problems...)
		}
	}
	return verr.OrNil()
}

// ValidateExam checks an authored exam before it is stored.
func ValidateExam(e model.Exam) error {
	verr := &model.ValidationError{}
	if e.ID == "" {
		verr.Add("id", "required")
	}
	if e.Title == "" {
		verr.Add("title", "required")
	}
	if len(e.Questions) == 0 {
		verr.Add("questions", "exam needs at least one question")
	}
	if e.DurationMinutes <= 0 {
		verr.Add("duration_minutes", "must be positive")
	}
	switch e.Status {
	case model.ExamDraft, model.ExamPublished, model.ExamCompleted:
	default:
		verr.Add("status", "unknown status %q", e.Status)
	}
	for i, q := range e.Questions {
		field := fieldName("questions", i)
		if q.Points <= 0 {
			verr.Add(field, "points must be positive")
		}
		switch q.Type {
		case model.QuestionMultipleChoice:
			if len(q.Answers) < 2 {
				verr.Add(field, "multiple-choice needs at least two options")
			}
			if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Answers) {
				verr.Add(field, "correct index %d out of range", q.CorrectIndex)
			}
		case model.QuestionEssay:
		default:
			verr.Add(field, "unknown question type %q", q.Type)
		}
	}
	return verr.OrNil()
}

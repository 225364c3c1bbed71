package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/pavelanni/proctor/internal/model"
)

func testExam() model.Exam {
	return model.Exam{
		ID:              "exam-1",
		Title:           "Fractions",
		DurationMinutes: 30,
		Status:          model.ExamPublished,
		Questions: []model.Question{
			{Type: model.QuestionMultipleChoice, Prompt: "1/2 + 1/2?", Points: 1, Answers: []string{"1", "2"}, CorrectIndex: 0},
			{Type: model.QuestionMultipleChoice, Prompt: "1/4 of 8?", Points: 1, Answers: []string{"4", "2"}, CorrectIndex: 1},
			{Type: model.QuestionEssay, Prompt: "Explain common denominators.", Points: 3},
		},
	}
}

func TestScoreMultipleChoiceAndEssay(t *testing.T) {
	exam := testExam()
	answers := map[int]model.Answer{
		0: model.OptionAnswer(0),
		1: model.OptionAnswer(0),
		2: model.TextAnswer("You rewrite both fractions over the same base."),
	}

	sum := New().Score(exam, answers, nil)
	if sum.MCScore != 1 {
		t.Errorf("MCScore = %g, want 1", sum.MCScore)
	}
	if sum.EssayScore != 0 || sum.TotalScore != 1 {
		t.Errorf("essay/total = %g/%g, want 0/1", sum.EssayScore, sum.TotalScore)
	}
	if sum.TotalPoints != 5 {
		t.Errorf("TotalPoints = %g, want 5", sum.TotalPoints)
	}
	if sum.TotalEssay != 1 || sum.GradedEssay != 0 {
		t.Errorf("essay counts = %d/%d, want 0/1", sum.GradedEssay, sum.TotalEssay)
	}
	if sum.Status() != model.StatusSubmitted {
		t.Errorf("Status = %s, want submitted", sum.Status())
	}
	if !sum.Results[2].NeedsManual || !sum.Results[2].Answered {
		t.Errorf("essay result = %+v", sum.Results[2])
	}
	if c := sum.Results[1].Correct; c == nil || *c {
		t.Errorf("question 1 should be marked incorrect")
	}

	grades := map[int]model.EssayGrade{2: {Score: 2.5}}
	sum = New().Score(exam, answers, grades)
	if sum.TotalScore != 3.5 {
		t.Errorf("TotalScore = %g, want 3.5", sum.TotalScore)
	}
	if sum.Status() != model.StatusGraded {
		t.Errorf("Status = %s, want graded", sum.Status())
	}
}

func TestScoreUnansweredAndWrongKind(t *testing.T) {
	exam := testExam()
	answers := map[int]model.Answer{
		1: model.TextAnswer("4"),
	}
	sum := New().Score(exam, answers, nil)
	if sum.MCScore != 0 {
		t.Errorf("MCScore = %g, want 0", sum.MCScore)
	}
	if sum.Results[0].Answered {
		t.Error("unanswered question reported as answered")
	}
}

func TestScoreInvariants(t *testing.T) {
	exam := testExam()
	cases := []map[int]model.Answer{
		{},
		{0: model.OptionAnswer(0), 1: model.OptionAnswer(1)},
		{0: model.OptionAnswer(1), 1: model.OptionAnswer(1), 2: model.TextAnswer("x")},
	}
	gradeSets := []map[int]model.EssayGrade{nil, {2: {Score: 0}}, {2: {Score: 3}}}
	for _, answers := range cases {
		for _, grades := range gradeSets {
			sum := New().Score(exam, answers, grades)
			if sum.MCScore+sum.EssayScore != sum.TotalScore {
				t.Errorf("mc+essay != total: %+v", sum)
			}
			if sum.TotalScore < 0 || sum.TotalScore > sum.TotalPoints {
				t.Errorf("total %g outside 0..%g", sum.TotalScore, sum.TotalPoints)
			}
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		total, graded int
		want          model.SubmissionStatus
	}{
		{0, 0, model.StatusGraded},
		{2, 0, model.StatusSubmitted},
		{2, 1, model.StatusSubmitted},
		{2, 2, model.StatusGraded},
	}
	for _, tt := range tests {
		if got := DeriveStatus(tt.total, tt.graded); got != tt.want {
			t.Errorf("DeriveStatus(%d, %d) = %s, want %s", tt.total, tt.graded, got, tt.want)
		}
		if DeriveStatus(tt.total, tt.graded) != DeriveStatus(tt.total, tt.graded) {
			t.Errorf("DeriveStatus is not stable")
		}
	}
}

func TestValidateGrade(t *testing.T) {
	essay := model.Question{Type: model.QuestionEssay, Points: 3}
	mc := model.Question{Type: model.QuestionMultipleChoice, Points: 1, Answers: []string{"a", "b"}}
	tests := []struct {
		name    string
		q       model.Question
		score   float64
		wantErr bool
	}{
		{"zero", essay, 0, false},
		{"half", essay, 2.5, false},
		{"full", essay, 3, false},
		{"negative", essay, -0.5, true},
		{"above points", essay, 3.5, true},
		{"quarter", essay, 1.25, true},
		{"nan", essay, math.NaN(), true},
		{"inf", essay, math.Inf(1), true},
		{"not essay", mc, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGrade(tt.q, 2, tt.score)
			if tt.wantErr {
				if !errors.Is(err, model.ErrValidation) {
					t.Errorf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateAnswer(t *testing.T) {
	exam := testExam()
	tests := []struct {
		name    string
		index   int
		ans     model.Answer
		wantErr bool
	}{
		{"mc ok", 0, model.OptionAnswer(1), false},
		{"essay ok", 2, model.TextAnswer("because"), false},
		{"empty essay ok", 2, model.TextAnswer(""), false},
		{"index below", -1, model.OptionAnswer(0), true},
		{"index above", 3, model.OptionAnswer(0), true},
		{"option out of range", 0, model.OptionAnswer(2), true},
		{"text for mc", 0, model.TextAnswer("1"), true},
		{"number for essay", 2, model.OptionAnswer(0), true},
		{"empty", 0, model.Answer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswer(exam, tt.index, tt.ans)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAnswersCollectsAllProblems(t *testing.T) {
	err := ValidateAnswers(testExam(), map[int]model.Answer{
		0: model.TextAnswer("nope"),
		2: model.OptionAnswer(1),
		1: model.OptionAnswer(1),
	})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(ve.Problems) != 2 {
		t.Errorf("problems = %v, want 2", ve.Problems)
	}
}

func TestValidateExam(t *testing.T) {
	if err := ValidateExam(testExam()); err != nil {
		t.Fatalf("valid exam rejected: %v", err)
	}
	bad := testExam()
	bad.Questions[0].CorrectIndex = 5
	bad.Questions[2].Points = 0
	bad.DurationMinutes = 0
	err := ValidateExam(bad)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(ve.Problems) != 3 {
		t.Errorf("problems = %v, want 3", ve.Problems)
	}
}

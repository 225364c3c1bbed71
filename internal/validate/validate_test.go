package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/proctor/internal/model"
)

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		in        any
		wantField string
		wantMsg   string
	}{
		{"valid grade", model.GradeEntry{QuestionIndex: 2, Score: 2.5}, "", ""},
		{"negative index", model.GradeEntry{QuestionIndex: -1, Score: 1}, "grades[0].question_index", "0 or greater"},
		{"quarter step", model.GradeEntry{QuestionIndex: 0, Score: 1.25}, "grades[0].score", "multiple of 0.5"},
		{"score above 100", model.PlayResult{ElapsedSeconds: 3, Score: 101}, "grades[0].score", "100 or less"},
		{"valid play", model.PlayResult{ElapsedSeconds: 12, Score: 80}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct("grades[0]", tt.in)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if !errors.Is(err, model.ErrValidation) {
				t.Error("error does not wrap ErrValidation")
			}
			p := verr.Problems[0]
			if p.Field != tt.wantField {
				t.Errorf("field = %q, want %q", p.Field, tt.wantField)
			}
			if !strings.Contains(p.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", p.Message, tt.wantMsg)
			}
		})
	}
}

package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
)

// ExportExam builds the gradebook for one exam. Submissions that were
// never started are left out.
func (s *Store) ExportExam(ctx context.Context, examID string) (model.GradebookExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.GradebookExport{}, err
	}
	subs, err := s.ListSubmissions(ctx, examID)
	if err != nil {
		return model.GradebookExport{}, fmt.Errorf("list submissions: %w", err)
	}

	out := model.GradebookExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		ExportedAt:   s.now().UTC(),
		NumQuestions: len(exam.Questions),
		TotalPoints:  exam.TotalPoints(),
		Results:      []model.StudentResult{},
	}
	engine := scoring.New()
	for _, sub := range subs {
		if sub.Status == model.StatusNotStarted {
			continue
		}
		user, err := s.GetUserByID(ctx, sub.StudentID)
		if err != nil {
			return out, fmt.Errorf("get user %d: %w", sub.StudentID, err)
		}
		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		sum := engine.Score(exam, sub.Answers, sub.EssayGrades)
		questions := make([]model.QuestionExport, 0, len(exam.Questions))
		for i, q := range exam.Questions {
			qe := model.QuestionExport{
				Index:   i,
				Type:    q.Type,
				Prompt:  q.Prompt,
				Points:  q.Points,
				Answer:  sub.Answers[i],
				Awarded: sum.Results[i].Awarded,
			}
			if g, ok := sub.EssayGrades[i]; ok {
				qe.Feedback = g.Feedback
			}
			questions = append(questions, qe)
		}

		out.Results = append(out.Results, model.StudentResult{
			StudentID:        sub.StudentID,
			Username:         username,
			DisplayName:      displayName,
			Status:           sub.Status,
			MCScore:          sub.MCScore,
			EssayScore:       sub.EssayScore,
			TotalScore:       sub.TotalScore,
			TimeSpentSeconds: sub.TimeSpentSeconds,
			SubmitReason:     sub.SubmitReason,
			StartedAt:        sub.StartedAt,
			SubmittedAt:      sub.SubmittedAt,
			Questions:        questions,
		})
	}
	return out, nil
}

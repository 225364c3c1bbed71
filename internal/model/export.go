package model

import "time"

// GradebookExport is the top-level JSON structure for exam result export.
type GradebookExport struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title"`
	ExportedAt   time.Time       `json:"exported_at"`
	NumQuestions int             `json:"num_questions"`
	TotalPoints  float64         `json:"total_points"`
	Results      []StudentResult `json:"results"`
}

// StudentResult holds one student's submission for export.
type StudentResult struct {
	StudentID        int64              `json:"student_id"`
	Username         string             `json:"username"`
	DisplayName      string             `json:"display_name"`
	Status           SubmissionStatus   `json:"status"`
	MCScore          float64            `json:"mc_score"`
	EssayScore       float64            `json:"essay_score"`
	TotalScore       float64            `json:"total_score"`
	TimeSpentSeconds int                `json:"time_spent_seconds"`
	SubmitReason     SubmitReason       `json:"submit_reason,omitempty"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	SubmittedAt      *time.Time         `json:"submitted_at,omitempty"`
	Questions        []QuestionExport   `json:"questions"`
}

// QuestionExport holds per-question data for export.
type QuestionExport struct {
	Index    int          `json:"index"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Points   float64      `json:"points"`
	Answer   Answer       `json:"answer"`
	Awarded  float64      `json:"awarded"`
	Feedback string       `json:"feedback,omitempty"`
}

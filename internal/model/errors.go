package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExamUnavailable blocks a student from entering an exam.
	ErrExamUnavailable = errors.New("exam unavailable")
	// ErrValidation rejects input before anything is committed.
	ErrValidation = errors.New("validation failed")
	// ErrStaleTransition marks a late or duplicate state change. Callers
	// absorb it as a no-op.
	ErrStaleTransition = errors.New("stale transition")
	// ErrForbidden rejects a staff member acting on another teacher's exam.
	ErrForbidden = errors.New("forbidden")
	// ErrExamLocked rejects a change to questions, points or keys once the
	// exam has submissions.
	ErrExamLocked = errors.New("exam locked")
)

// UnavailableReason explains why an exam cannot be entered.
type UnavailableReason string

const (
	UnavailableNotFound       UnavailableReason = "not_found"
	UnavailableNotAssigned    UnavailableReason = "not_assigned"
	UnavailableDraft          UnavailableReason = "draft"
	UnavailableDeadlinePassed UnavailableReason = "deadline_passed"
)

// UnavailableError is returned by exam entry.
type UnavailableError struct {
	ExamID string
	Reason UnavailableReason
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("exam %s unavailable: %s", e.ExamID, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrExamUnavailable }

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in one request.
type ValidationError struct {
	Problems []FieldError
}

// Invalid builds a single-field validation error.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// Add appends a problem.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no problems were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

package handler

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/model"
)

// handleListExams lists the exams the caller manages.
func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		h.fail(w, r, fmt.Errorf("list exams: %w", err), nil)
		return
	}
	exams = slices.DeleteFunc(exams, func(e model.Exam) bool { return !e.ManagedBy(user) })
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.grading.ListSubmissions(r.Context(), chi.URLParam(r, "examID"), model.UserFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleSubmissionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.grading.OpenSubmissionDetail(r.Context(), chi.URLParam(r, "id"), model.UserFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type gradesRequest struct {
	Grades []model.GradeEntry `json:"grades"`
}

func (h *Handler) handleApplyGrades(w http.ResponseWriter, r *http.Request) {
	grader := model.UserFromContext(r.Context())
	var req gradesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.grading.ApplyGrades(r.Context(), chi.URLParam(r, "id"), grader, req.Grades)
	if err != nil {
		h.fail(w, r, err, sub)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSuggestGrades(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.grading.SuggestGrades(r.Context(), chi.URLParam(r, "id"), model.UserFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, gradesRequest{Grades: suggestions})
}

// handleSubmissionEvents returns the audit trail of a submission.
func (h *Handler) handleSubmissionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubmissionByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if _, err := h.managedExam(r, sub.ExamID); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	evs, err := h.store.ListEvents(r.Context(), id)
	if err != nil {
		h.fail(w, r, fmt.Errorf("list events: %w", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// managedExam loads an exam the caller owns or administers.
func (h *Handler) managedExam(r *http.Request, examID string) (model.Exam, error) {
	e, err := h.store.GetExam(r.Context(), examID)
	if err != nil {
		return e, err
	}
	if user := model.UserFromContext(r.Context()); !e.ManagedBy(user) {
		return e, fmt.Errorf("exam %s: %w", examID, model.ErrForbidden)
	}
	return e, nil
}

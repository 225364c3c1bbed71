package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/session"
)

func (h *Handler) handleOpenExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sess, err := h.exams.Open(r.Context(), chi.URLParam(r, "examID"), user.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sess, err := h.exams.Start(r.Context(), chi.URLParam(r, "examID"), user.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type answerRequest struct {
	Answer model.Answer `json:"answer"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest", nil)
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.exams.RecordAnswer(r.Context(), chi.URLParam(r, "examID"), user.ID, index, req.Answer)
	if err != nil {
		h.fail(w, r, err, sub)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// submitRequest is the final submission. Any client-reported time spent is
// ignored; the server derives it from the recorded start.
type submitRequest struct {
	Answers map[int]model.Answer `json:"answers"`
	Reason  string               `json:"reason"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reason, err := session.ParseReason(req.Reason)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	res, err := h.exams.Submit(r.Context(), chi.URLParam(r, "examID"), user.ID, reason, req.Answers)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

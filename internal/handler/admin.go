package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/game"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/validate"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, fmt.Errorf("list users: %w", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=64"`
	DisplayName string         `json:"display_name" validate:"max=128"`
	Password    string         `json:"password" validate:"required,min=6"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student teacher admin"`
	Classes     []string       `json:"classes" validate:"omitempty,dive,required"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct("", req); err != nil {
		h.fail(w, r, err, nil)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, fmt.Errorf("hash password: %w", err), nil)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		h.fail(w, r, fmt.Errorf("create user: %w", err), nil)
		return
	}
	if len(req.Classes) > 0 {
		if err := h.store.SetUserClasses(r.Context(), id, req.Classes); err != nil {
			h.fail(w, r, fmt.Errorf("set classes: %w", err), nil)
			return
		}
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	slog.Info("created user", "user", req.Username, "role", req.Role)
	writeJSON(w, http.StatusCreated, user)
}

type classesRequest struct {
	Classes []string `json:"classes" validate:"omitempty,dive,required"`
}

func (h *Handler) handleSetClasses(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "userID")
	if !ok {
		return
	}
	var req classesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct("", req); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if user == nil {
		h.fail(w, r, model.ErrNotFound, nil)
		return
	}
	if err := h.store.SetUserClasses(r.Context(), id, req.Classes); err != nil {
		h.fail(w, r, fmt.Errorf("set classes: %w", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleUpsertExam(w http.ResponseWriter, r *http.Request) {
	var e model.Exam
	if !decodeJSON(w, r, &e) {
		return
	}
	user := model.UserFromContext(r.Context())
	if err := h.checkExamEdit(r.Context(), user, &e); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := scoring.ValidateExam(e); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := h.store.UpsertExam(r.Context(), e); err != nil {
		h.fail(w, r, fmt.Errorf("upsert exam: %w", err), nil)
		return
	}
	stored, err := h.store.GetExam(r.Context(), e.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	slog.Info("stored exam", "exam", e.ID, "questions", len(e.Questions), "status", e.Status, "by", user.Username)
	writeJSON(w, http.StatusOK, stored)
}

// checkExamEdit settles ownership of an incoming exam and rejects edits the
// caller may not make. A new exam belongs to its author unless an admin
// names an owner. An existing exam is editable only by its owner or an
// admin, and only an admin may reassign it. Once an attempt has started,
// questions, points and keys are frozen; status, deadline and target may
// still change.
func (h *Handler) checkExamEdit(ctx context.Context, user *model.User, e *model.Exam) error {
	current, err := h.store.GetExam(ctx, e.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if e.OwnerID == 0 || user.Role != model.UserRoleAdmin {
			e.OwnerID = user.ID
		}
		return nil
	case err != nil:
		return fmt.Errorf("get exam: %w", err)
	}
	if !current.ManagedBy(user) {
		return fmt.Errorf("exam %s owned by %d: %w", e.ID, current.OwnerID, model.ErrForbidden)
	}
	if e.OwnerID == 0 || user.Role != model.UserRoleAdmin {
		e.OwnerID = current.OwnerID
	}
	if current.SameContent(*e) {
		return nil
	}
	subs, err := h.store.ListSubmissions(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	for _, sub := range subs {
		if sub.Status != model.StatusNotStarted {
			return fmt.Errorf("exam %s has started attempts: %w", e.ID, model.ErrExamLocked)
		}
	}
	return nil
}

func (h *Handler) handleUpsertGame(w http.ResponseWriter, r *http.Request) {
	var g model.Game
	if !decodeJSON(w, r, &g) {
		return
	}
	if g.OwnerID == 0 {
		g.OwnerID = model.UserFromContext(r.Context()).ID
	}
	if err := game.ValidateDeck(g); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := h.store.UpsertGame(r.Context(), g); err != nil {
		h.fail(w, r, fmt.Errorf("upsert game: %w", err), nil)
		return
	}
	stored, err := h.store.GetGame(r.Context(), g.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	slog.Info("stored game", "game", g.ID, "type", g.Type, "cards", len(g.Cards))
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	if _, err := h.managedExam(r, examID); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	export, err := h.store.ExportExam(r.Context(), examID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", examID+"-gradebook.json"))
	writeJSON(w, http.StatusOK, export)
}

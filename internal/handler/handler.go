// Package handler exposes the exam, grading and game engines as a JSON
// HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/proctor/internal/exam"
	"github.com/pavelanni/proctor/internal/game"
	"github.com/pavelanni/proctor/internal/grading"
	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config holds HTTP settings.
type Config struct {
	Lang        string
	CORSOrigins []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	exams   *exam.Controller
	grading *grading.Workbench
	games   *game.Host
	metrics *metrics.Metrics
	config  Config
}

// New creates a new Handler.
func New(s *store.Store, exams *exam.Controller, bench *grading.Workbench, games *game.Host, m *metrics.Metrics, cfg Config) *Handler {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{store: s, exams: exams, grading: bench, games: games, metrics: m, config: cfg}
}

// Router returns the HTTP handler with every route and middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(h.config.Lang))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	r.Route("/api", h.Routes)
	return r
}

// Routes registers the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Get("/exams/{examID}", h.handleOpenExam)
			r.Post("/exams/{examID}/start", h.handleStartExam)
			r.Put("/exams/{examID}/answers/{index}", h.handleAnswer)
			r.Post("/exams/{examID}/submit", h.handleSubmit)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/exams", h.handleListExams)
			r.Get("/exams/{examID}/submissions", h.handleListSubmissions)
			r.Get("/exams/{examID}/export", h.handleExport)
			r.Get("/submissions/{id}", h.handleSubmissionDetail)
			r.Get("/submissions/{id}/events", h.handleSubmissionEvents)
			r.Patch("/submissions/{id}/grades", h.handleApplyGrades)
			r.Post("/submissions/{id}/suggestions", h.handleSuggestGrades)
			r.Put("/admin/exams", h.handleUpsertExam)
			r.Put("/admin/games", h.handleUpsertGame)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Put("/admin/users/{userID}/classes", h.handleSetClasses)
		})

		r.Get("/games", h.handleListGames)
		r.Get("/games/{gameID}", h.handleGetGame)
		r.Post("/games/{gameID}/plays", h.handleRecordPlay)
		r.Post("/games/{gameID}/sessions", h.handleStartPlay)
		r.Get("/play/{sessionID}", h.handlePlayView)
		r.Post("/play/{sessionID}/flip", h.handlePlayFlip)
		r.Post("/play/{sessionID}/answer", h.handlePlayAnswer)
		r.Post("/play/{sessionID}/swap", h.handlePlaySwap)
		r.Post("/play/{sessionID}/skip", h.handlePlaySkip)
		r.Post("/play/{sessionID}/finish", h.handlePlayFinish)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads the request body into v. On failure it writes a 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest", nil)
		return false
	}
	return true
}

// staleResponse wraps the current state returned for an absorbed late
// transition.
type staleResponse struct {
	Stale   bool   `json:"stale"`
	Message string `json:"message"`
	Current any    `json:"current"`
}

type errorBody struct {
	Error    string             `json:"error"`
	Reason   string             `json:"reason,omitempty"`
	Message  string             `json:"message"`
	Problems []model.FieldError `json:"problems,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msgID string, data map[string]any) {
	writeJSON(w, status, errorBody{Error: code, Message: appI18n.Td(r.Context(), msgID, data)})
}

// fail maps an engine error to a response. Stale transitions are not
// failures: they answer 200 with the current state.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, current any) {
	ctx := r.Context()
	var ue *model.UnavailableError
	var ve *model.ValidationError
	switch {
	case errors.Is(err, model.ErrStaleTransition):
		writeJSON(w, http.StatusOK, staleResponse{Stale: true, Message: appI18n.T(ctx, "ErrStale"), Current: current})
	case errors.As(err, &ue):
		writeJSON(w, http.StatusForbidden, errorBody{
			Error:   "exam_unavailable",
			Reason:  string(ue.Reason),
			Message: appI18n.Td(ctx, "ErrUnavailable_"+string(ue.Reason), map[string]any{"Exam": ue.ExamID}),
		})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:    "validation",
			Message:  appI18n.T(ctx, "ErrValidation") + " " + appI18n.Tp(ctx, "ProblemsFound", len(ve.Problems)),
			Problems: ve.Problems,
		})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "ErrNotFound", nil)
	case errors.Is(err, model.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "ErrForbidden", nil)
	case errors.Is(err, model.ErrExamLocked):
		writeError(w, r, http.StatusConflict, "exam_locked", "ErrExamLocked", nil)
	case errors.Is(err, game.ErrTileUnavailable):
		writeError(w, r, http.StatusConflict, "tile_unavailable", "ErrTileUnavailable", nil)
	case errors.Is(err, grading.ErrNoSuggester):
		writeError(w, r, http.StatusNotImplemented, "suggestions_disabled", "ErrSuggestionsDisabled", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "ErrInternal", nil)
	}
}

// intParam parses an integer URL parameter, writing a 400 response on
// failure.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "ErrBadRequest", nil)
		return 0, false
	}
	return n, true
}

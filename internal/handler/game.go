package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/game"
	"github.com/pavelanni/proctor/internal/model"
)

func (h *Handler) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.store.ListGames(r.Context())
	if err != nil {
		h.fail(w, r, fmt.Errorf("list games: %w", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (h *Handler) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleRecordPlay merges a result from a client that ran the game locally.
func (h *Handler) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var res model.PlayResult
	if !decodeJSON(w, r, &res) {
		return
	}
	stats, err := h.games.Record(r.Context(), chi.URLParam(r, "gameID"), user.ID, res)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleStartPlay(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	v, err := h.games.Start(r.Context(), chi.URLParam(r, "gameID"), user.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handlePlayView(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	v, err := h.games.View(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type moveRequest struct {
	Tile     int `json:"tile"`
	Option   int `json:"option"`
	Position int `json:"position"`
}

type flipResponse struct {
	Outcome game.FlipOutcome `json:"outcome"`
	View    game.View        `json:"view"`
}

func (h *Handler) handlePlayFlip(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, v, err := h.games.Flip(r.Context(), chi.URLParam(r, "sessionID"), user.ID, req.Tile)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, flipResponse{Outcome: out, View: v})
}

type answerResponse struct {
	Outcome game.AnswerOutcome `json:"outcome"`
	View    game.View          `json:"view"`
}

func (h *Handler) handlePlayAnswer(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, v, err := h.games.Answer(r.Context(), chi.URLParam(r, "sessionID"), user.ID, req.Option)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Outcome: out, View: v})
}

func (h *Handler) handlePlaySwap(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.games.Swap(r.Context(), chi.URLParam(r, "sessionID"), user.ID, req.Position)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handlePlaySkip(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	v, err := h.games.Skip(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handlePlayFinish(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	v, err := h.games.Finish(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		h.fail(w, r, err, v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

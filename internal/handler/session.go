package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/service"
	"github.com/squadkarma/karma-node/internal/steam"
)

type SessionHandler struct {
	sessionManager *service.SessionManager
	voteService    *service.VoteService
}

func NewSessionHandler(sessionManager *service.SessionManager, voteService *service.VoteService) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
		voteService:    voteService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/online", h.Online)
	r.Post("/validate-overlap", h.ValidateOverlap)
	r.Get("/{steam64}", h.Current)

	return r
}

// GET /api/session/{steam64}
// Returns the open session if the player is online, otherwise the most
// recent completed one.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	steam64 := chi.URLParam(r, "steam64")
	if !steam.IsValidSteam64(steam64) {
		writeError(w, errors.InvalidInput("steam64", "must be a 17-digit Steam64 ID"))
		return
	}

	session, err := h.sessionManager.GetCurrentSession(r.Context(), steam64)
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}
	if session == nil {
		writeError(w, errors.NotFound("Session"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":         session,
		"isActive":        session.IsActive(),
		"durationMinutes": session.DurationMinutes(time.Now()),
	})
}

// GET /api/session/online
func (h *SessionHandler) Online(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionManager.GetOnlinePlayers(r.Context())
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"players": sessions,
		"count":   len(sessions),
	})
}

// POST /api/session/validate-overlap
// Probes proof of presence without casting a vote.
func (h *SessionHandler) ValidateOverlap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoterSteam64  string `json:"voterSteam64"`
		TargetSteam64 string `json:"targetSteam64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.voteService.ValidateOverlap(r.Context(), req.VoterSteam64, req.TargetSteam64)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

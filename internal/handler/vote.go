package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/service"
)

type VoteHandler struct {
	voteService *service.VoteService
}

func NewVoteHandler(voteService *service.VoteService) *VoteHandler {
	return &VoteHandler{voteService: voteService}
}

func (h *VoteHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Submit)
	r.Get("/categories", h.Categories)
	r.Get("/cooldown/{target}", h.Cooldown)

	return r
}

// POST /api/vote
// Core API: cast a reputation vote, gated by proof of presence.
func (h *VoteHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var params service.SubmitVoteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, errors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.voteService.SubmitVote(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /api/vote/categories
func (h *VoteHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"positive": model.PositiveReasons,
		"negative": model.NegativeReasons,
		"neutral":  model.NeutralReasons,
	})
}

// GET /api/vote/cooldown/{target}?voter=...
func (h *VoteHandler) Cooldown(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	voter := r.URL.Query().Get("voter")
	if voter == "" {
		writeError(w, errors.MissingRequired("voter"))
		return
	}

	status, err := h.voteService.CooldownStatus(r.Context(), voter, target)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

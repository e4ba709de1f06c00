package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/squadkarma/karma-node/internal/service"
)

type ReputationHandler struct {
	voteService *service.VoteService
}

func NewReputationHandler(voteService *service.VoteService) *ReputationHandler {
	return &ReputationHandler{voteService: voteService}
}

func (h *ReputationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{steam64}", h.Get)

	return r
}

// GET /api/reputation/{steam64}
func (h *ReputationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.voteService.GetReputation(r.Context(), chi.URLParam(r, "steam64"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

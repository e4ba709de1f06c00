package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/database"
	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/service"
)

type ReplicationHandler struct {
	replicationService *service.ReplicationService
	db                 *database.DB
	nodeID             string
}

func NewReplicationHandler(replicationService *service.ReplicationService, db *database.DB, nodeID string) *ReplicationHandler {
	return &ReplicationHandler{
		replicationService: replicationService,
		db:                 db,
		nodeID:             nodeID,
	}
}

func (h *ReplicationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/votes", h.ReceiveVotes)
	r.Get("/votes/since/{timestamp}", h.VotesSince)
	r.Get("/health", h.Health)

	return r
}

// POST /api/replicate/votes
// Peers push batches of their local votes here.
func (h *ReplicationHandler) ReceiveVotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceNodeID string                   `json:"sourceNodeId"`
		Votes        []service.ReplicatedVote `json:"votes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("Invalid request body"))
		return
	}

	summary, err := h.replicationService.ReceiveBatch(r.Context(), req.SourceNodeID, req.Votes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GET /api/replicate/votes/since/{timestamp}
// Serves local originals for peers to pull. The timestamp is RFC3339 or
// Unix milliseconds.
func (h *ReplicationHandler) VotesSince(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(chi.URLParam(r, "timestamp"))
	if err != nil {
		writeError(w, errors.InvalidInput("timestamp", "must be RFC3339 or Unix milliseconds"))
		return
	}

	votes, err := h.replicationService.VotesSince(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nodeId": h.nodeID,
		"votes":  votes,
		"count":  len(votes),
	})
}

func parseSince(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// GET /api/replicate/health
// Peer-facing health probe; checks the database so a peer does not pull
// from a node that cannot serve.
func (h *ReplicationHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"nodeId": h.nodeID,
		})
		return
	}

	counts, err := h.replicationService.Counts(ctx)
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"nodeId": h.nodeID,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"counts": counts,
	})
}

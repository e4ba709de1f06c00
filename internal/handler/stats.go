package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/logparser"
	"github.com/squadkarma/karma-node/internal/repository"
	"github.com/squadkarma/karma-node/internal/service"
)

type StatsHandler struct {
	sessionManager *service.SessionManager
	votes          repository.VoteRepository
	nodes          repository.TrustedNodeRepository
	watcher        *logparser.Watcher
	nodeID         string
	nodeName       string
	startedAt      time.Time
}

func NewStatsHandler(
	sessionManager *service.SessionManager,
	votes repository.VoteRepository,
	nodes repository.TrustedNodeRepository,
	watcher *logparser.Watcher,
	nodeID, nodeName string,
) *StatsHandler {
	return &StatsHandler{
		sessionManager: sessionManager,
		votes:          votes,
		nodes:          nodes,
		watcher:        watcher,
		nodeID:         nodeID,
		nodeName:       nodeName,
		startedAt:      time.Now(),
	}
}

// GET /api/health
// Liveness only; requires no auth and touches no dependencies.
func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"nodeId":    h.nodeID,
		"nodeName":  h.nodeName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /api/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionStats, err := h.sessionManager.Stats(ctx)
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}

	voteCount, err := h.votes.Count(ctx)
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}

	activeNodes, err := h.nodes.CountActive(ctx)
	if err != nil {
		writeError(w, errors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nodeId":    h.nodeID,
		"nodeName":  h.nodeName,
		"uptime":    formatUptime(time.Since(h.startedAt)),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  sessionStats,
		"votes": map[string]any{
			"total": voteCount,
		},
		"replication": map[string]any{
			"activeNodes": activeNodes,
		},
		"watcher": h.watcher.Stats(),
	})
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

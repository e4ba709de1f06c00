package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/service"
)

type memoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]time.Time
}

func newMemoryCursorStore() *memoryCursorStore {
	return &memoryCursorStore{cursors: make(map[string]time.Time)}
}

func (s *memoryCursorStore) Get(_ context.Context, nodeID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.cursors[nodeID]
	return ts, ok, nil
}

func (s *memoryCursorStore) Set(_ context.Context, nodeID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[nodeID] = ts
	return nil
}

type recordingMerger struct {
	mu      sync.Mutex
	peers   []model.TrustedNode
	batches map[string][]service.ReplicatedVote
}

func newRecordingMerger(peers ...model.TrustedNode) *recordingMerger {
	return &recordingMerger{
		peers:   peers,
		batches: make(map[string][]service.ReplicatedVote),
	}
}

func (m *recordingMerger) Peers(_ context.Context) ([]model.TrustedNode, error) {
	return m.peers, nil
}

func (m *recordingMerger) ReceiveBatch(_ context.Context, sourceNodeID string, votes []service.ReplicatedVote) (*service.ReplicationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[sourceNodeID] = append(m.batches[sourceNodeID], votes...)
	return &service.ReplicationSummary{Total: len(votes), Inserted: len(votes)}, nil
}

func (m *recordingMerger) received(nodeID string) []service.ReplicatedVote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[nodeID]
}

func peerVotesServer(t *testing.T, votes []service.ReplicatedVote) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/replicate/votes/since/")
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"nodeId": "node-eu-2",
			"votes":  votes,
			"count":  len(votes),
		})
	}))
}

func trustedPeer(nodeID, baseURL string) model.TrustedNode {
	return model.TrustedNode{
		NodeID:   nodeID,
		Name:     nodeID,
		BaseURL:  &baseURL,
		IsActive: true,
	}
}

func TestReplicationSyncJob(t *testing.T) {
	now := time.Date(2024, 12, 5, 16, 0, 0, 0, time.UTC)

	votes := []service.ReplicatedVote{
		{
			VoterSteam64:   "76561198011111111",
			TargetSteam64:  "76561198022222222",
			Direction:      model.VoteDirectionUp,
			ReasonCategory: "Helpful",
			CreatedAt:      now.Add(-30 * time.Minute),
		},
		{
			VoterSteam64:   "76561198033333333",
			TargetSteam64:  "76561198022222222",
			Direction:      model.VoteDirectionDown,
			ReasonCategory: "Trolling",
			CreatedAt:      now.Add(-10 * time.Minute),
		},
	}

	t.Run("pulls votes and advances the cursor", func(t *testing.T) {
		server := peerVotesServer(t, votes)
		defer server.Close()

		merger := newRecordingMerger(trustedPeer("node-eu-2", server.URL))
		cursors := newMemoryCursorStore()
		job := NewReplicationSyncJob(merger, cursors, "test-key", time.Minute)

		job.syncAll()

		received := merger.received("node-eu-2")
		require.Len(t, received, 2)

		cursor, ok, err := cursors.Get(context.Background(), "node-eu-2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, cursor.Equal(votes[1].CreatedAt))
	})

	t.Run("skips peers without a base URL", func(t *testing.T) {
		merger := newRecordingMerger(model.TrustedNode{NodeID: "node-push-only", IsActive: true})
		cursors := newMemoryCursorStore()
		job := NewReplicationSyncJob(merger, cursors, "test-key", time.Minute)

		job.syncAll()

		assert.Empty(t, merger.received("node-push-only"))
	})

	t.Run("does not advance the cursor when the peer has nothing new", func(t *testing.T) {
		server := peerVotesServer(t, nil)
		defer server.Close()

		merger := newRecordingMerger(trustedPeer("node-eu-2", server.URL))
		cursors := newMemoryCursorStore()
		require.NoError(t, cursors.Set(context.Background(), "node-eu-2", now))

		job := NewReplicationSyncJob(merger, cursors, "test-key", time.Minute)
		job.syncAll()

		cursor, ok, err := cursors.Get(context.Background(), "node-eu-2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, cursor.Equal(now))
	})

	t.Run("a failing peer does not block the others", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer bad.Close()
		good := peerVotesServer(t, votes)
		defer good.Close()

		merger := newRecordingMerger(
			trustedPeer("node-bad", bad.URL),
			trustedPeer("node-eu-2", good.URL),
		)
		job := NewReplicationSyncJob(merger, newMemoryCursorStore(), "test-key", time.Minute)

		job.syncAll()

		assert.Empty(t, merger.received("node-bad"))
		assert.Len(t, merger.received("node-eu-2"), 2)
	})
}

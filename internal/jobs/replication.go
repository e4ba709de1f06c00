package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/redis"
	"github.com/squadkarma/karma-node/internal/service"
)

// How far back the first pull from a peer reaches when no cursor is
// stored yet.
const defaultSyncLookback = 24 * time.Hour

// VoteMerger is the slice of the replication service the job needs.
type VoteMerger interface {
	ReceiveBatch(ctx context.Context, sourceNodeID string, votes []service.ReplicatedVote) (*service.ReplicationSummary, error)
	Peers(ctx context.Context) ([]model.TrustedNode, error)
}

// CursorStore persists the per-peer pull position across restarts.
type CursorStore interface {
	Get(ctx context.Context, nodeID string) (time.Time, bool, error)
	Set(ctx context.Context, nodeID string, ts time.Time) error
}

type redisCursorStore struct {
	client *redis.Client
}

func NewCursorStore(client *redis.Client) CursorStore {
	return &redisCursorStore{client: client}
}

func (s *redisCursorStore) Get(ctx context.Context, nodeID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, redis.SyncCursorKey(nodeID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *redisCursorStore) Set(ctx context.Context, nodeID string, ts time.Time) error {
	return s.client.Set(ctx, redis.SyncCursorKey(nodeID), ts.UTC().Format(time.RFC3339Nano), 0).Err()
}

// ReplicationSyncJob periodically pulls new votes from every active
// peer that exposes a base URL and merges them locally.
type ReplicationSyncJob struct {
	merger   VoteMerger
	cursors  CursorStore
	client   *http.Client
	apiKey   string
	interval time.Duration
	done     chan struct{}
}

func NewReplicationSyncJob(merger VoteMerger, cursors CursorStore, apiKey string, interval time.Duration) *ReplicationSyncJob {
	return &ReplicationSyncJob{
		merger:   merger,
		cursors:  cursors,
		client:   &http.Client{Timeout: config.PeerRequestTimeout},
		apiKey:   apiKey,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ReplicationSyncJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("replication sync job started")
}

func (j *ReplicationSyncJob) Stop() {
	close(j.done)
	log.Info().Msg("replication sync job stopped")
}

func (j *ReplicationSyncJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.syncAll()
		}
	}
}

func (j *ReplicationSyncJob) syncAll() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	peers, err := j.merger.Peers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("replication sync: failed to list peers")
		return
	}

	for _, peer := range peers {
		if peer.BaseURL == nil || *peer.BaseURL == "" {
			continue
		}
		if err := j.syncPeer(ctx, peer); err != nil {
			log.Error().Err(err).Str("nodeId", peer.NodeID).Msg("replication sync: pull failed")
		}
	}
}

func (j *ReplicationSyncJob) syncPeer(ctx context.Context, peer model.TrustedNode) error {
	cursor, ok, err := j.cursors.Get(ctx, peer.NodeID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		cursor = time.Now().Add(-defaultSyncLookback)
	}

	votes, err := j.fetchVotes(ctx, *peer.BaseURL, cursor)
	if err != nil {
		return err
	}
	if len(votes) == 0 {
		return nil
	}

	summary, err := j.merger.ReceiveBatch(ctx, peer.NodeID, votes)
	if err != nil {
		return fmt.Errorf("merge batch: %w", err)
	}

	latest := votes[len(votes)-1].CreatedAt
	if err := j.cursors.Set(ctx, peer.NodeID, latest); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}

	log.Info().
		Str("nodeId", peer.NodeID).
		Int("pulled", summary.Total).
		Int("inserted", summary.Inserted).
		Time("cursor", latest).
		Msg("replication sync: merged peer votes")
	return nil
}

func (j *ReplicationSyncJob) fetchVotes(ctx context.Context, baseURL string, since time.Time) ([]service.ReplicatedVote, error) {
	url := fmt.Sprintf("%s/api/replicate/votes/since/%s", baseURL, since.UTC().Format(time.RFC3339Nano))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}

	var body struct {
		NodeID string                   `json:"nodeId"`
		Votes  []service.ReplicatedVote `json:"votes"`
		Count  int                      `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode peer response: %w", err)
	}
	return body.Votes, nil
}

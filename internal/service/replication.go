package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/repository"
	"github.com/squadkarma/karma-node/internal/steam"
)

// ReplicatedVote is the wire form of a vote exchanged between nodes.
// The session IDs are local to the node named by SourceNodeID; a
// receiver attaches the vote to its own sessions instead.
type ReplicatedVote struct {
	VoterSteam64    string              `json:"voterSteam64"`
	TargetSteam64   string              `json:"targetSteam64"`
	Direction       model.VoteDirection `json:"direction"`
	ReasonCategory  string              `json:"reasonCategory"`
	VoterSessionID  int64               `json:"voterSessionId"`
	TargetSessionID int64               `json:"targetSessionId"`
	SourceNodeID    string              `json:"sourceNodeId"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// ReplicationSummary reports what happened to one inbound batch.
type ReplicationSummary struct {
	Total      int      `json:"total"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}

// ReplicationService merges vote batches pushed or pulled from trusted
// peer nodes into the local ledger.
type ReplicationService struct {
	votes    repository.VoteRepository
	sessions repository.SessionRepository
	nodes    repository.TrustedNodeRepository
	serverID string
	now      func() time.Time
}

func NewReplicationService(
	votes repository.VoteRepository,
	sessions repository.SessionRepository,
	nodes repository.TrustedNodeRepository,
	serverID string,
) *ReplicationService {
	return &ReplicationService{
		votes:    votes,
		sessions: sessions,
		nodes:    nodes,
		serverID: serverID,
		now:      time.Now,
	}
}

// ReceiveBatch merges up to the batch limit of votes from the named
// source node. Items are processed independently: one bad vote never
// poisons the rest of the batch.
func (s *ReplicationService) ReceiveBatch(ctx context.Context, sourceNodeID string, votes []ReplicatedVote) (*ReplicationSummary, error) {
	if sourceNodeID == "" {
		return nil, errors.MissingRequired("sourceNodeId")
	}
	if len(votes) == 0 {
		return nil, errors.InvalidInput("votes", "batch is empty")
	}
	if len(votes) > config.ReplicationBatchLimit {
		return nil, errors.InvalidInput("votes",
			fmt.Sprintf("batch exceeds %d votes", config.ReplicationBatchLimit))
	}

	node, err := s.nodes.FindByNodeID(ctx, sourceNodeID)
	if err != nil {
		return nil, errors.Database(err)
	}
	if node == nil || !node.IsActive {
		return nil, errors.UntrustedSource(sourceNodeID)
	}

	summary := &ReplicationSummary{Total: len(votes)}
	for i, rv := range votes {
		inserted, err := s.mergeVote(ctx, sourceNodeID, rv)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("vote %d: %v", i, err))
			continue
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Duplicates++
		}
	}

	if err := s.nodes.Touch(ctx, sourceNodeID, s.now()); err != nil {
		log.Error().Err(err).Str("nodeId", sourceNodeID).Msg("failed to update node last seen")
	}

	log.Info().
		Str("sourceNode", sourceNodeID).
		Int("total", summary.Total).
		Int("inserted", summary.Inserted).
		Int("duplicates", summary.Duplicates).
		Int("errors", len(summary.Errors)).
		Msg("merged replication batch")

	return summary, nil
}

// mergeVote inserts one replicated vote unless an equivalent local vote
// already exists. Equivalence is the same voter-target pair created
// within the dedup window of the incoming timestamp.
func (s *ReplicationService) mergeVote(ctx context.Context, sourceNodeID string, rv ReplicatedVote) (bool, error) {
	if !steam.IsValidSteam64(rv.VoterSteam64) || !steam.IsValidSteam64(rv.TargetSteam64) {
		return false, fmt.Errorf("invalid Steam64 ID")
	}
	if !rv.Direction.Valid() {
		return false, fmt.Errorf("invalid direction %q", rv.Direction)
	}
	if !model.IsValidReasonCategory(rv.ReasonCategory) {
		return false, fmt.Errorf("unknown reason category %q", rv.ReasonCategory)
	}
	if rv.VoterSteam64 == rv.TargetSteam64 {
		return false, fmt.Errorf("self vote")
	}
	if rv.CreatedAt.IsZero() {
		return false, fmt.Errorf("missing createdAt")
	}

	from := rv.CreatedAt.Add(-config.ReplicationDedupWindow)
	to := rv.CreatedAt.Add(config.ReplicationDedupWindow)
	existing, err := s.votes.FindByPairNear(ctx, rv.VoterSteam64, rv.TargetSteam64, from, to)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	voterSession, err := s.findOrCreatePlaceholder(ctx, rv.VoterSteam64, sourceNodeID, rv.CreatedAt)
	if err != nil {
		return false, err
	}
	targetSession, err := s.findOrCreatePlaceholder(ctx, rv.TargetSteam64, sourceNodeID, rv.CreatedAt)
	if err != nil {
		return false, err
	}

	createdAt := rv.CreatedAt
	_, err = s.votes.Create(ctx, model.CreateVoteParams{
		VoterSteam64:    rv.VoterSteam64,
		TargetSteam64:   rv.TargetSteam64,
		Direction:       rv.Direction,
		ReasonCategory:  rv.ReasonCategory,
		VoterSessionID:  voterSession.ID,
		TargetSessionID: targetSession.ID,
		ReplicatedFrom:  &sourceNodeID,
		CreatedAt:       &createdAt,
	})
	if err != nil {
		// Concurrent batches from the same peer can race past the
		// dedup check; the session-pair constraint fires on the
		// second insert.
		if repository.IsUniqueViolation(err, "votes_session_pair_key") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// findOrCreatePlaceholder reuses a placeholder for the same player and
// source node near the vote time, otherwise creates a zero-length one
// so the foreign keys hold. Placeholders are stored under the source
// node's ID, never under this server's, so replicated votes cannot
// claim real local sessions. Placeholders never count toward proof of
// presence.
func (s *ReplicationService) findOrCreatePlaceholder(ctx context.Context, steam64, sourceNodeID string, at time.Time) (*model.Session, error) {
	from := at.Add(-config.ReplicationDedupWindow)
	to := at.Add(config.ReplicationDedupWindow)
	session, err := s.sessions.FindNearJoin(ctx, steam64, sourceNodeID, from, to)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	leftAt := at
	return s.sessions.Create(ctx, model.CreateSessionParams{
		Steam64:     steam64,
		PlayerName:  placeholderName(steam64),
		JoinedAt:    at,
		LeftAt:      &leftAt,
		ServerID:    sourceNodeID,
		Placeholder: true,
	})
}

func placeholderName(steam64 string) string {
	if len(steam64) < 8 {
		return "Player-" + steam64
	}
	return "Player-" + steam64[:8]
}

// VotesSince returns up to the batch limit of locally cast votes newer
// than the given instant, oldest first, for peers to pull.
func (s *ReplicationService) VotesSince(ctx context.Context, since time.Time) ([]ReplicatedVote, error) {
	votes, err := s.votes.FindOriginalsSince(ctx, since, config.ReplicationBatchLimit)
	if err != nil {
		return nil, errors.Database(err)
	}

	out := make([]ReplicatedVote, 0, len(votes))
	for _, v := range votes {
		out = append(out, ReplicatedVote{
			VoterSteam64:    v.VoterSteam64,
			TargetSteam64:   v.TargetSteam64,
			Direction:       v.Direction,
			ReasonCategory:  v.ReasonCategory,
			VoterSessionID:  v.VoterSessionID,
			TargetSessionID: v.TargetSessionID,
			SourceNodeID:    s.serverID,
			CreatedAt:       v.CreatedAt,
		})
	}
	return out, nil
}

// Peers lists the active trusted nodes this node can pull from.
func (s *ReplicationService) Peers(ctx context.Context) ([]model.TrustedNode, error) {
	return s.nodes.FindActive(ctx)
}

// Counts is the replication health summary peers see.
type Counts struct {
	Votes       int `json:"votes"`
	Sessions    int `json:"sessions"`
	ActiveNodes int `json:"activeNodes"`
}

func (s *ReplicationService) Counts(ctx context.Context) (*Counts, error) {
	votes, err := s.votes.Count(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.Count(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.nodes.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	return &Counts{Votes: votes, Sessions: sessions, ActiveNodes: nodes}, nil
}

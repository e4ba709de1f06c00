package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/repository"
)

// In-memory repository fakes. They implement the same nil-on-missing
// contract as the Postgres implementations.

var (
	_ repository.SessionRepository     = (*fakeSessionRepo)(nil)
	_ repository.VoteRepository        = (*fakeVoteRepo)(nil)
	_ repository.TrustedNodeRepository = (*fakeNodeRepo)(nil)
	_ CooldownStore                    = (*fakeCooldownStore)(nil)
	_ RateLimiter                      = (*fakeRateLimiter)(nil)
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	nextID   int64
	sessions []*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{nextID: 1}
}

func (r *fakeSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository { return r }

func (r *fakeSessionRepo) Create(_ context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.Session{
		ID:          r.nextID,
		Steam64:     params.Steam64,
		PlayerName:  params.PlayerName,
		JoinedAt:    params.JoinedAt,
		LeftAt:      params.LeftAt,
		ServerID:    params.ServerID,
		Placeholder: params.Placeholder,
		CreatedAt:   time.Now(),
	}
	r.nextID++
	r.sessions = append(r.sessions, s)
	return copySession(s), nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id int64) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindOpen(_ context.Context, steam64, serverID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Session
	for _, s := range r.sessions {
		if s.Steam64 == steam64 && s.ServerID == serverID && s.LeftAt == nil {
			if best == nil || s.JoinedAt.After(best.JoinedAt) {
				best = s
			}
		}
	}
	return copySession(best), nil
}

func (r *fakeSessionRepo) FindMostRecentClosed(_ context.Context, steam64, serverID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Session
	for _, s := range r.sessions {
		if s.Steam64 == steam64 && s.ServerID == serverID && s.LeftAt != nil {
			if best == nil || s.LeftAt.After(*best.LeftAt) {
				best = s
			}
		}
	}
	return copySession(best), nil
}

func (r *fakeSessionRepo) FindSince(_ context.Context, steam64, serverID string, since time.Time) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Steam64 == steam64 && s.ServerID == serverID && !s.Placeholder && !s.JoinedAt.Before(since) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (r *fakeSessionRepo) FindOnline(_ context.Context, serverID string) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.ServerID == serverID && s.LeftAt == nil {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (r *fakeSessionRepo) FindNearJoin(_ context.Context, steam64, serverID string, from, to time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Session
	for _, s := range r.sessions {
		if s.Steam64 == steam64 && s.ServerID == serverID &&
			!s.JoinedAt.Before(from) && !s.JoinedAt.After(to) {
			if best == nil || s.JoinedAt.After(best.JoinedAt) {
				best = s
			}
		}
	}
	return copySession(best), nil
}

func (r *fakeSessionRepo) Close(_ context.Context, id int64, leftAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id && s.LeftAt == nil {
			t := leftAt
			s.LeftAt = &t
		}
	}
	return nil
}

func (r *fakeSessionRepo) CloseAllOpen(_ context.Context, serverID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.ServerID == serverID && s.LeftAt == nil {
			t := at
			s.LeftAt = &t
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountByServer(_ context.Context, serverID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.ServerID == serverID {
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountActive(_ context.Context, serverID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.ServerID == serverID && s.LeftAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountUniquePlayers(_ context.Context, serverID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, s := range r.sessions {
		if s.ServerID == serverID {
			seen[s.Steam64] = struct{}{}
		}
	}
	return len(seen), nil
}

func (r *fakeSessionRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions), nil
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

type fakeVoteRepo struct {
	mu     sync.Mutex
	nextID int64
	votes  []*model.Vote
}

func newFakeVoteRepo() *fakeVoteRepo {
	return &fakeVoteRepo{nextID: 1}
}

func (r *fakeVoteRepo) WithTx(tx *sqlx.Tx) repository.VoteRepository { return r }

func (r *fakeVoteRepo) Create(_ context.Context, params model.CreateVoteParams) (*model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	createdAt := time.Now()
	if params.CreatedAt != nil {
		createdAt = *params.CreatedAt
	}
	v := &model.Vote{
		ID:              r.nextID,
		VoterSteam64:    params.VoterSteam64,
		TargetSteam64:   params.TargetSteam64,
		Direction:       params.Direction,
		ReasonCategory:  params.ReasonCategory,
		VoterSessionID:  params.VoterSessionID,
		TargetSessionID: params.TargetSessionID,
		ReplicatedFrom:  params.ReplicatedFrom,
		CreatedAt:       createdAt,
	}
	r.nextID++
	r.votes = append(r.votes, v)
	return copyVote(v), nil
}

func (r *fakeVoteRepo) FindBySessionPair(_ context.Context, voterSessionID, targetSessionID int64) (*model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.votes {
		if v.VoterSessionID == voterSessionID && v.TargetSessionID == targetSessionID {
			return copyVote(v), nil
		}
	}
	return nil, nil
}

func (r *fakeVoteRepo) FindByPairNear(_ context.Context, voter, target string, from, to time.Time) (*model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Vote
	for _, v := range r.votes {
		if v.VoterSteam64 == voter && v.TargetSteam64 == target &&
			!v.CreatedAt.Before(from) && !v.CreatedAt.After(to) {
			if best == nil || v.CreatedAt.After(best.CreatedAt) {
				best = v
			}
		}
	}
	return copyVote(best), nil
}

func (r *fakeVoteRepo) FindByTarget(_ context.Context, target string) ([]model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Vote
	for _, v := range r.votes {
		if v.TargetSteam64 == target {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeVoteRepo) FindOriginalsSince(_ context.Context, since time.Time, limit int) ([]model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Vote
	for _, v := range r.votes {
		if v.ReplicatedFrom == nil && v.CreatedAt.After(since) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeVoteRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes), nil
}

func copyVote(v *model.Vote) *model.Vote {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

type fakeNodeRepo struct {
	mu    sync.Mutex
	nodes map[string]*model.TrustedNode
}

func newFakeNodeRepo() *fakeNodeRepo {
	return &fakeNodeRepo{nodes: make(map[string]*model.TrustedNode)}
}

func (r *fakeNodeRepo) WithTx(tx *sqlx.Tx) repository.TrustedNodeRepository { return r }

func (r *fakeNodeRepo) FindByNodeID(_ context.Context, nodeID string) (*model.TrustedNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (r *fakeNodeRepo) FindActive(_ context.Context) ([]model.TrustedNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TrustedNode
	for _, n := range r.nodes {
		if n.IsActive {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (r *fakeNodeRepo) Upsert(_ context.Context, params model.CreateTrustedNodeParams) (*model.TrustedNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &model.TrustedNode{
		NodeID:    params.NodeID,
		Name:      params.Name,
		BaseURL:   params.BaseURL,
		IsActive:  params.IsActive,
		CreatedAt: time.Now(),
	}
	r.nodes[params.NodeID] = n
	out := *n
	return &out, nil
}

func (r *fakeNodeRepo) Touch(_ context.Context, nodeID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		t := at
		n.LastSeenAt = &t
	}
	return nil
}

func (r *fakeNodeRepo) CountActive(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, node := range r.nodes {
		if node.IsActive {
			n++
		}
	}
	return n, nil
}

type fakeCooldownStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newFakeCooldownStore() *fakeCooldownStore {
	return &fakeCooldownStore{expires: make(map[string]time.Time)}
}

func (s *fakeCooldownStore) Remaining(_ context.Context, voter, target string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[voter+":"+target]
	if !ok {
		return 0, nil
	}
	d := time.Until(exp)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *fakeCooldownStore) Set(_ context.Context, voter, target string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[voter+":"+target] = time.Now().Add(ttl)
	return nil
}

type fakeRateLimiter struct {
	mu      sync.Mutex
	limit   int
	counts  map[string]int
	blocked bool
}

func newFakeRateLimiter(limit int) *fakeRateLimiter {
	return &fakeRateLimiter{limit: limit, counts: make(map[string]int)}
}

func (l *fakeRateLimiter) Allow(_ context.Context, steam64 string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked {
		return false, nil
	}
	l.counts[steam64]++
	return l.counts[steam64] <= l.limit, nil
}

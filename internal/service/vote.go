package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/errors"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/repository"
	"github.com/squadkarma/karma-node/internal/steam"
)

// VoteService owns the vote submission pipeline and the reputation
// read side.
type VoteService struct {
	votes         repository.VoteRepository
	sessions      repository.SessionRepository
	validator     *OverlapValidator
	cooldowns     CooldownStore
	rateLimiter   RateLimiter
	cooldownTTL   time.Duration
	recentVotes   int
	topCategories int
}

func NewVoteService(
	votes repository.VoteRepository,
	sessions repository.SessionRepository,
	validator *OverlapValidator,
	cooldowns CooldownStore,
	rateLimiter RateLimiter,
	cooldownTTL time.Duration,
) *VoteService {
	return &VoteService{
		votes:         votes,
		sessions:      sessions,
		validator:     validator,
		cooldowns:     cooldowns,
		rateLimiter:   rateLimiter,
		cooldownTTL:   cooldownTTL,
		recentVotes:   10,
		topCategories: 5,
	}
}

type SubmitVoteParams struct {
	VoterSteam64   string              `json:"voterSteam64"`
	TargetSteam64  string              `json:"targetSteam64"`
	Direction      model.VoteDirection `json:"direction"`
	ReasonCategory string              `json:"reasonCategory"`
}

// SessionSummary is the slice of a session exposed in vote proofs and
// duplicate-vote details.
type SessionSummary struct {
	ID       int64      `json:"id"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// VoteProof records the session pair that satisfied proof of presence.
type VoteProof struct {
	VoterSession   SessionSummary `json:"voterSession"`
	TargetSession  SessionSummary `json:"targetSession"`
	OverlapMinutes int            `json:"overlapMinutes"`
}

type SubmitVoteResult struct {
	Vote  *model.Vote `json:"vote"`
	Proof VoteProof   `json:"proof"`
}

func summarize(s *model.Session) SessionSummary {
	return SessionSummary{ID: s.ID, JoinedAt: s.JoinedAt, LeftAt: s.LeftAt}
}

// SubmitVote runs the full gate sequence: input validation, self-vote,
// rate limit, cooldown, proof of presence, duplicate check, insert,
// cooldown arm. The first failing gate decides the error.
func (s *VoteService) SubmitVote(ctx context.Context, params SubmitVoteParams) (*SubmitVoteResult, error) {
	// Accept raw IDs or steamcommunity.com profile URLs.
	params.VoterSteam64 = steam.ExtractSteam64(params.VoterSteam64)
	params.TargetSteam64 = steam.ExtractSteam64(params.TargetSteam64)
	if params.VoterSteam64 == "" {
		return nil, errors.InvalidInput("voterSteam64", "must be a Steam64 ID or profile URL")
	}
	if params.TargetSteam64 == "" {
		return nil, errors.InvalidInput("targetSteam64", "must be a Steam64 ID or profile URL")
	}
	if !params.Direction.Valid() {
		return nil, errors.InvalidInput("direction", "must be UP or DOWN")
	}
	if !model.IsValidReasonCategory(params.ReasonCategory) {
		return nil, errors.ValidationError("Unknown reason category")
	}
	if params.VoterSteam64 == params.TargetSteam64 {
		return nil, errors.SelfVote()
	}

	allowed, err := s.rateLimiter.Allow(ctx, params.VoterSteam64)
	if err != nil {
		return nil, errors.External("redis", err)
	}
	if !allowed {
		return nil, errors.RateLimitExceeded()
	}

	remaining, err := s.cooldowns.Remaining(ctx, params.VoterSteam64, params.TargetSteam64)
	if err != nil {
		return nil, errors.External("redis", err)
	}
	if remaining > 0 {
		return nil, errors.CooldownActive(int(remaining.Seconds()))
	}

	overlap, err := s.validator.Validate(ctx, params.VoterSteam64, params.TargetSteam64)
	if err != nil {
		return nil, errors.Database(err)
	}
	if !overlap.Valid {
		return nil, errors.ProofOfPresence(overlap.Reason).WithDetails(map[string]any{
			"voterHasSessions":  overlap.VoterHasSessions,
			"targetHasSessions": overlap.TargetHasSessions,
			"minOverlapMinutes": s.validator.MinOverlapMinutes(),
		})
	}

	existing, err := s.votes.FindBySessionPair(ctx, overlap.VoterSessionID, overlap.TargetSessionID)
	if err != nil {
		return nil, errors.Database(err)
	}
	if existing != nil {
		return nil, duplicateVoteError(existing)
	}

	vote, err := s.votes.Create(ctx, model.CreateVoteParams{
		VoterSteam64:    params.VoterSteam64,
		TargetSteam64:   params.TargetSteam64,
		Direction:       params.Direction,
		ReasonCategory:  params.ReasonCategory,
		VoterSessionID:  overlap.VoterSessionID,
		TargetSessionID: overlap.TargetSessionID,
	})
	if err != nil {
		// A concurrent submission can slip past the pre-check; the
		// unique constraint on the session pair is the backstop.
		if repository.IsUniqueViolation(err, "votes_session_pair_key") {
			return nil, errors.DuplicateVote()
		}
		return nil, errors.Database(err)
	}

	if err := s.cooldowns.Set(ctx, params.VoterSteam64, params.TargetSteam64, s.cooldownTTL); err != nil {
		log.Error().Err(err).
			Str("voter", params.VoterSteam64).
			Str("target", params.TargetSteam64).
			Msg("failed to arm vote cooldown")
	}

	voterSession, err := s.sessions.FindByID(ctx, overlap.VoterSessionID)
	if err != nil || voterSession == nil {
		return nil, errors.Database(err)
	}
	targetSession, err := s.sessions.FindByID(ctx, overlap.TargetSessionID)
	if err != nil || targetSession == nil {
		return nil, errors.Database(err)
	}

	log.Info().
		Str("voter", params.VoterSteam64).
		Str("target", params.TargetSteam64).
		Str("direction", string(params.Direction)).
		Str("reason", params.ReasonCategory).
		Int("overlapMinutes", overlap.OverlapMinutes).
		Msg("vote recorded")

	return &SubmitVoteResult{
		Vote: vote,
		Proof: VoteProof{
			VoterSession:   summarize(voterSession),
			TargetSession:  summarize(targetSession),
			OverlapMinutes: overlap.OverlapMinutes,
		},
	}, nil
}

func duplicateVoteError(existing *model.Vote) *errors.AppError {
	return errors.DuplicateVote().WithDetails(map[string]any{
		"existingVote": map[string]any{
			"direction":      existing.Direction,
			"reasonCategory": existing.ReasonCategory,
			"createdAt":      existing.CreatedAt,
		},
	})
}

// ValidateOverlap exposes the proof-of-presence check without casting a
// vote, so clients can probe before showing a vote UI.
func (s *VoteService) ValidateOverlap(ctx context.Context, voterSteam64, targetSteam64 string) (*OverlapResult, error) {
	if !steam.IsValidSteam64(voterSteam64) {
		return nil, errors.InvalidInput("voterSteam64", "must be a 17-digit Steam64 ID")
	}
	if !steam.IsValidSteam64(targetSteam64) {
		return nil, errors.InvalidInput("targetSteam64", "must be a 17-digit Steam64 ID")
	}
	result, err := s.validator.Validate(ctx, voterSteam64, targetSteam64)
	if err != nil {
		return nil, errors.Database(err)
	}
	return result, nil
}

type CooldownStatus struct {
	CanVote          bool `json:"canVote"`
	SecondsRemaining int  `json:"secondsRemaining"`
}

func (s *VoteService) CooldownStatus(ctx context.Context, voterSteam64, targetSteam64 string) (*CooldownStatus, error) {
	if !steam.IsValidSteam64(voterSteam64) {
		return nil, errors.InvalidInput("voter", "must be a 17-digit Steam64 ID")
	}
	if !steam.IsValidSteam64(targetSteam64) {
		return nil, errors.InvalidInput("target", "must be a 17-digit Steam64 ID")
	}
	remaining, err := s.cooldowns.Remaining(ctx, voterSteam64, targetSteam64)
	if err != nil {
		return nil, errors.External("redis", err)
	}
	return &CooldownStatus{
		CanVote:          remaining <= 0,
		SecondsRemaining: int(remaining.Seconds()),
	}, nil
}

// CategoryCount tallies a reason category's up and down votes
// separately, so "Trolling" downvotes are not hidden behind "Trolling"
// upvotes.
type CategoryCount struct {
	Category string `json:"category"`
	Up       int    `json:"up"`
	Down     int    `json:"down"`
}

func (c CategoryCount) total() int { return c.Up + c.Down }

type Reputation struct {
	Steam64       string          `json:"steam64"`
	ProfileURL    string          `json:"profileUrl"`
	TotalVotes    int             `json:"totalVotes"`
	Upvotes       int             `json:"upvotes"`
	Downvotes     int             `json:"downvotes"`
	NetScore      int             `json:"netScore"`
	TopCategories []CategoryCount `json:"topCategories"`
	RecentVotes   []model.Vote    `json:"recentVotes"`
}

// GetReputation aggregates every vote cast on the player, replicated
// ones included.
func (s *VoteService) GetReputation(ctx context.Context, steam64 string) (*Reputation, error) {
	if !steam.IsValidSteam64(steam64) {
		return nil, errors.InvalidInput("steam64", "must be a 17-digit Steam64 ID")
	}

	votes, err := s.votes.FindByTarget(ctx, steam64)
	if err != nil {
		return nil, errors.Database(err)
	}

	rep := &Reputation{
		Steam64:    steam64,
		ProfileURL: steam.ProfileURL(steam64),
		TotalVotes: len(votes),
	}
	categories := make(map[string]*CategoryCount)
	for _, v := range votes {
		tally, ok := categories[v.ReasonCategory]
		if !ok {
			tally = &CategoryCount{Category: v.ReasonCategory}
			categories[v.ReasonCategory] = tally
		}
		if v.Direction == model.VoteDirectionUp {
			rep.Upvotes++
			tally.Up++
		} else {
			rep.Downvotes++
			tally.Down++
		}
	}
	rep.NetScore = rep.Upvotes - rep.Downvotes

	for _, tally := range categories {
		rep.TopCategories = append(rep.TopCategories, *tally)
	}
	// Most active categories first.
	sort.Slice(rep.TopCategories, func(i, j int) bool {
		if rep.TopCategories[i].total() != rep.TopCategories[j].total() {
			return rep.TopCategories[i].total() > rep.TopCategories[j].total()
		}
		return rep.TopCategories[i].Category < rep.TopCategories[j].Category
	})
	if len(rep.TopCategories) > s.topCategories {
		rep.TopCategories = rep.TopCategories[:s.topCategories]
	}

	if len(votes) > s.recentVotes {
		votes = votes[:s.recentVotes]
	}
	rep.RecentVotes = votes

	return rep, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/repository"
)

// OverlapResult is the outcome of a proof-of-presence check between two
// players. VoterSessionID and TargetSessionID identify the session pair
// with the greatest shared playtime, even when that pair falls short of
// the minimum.
type OverlapResult struct {
	Valid             bool   `json:"valid"`
	OverlapMinutes    int    `json:"overlapMinutes"`
	VoterSessionID    int64  `json:"voterSessionId,omitempty"`
	TargetSessionID   int64  `json:"targetSessionId,omitempty"`
	Reason            string `json:"reason,omitempty"`
	VoterHasSessions  bool   `json:"voterHasSessions"`
	TargetHasSessions bool   `json:"targetHasSessions"`
}

// OverlapValidator decides whether two players shared enough playtime
// on this server, recently enough, for one to vote on the other.
type OverlapValidator struct {
	sessions    repository.SessionRepository
	serverID    string
	minOverlap  time.Duration
	trustWindow time.Duration
	now         func() time.Time
}

func NewOverlapValidator(sessions repository.SessionRepository, serverID string, minOverlapMinutes, trustWindowHours int) *OverlapValidator {
	return &OverlapValidator{
		sessions:    sessions,
		serverID:    serverID,
		minOverlap:  time.Duration(minOverlapMinutes) * time.Minute,
		trustWindow: time.Duration(trustWindowHours) * time.Hour,
		now:         time.Now,
	}
}

func (v *OverlapValidator) MinOverlapMinutes() int {
	return int(v.minOverlap.Minutes())
}

// Overlap returns the shared duration of two sessions, treating open
// sessions as running until now. Disjoint intervals yield zero.
func Overlap(a, b *model.Session, now time.Time) time.Duration {
	start := a.JoinedAt
	if b.JoinedAt.After(start) {
		start = b.JoinedAt
	}
	end := a.End(now)
	if bEnd := b.End(now); bEnd.Before(end) {
		end = bEnd
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// Validate checks every session pair for the two players inside the
// trust window and reports the pair with the greatest overlap.
// Placeholder sessions never count.
func (v *OverlapValidator) Validate(ctx context.Context, voterSteam64, targetSteam64 string) (*OverlapResult, error) {
	now := v.now()
	since := now.Add(-v.trustWindow)

	voterSessions, err := v.sessions.FindSince(ctx, voterSteam64, v.serverID, since)
	if err != nil {
		return nil, err
	}
	targetSessions, err := v.sessions.FindSince(ctx, targetSteam64, v.serverID, since)
	if err != nil {
		return nil, err
	}

	result := &OverlapResult{
		VoterHasSessions:  len(voterSessions) > 0,
		TargetHasSessions: len(targetSessions) > 0,
	}

	if len(voterSessions) == 0 {
		result.Reason = "Voter has no recent sessions on this server"
		return result, nil
	}
	if len(targetSessions) == 0 {
		result.Reason = "Target has no recent sessions on this server"
		return result, nil
	}

	var best time.Duration
	for i := range voterSessions {
		for j := range targetSessions {
			d := Overlap(&voterSessions[i], &targetSessions[j], now)
			if d > best {
				best = d
				result.VoterSessionID = voterSessions[i].ID
				result.TargetSessionID = targetSessions[j].ID
			}
		}
	}

	result.OverlapMinutes = int(best.Minutes())
	if best >= v.minOverlap {
		result.Valid = true
		return result, nil
	}

	result.Reason = fmt.Sprintf("Insufficient shared playtime: %d minutes (minimum %d)",
		result.OverlapMinutes, v.MinOverlapMinutes())
	return result, nil
}

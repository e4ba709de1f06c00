package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadkarma/karma-node/internal/model"
)

const (
	voterID  = "76561198011111111"
	targetID = "76561198022222222"
)

func addSession(t *testing.T, repo *fakeSessionRepo, steam64 string, joined time.Time, left *time.Time, placeholder bool) *model.Session {
	t.Helper()
	s, err := repo.Create(context.Background(), model.CreateSessionParams{
		Steam64:     steam64,
		PlayerName:  "Player",
		JoinedAt:    joined,
		LeftAt:      left,
		ServerID:    testServerID,
		Placeholder: placeholder,
	})
	require.NoError(t, err)
	return s
}

func closedAt(ts time.Time) *time.Time { return &ts }

func TestOverlap(t *testing.T) {
	now := time.Date(2024, 12, 5, 16, 0, 0, 0, time.UTC)

	session := func(joined time.Time, left *time.Time) *model.Session {
		return &model.Session{JoinedAt: joined, LeftAt: left}
	}

	t.Run("partial overlap", func(t *testing.T) {
		a := session(now.Add(-60*time.Minute), closedAt(now.Add(-30*time.Minute)))
		b := session(now.Add(-40*time.Minute), closedAt(now.Add(-10*time.Minute)))
		assert.Equal(t, 10*time.Minute, Overlap(a, b, now))
	})

	t.Run("disjoint sessions yield zero", func(t *testing.T) {
		a := session(now.Add(-60*time.Minute), closedAt(now.Add(-50*time.Minute)))
		b := session(now.Add(-20*time.Minute), closedAt(now.Add(-10*time.Minute)))
		assert.Equal(t, time.Duration(0), Overlap(a, b, now))
	})

	t.Run("open sessions run until now", func(t *testing.T) {
		a := session(now.Add(-30*time.Minute), nil)
		b := session(now.Add(-20*time.Minute), nil)
		assert.Equal(t, 20*time.Minute, Overlap(a, b, now))
	})

	t.Run("symmetric", func(t *testing.T) {
		a := session(now.Add(-60*time.Minute), closedAt(now.Add(-30*time.Minute)))
		b := session(now.Add(-40*time.Minute), closedAt(now.Add(-10*time.Minute)))
		assert.Equal(t, Overlap(a, b, now), Overlap(b, a, now))
	})

	t.Run("containment yields the inner interval", func(t *testing.T) {
		a := session(now.Add(-120*time.Minute), closedAt(now))
		b := session(now.Add(-45*time.Minute), closedAt(now.Add(-15*time.Minute)))
		assert.Equal(t, 30*time.Minute, Overlap(a, b, now))
	})
}

func TestOverlapValidator(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 12, 5, 16, 0, 0, 0, time.UTC)

	newValidator := func(repo *fakeSessionRepo) *OverlapValidator {
		v := NewOverlapValidator(repo, testServerID, 5, 24)
		v.now = func() time.Time { return now }
		return v
	}

	t.Run("valid when overlap meets the minimum", func(t *testing.T) {
		repo := newFakeSessionRepo()
		vs := addSession(t, repo, voterID, now.Add(-60*time.Minute), closedAt(now.Add(-30*time.Minute)), false)
		ts := addSession(t, repo, targetID, now.Add(-40*time.Minute), closedAt(now.Add(-10*time.Minute)), false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, 10, result.OverlapMinutes)
		assert.Equal(t, vs.ID, result.VoterSessionID)
		assert.Equal(t, ts.ID, result.TargetSessionID)
	})

	t.Run("invalid when overlap is below the minimum", func(t *testing.T) {
		repo := newFakeSessionRepo()
		vs := addSession(t, repo, voterID, now.Add(-60*time.Minute), closedAt(now.Add(-57*time.Minute)), false)
		ts := addSession(t, repo, targetID, now.Add(-59*time.Minute), closedAt(now.Add(-10*time.Minute)), false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, 2, result.OverlapMinutes)
		assert.True(t, result.VoterHasSessions)
		assert.True(t, result.TargetHasSessions)
		assert.NotEmpty(t, result.Reason)

		// The best sub-threshold pair is still reported for diagnostics.
		assert.Equal(t, vs.ID, result.VoterSessionID)
		assert.Equal(t, ts.ID, result.TargetSessionID)
	})

	t.Run("voter without sessions is reported", func(t *testing.T) {
		repo := newFakeSessionRepo()
		addSession(t, repo, targetID, now.Add(-time.Hour), nil, false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.False(t, result.VoterHasSessions)
		assert.True(t, result.TargetHasSessions)
	})

	t.Run("sessions outside the trust window are ignored", func(t *testing.T) {
		repo := newFakeSessionRepo()
		old := now.Add(-25 * time.Hour)
		addSession(t, repo, voterID, old, closedAt(old.Add(2*time.Hour)), false)
		addSession(t, repo, targetID, old, closedAt(old.Add(2*time.Hour)), false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.False(t, result.VoterHasSessions)
		assert.False(t, result.TargetHasSessions)
	})

	t.Run("placeholder sessions never count", func(t *testing.T) {
		repo := newFakeSessionRepo()
		addSession(t, repo, voterID, now.Add(-time.Hour), nil, true)
		addSession(t, repo, targetID, now.Add(-time.Hour), nil, false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.False(t, result.VoterHasSessions)
	})

	t.Run("picks the pair with the greatest overlap", func(t *testing.T) {
		repo := newFakeSessionRepo()
		addSession(t, repo, voterID, now.Add(-6*time.Hour), closedAt(now.Add(-5*time.Hour)), false)
		best := addSession(t, repo, voterID, now.Add(-2*time.Hour), nil, false)
		addSession(t, repo, targetID, now.Add(-6*time.Hour), closedAt(now.Add(-350*time.Minute)), false)
		bestTarget := addSession(t, repo, targetID, now.Add(-90*time.Minute), nil, false)

		result, err := newValidator(repo).Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, 90, result.OverlapMinutes)
		assert.Equal(t, best.ID, result.VoterSessionID)
		assert.Equal(t, bestTarget.ID, result.TargetSessionID)
	})

	t.Run("more shared playtime never invalidates", func(t *testing.T) {
		repo := newFakeSessionRepo()
		addSession(t, repo, voterID, now.Add(-3*time.Hour), nil, false)
		addSession(t, repo, targetID, now.Add(-10*time.Minute), nil, false)

		v := newValidator(repo)
		result, err := v.Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		require.True(t, result.Valid)

		// Extending the shared interval only increases the overlap.
		addSession(t, repo, targetID, now.Add(-2*time.Hour), closedAt(now.Add(-time.Hour)), false)
		longer, err := v.Validate(ctx, voterID, targetID)
		require.NoError(t, err)
		assert.True(t, longer.Valid)
		assert.GreaterOrEqual(t, longer.OverlapMinutes, result.OverlapMinutes)
	})
}

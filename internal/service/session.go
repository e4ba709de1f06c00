package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/logparser"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/repository"
)

// SessionManager applies join/disconnect events from the log watcher to
// the session store. It is the only writer of real (non-placeholder)
// sessions, and it consumes events strictly in file order.
type SessionManager struct {
	serverID string
	sessions repository.SessionRepository
}

func NewSessionManager(sessions repository.SessionRepository, serverID string) *SessionManager {
	return &SessionManager{
		serverID: serverID,
		sessions: sessions,
	}
}

// Run consumes events from the watcher queue until the channel closes
// or the context is cancelled. Event errors are logged, never fatal.
func (m *SessionManager) Run(ctx context.Context, events <-chan logparser.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.HandleEvent(ctx, ev); err != nil {
				log.Error().Err(err).
					Str("steam64", ev.Steam64).
					Str("type", string(ev.Type)).
					Msg("failed to apply session event")
			}
		}
	}
}

func (m *SessionManager) HandleEvent(ctx context.Context, ev logparser.Event) error {
	switch ev.Type {
	case model.SessionEventJoin:
		return m.handleJoin(ctx, ev)
	case model.SessionEventDisconnect:
		return m.handleDisconnect(ctx, ev)
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("unknown session event type")
		return nil
	}
}

// handleJoin opens a session. A join while a session is already open
// means we missed the disconnect (server crash, dropped log lines); the
// stale session is force-closed at the new join time.
func (m *SessionManager) handleJoin(ctx context.Context, ev logparser.Event) error {
	open, err := m.sessions.FindOpen(ctx, ev.Steam64, m.serverID)
	if err != nil {
		return err
	}

	if open != nil {
		log.Warn().
			Str("steam64", ev.Steam64).
			Int64("sessionId", open.ID).
			Time("joinedAt", open.JoinedAt).
			Msg("join with session still open, force-closing stale session")
		if err := m.sessions.Close(ctx, open.ID, ev.Timestamp); err != nil {
			return err
		}
	}

	session, err := m.sessions.Create(ctx, model.CreateSessionParams{
		Steam64:    ev.Steam64,
		PlayerName: ev.PlayerName,
		JoinedAt:   ev.Timestamp,
		ServerID:   m.serverID,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("steam64", ev.Steam64).
		Str("playerName", ev.PlayerName).
		Int64("sessionId", session.ID).
		Msg("player joined")
	return nil
}

// handleDisconnect closes the open session. A disconnect without one
// means we missed the join; a short session is synthesized, backdated
// so it still carries a little presence weight.
func (m *SessionManager) handleDisconnect(ctx context.Context, ev logparser.Event) error {
	open, err := m.sessions.FindOpen(ctx, ev.Steam64, m.serverID)
	if err != nil {
		return err
	}

	if open != nil {
		if err := m.sessions.Close(ctx, open.ID, ev.Timestamp); err != nil {
			return err
		}
		log.Info().
			Str("steam64", ev.Steam64).
			Int64("sessionId", open.ID).
			Int("durationMinutes", open.DurationMinutes(ev.Timestamp)).
			Msg("player disconnected")
		return nil
	}

	joinedAt := ev.Timestamp.Add(-config.OrphanSessionBackdate)
	leftAt := ev.Timestamp
	session, err := m.sessions.Create(ctx, model.CreateSessionParams{
		Steam64:    ev.Steam64,
		PlayerName: ev.PlayerName,
		JoinedAt:   joinedAt,
		LeftAt:     &leftAt,
		ServerID:   m.serverID,
	})
	if err != nil {
		return err
	}

	log.Warn().
		Str("steam64", ev.Steam64).
		Int64("sessionId", session.ID).
		Msg("disconnect without open session, synthesized backdated session")
	return nil
}

// GetCurrentSession returns the open session if the player is online,
// otherwise the most recently completed one. Nil when the player has
// never been seen.
func (m *SessionManager) GetCurrentSession(ctx context.Context, steam64 string) (*model.Session, error) {
	open, err := m.sessions.FindOpen(ctx, steam64, m.serverID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}
	return m.sessions.FindMostRecentClosed(ctx, steam64, m.serverID)
}

func (m *SessionManager) GetOnlinePlayers(ctx context.Context) ([]model.Session, error) {
	return m.sessions.FindOnline(ctx, m.serverID)
}

// CloseAllOpenSessions closes every open session at the given instant.
// Called on shutdown so intervals do not dangle across restarts.
func (m *SessionManager) CloseAllOpenSessions(ctx context.Context, at time.Time) (int64, error) {
	closed, err := m.sessions.CloseAllOpen(ctx, m.serverID, at)
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		log.Info().Int64("count", closed).Msg("closed open sessions")
	}
	return closed, nil
}

type SessionStats struct {
	TotalSessions  int `json:"totalSessions"`
	ActiveSessions int `json:"activeSessions"`
	UniquePlayers  int `json:"uniquePlayers"`
}

func (m *SessionManager) Stats(ctx context.Context) (*SessionStats, error) {
	total, err := m.sessions.CountByServer(ctx, m.serverID)
	if err != nil {
		return nil, err
	}
	active, err := m.sessions.CountActive(ctx, m.serverID)
	if err != nil {
		return nil, err
	}
	unique, err := m.sessions.CountUniquePlayers(ctx, m.serverID)
	if err != nil {
		return nil, err
	}
	return &SessionStats{
		TotalSessions:  total,
		ActiveSessions: active,
		UniquePlayers:  unique,
	}, nil
}

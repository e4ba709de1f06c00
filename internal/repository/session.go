package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/squadkarma/karma-node/internal/database"
	"github.com/squadkarma/karma-node/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	// FindOpen returns the most recent open session for a player on a
	// server, or nil if the player is not currently tracked as online.
	FindOpen(ctx context.Context, steam64, serverID string) (*model.Session, error)
	// FindMostRecentClosed returns the latest completed session.
	FindMostRecentClosed(ctx context.Context, steam64, serverID string) (*model.Session, error)
	// FindSince returns real (non-placeholder) sessions joined at or
	// after the given instant, newest first. This is the overlap
	// candidate query.
	FindSince(ctx context.Context, steam64, serverID string, since time.Time) ([]model.Session, error)
	FindOnline(ctx context.Context, serverID string) ([]model.Session, error)
	// FindNearJoin matches any session for the player on the given
	// server whose join time falls inside [from, to]. Used to attach
	// replicated votes to an existing local row.
	FindNearJoin(ctx context.Context, steam64, serverID string, from, to time.Time) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	Close(ctx context.Context, id int64, leftAt time.Time) error
	CloseAllOpen(ctx context.Context, serverID string, at time.Time) (int64, error)
	CountByServer(ctx context.Context, serverID string) (int, error)
	CountActive(ctx context.Context, serverID string) (int, error)
	CountUniquePlayers(ctx context.Context, serverID string) (int, error)
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindOpen(ctx context.Context, steam64, serverID string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE steam64 = $1 AND server_id = $2 AND left_at IS NULL
		ORDER BY joined_at DESC
		LIMIT 1
	`, steam64, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindMostRecentClosed(ctx context.Context, steam64, serverID string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE steam64 = $1 AND server_id = $2 AND left_at IS NOT NULL
		ORDER BY left_at DESC
		LIMIT 1
	`, steam64, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindSince(ctx context.Context, steam64, serverID string, since time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE steam64 = $1 AND server_id = $2
		AND joined_at >= $3
		AND placeholder = FALSE
		ORDER BY joined_at DESC
	`, steam64, serverID, since)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) FindOnline(ctx context.Context, serverID string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE server_id = $1 AND left_at IS NULL
		ORDER BY joined_at DESC
	`, serverID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) FindNearJoin(ctx context.Context, steam64, serverID string, from, to time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE steam64 = $1 AND server_id = $2
		AND joined_at BETWEEN $3 AND $4
		ORDER BY joined_at DESC
		LIMIT 1
	`, steam64, serverID, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (steam64, player_name, joined_at, left_at, server_id, placeholder)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Steam64, params.PlayerName, params.JoinedAt, params.LeftAt, params.ServerID, params.Placeholder)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Close(ctx context.Context, id int64, leftAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET left_at = $2
		WHERE id = $1 AND left_at IS NULL
	`, id, leftAt)
	return err
}

func (r *sessionRepo) CloseAllOpen(ctx context.Context, serverID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET left_at = $2
		WHERE server_id = $1 AND left_at IS NULL
	`, serverID, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) CountByServer(ctx context.Context, serverID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions WHERE server_id = $1
	`, serverID)
	return count, err
}

func (r *sessionRepo) CountActive(ctx context.Context, serverID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions WHERE server_id = $1 AND left_at IS NULL
	`, serverID)
	return count, err
}

func (r *sessionRepo) CountUniquePlayers(ctx context.Context, serverID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(DISTINCT steam64) FROM sessions WHERE server_id = $1
	`, serverID)
	return count, err
}

func (r *sessionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sessions`)
	return count, err
}

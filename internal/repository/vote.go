package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/squadkarma/karma-node/internal/database"
	"github.com/squadkarma/karma-node/internal/model"
)

// pqUniqueViolation is the Postgres error code for unique constraint
// violations.
const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally on a specific named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

type VoteRepository interface {
	Create(ctx context.Context, params model.CreateVoteParams) (*model.Vote, error)
	FindBySessionPair(ctx context.Context, voterSessionID, targetSessionID int64) (*model.Vote, error)
	// FindByPairNear returns the newest vote between the two players
	// created inside [from, to], or nil. This is the replication
	// duplicate check.
	FindByPairNear(ctx context.Context, voterSteam64, targetSteam64 string, from, to time.Time) (*model.Vote, error)
	FindByTarget(ctx context.Context, targetSteam64 string) ([]model.Vote, error)
	// FindOriginalsSince returns locally cast votes (not replicated
	// from a peer) created after the given instant, oldest first.
	FindOriginalsSince(ctx context.Context, since time.Time, limit int) ([]model.Vote, error)
	Count(ctx context.Context) (int, error)
	WithTx(tx *sqlx.Tx) VoteRepository
}

type voteRepo struct {
	db database.DBTX
}

func NewVoteRepository(db *sqlx.DB) VoteRepository {
	return &voteRepo{db: db}
}

func (r *voteRepo) WithTx(tx *sqlx.Tx) VoteRepository {
	return &voteRepo{db: tx}
}

func (r *voteRepo) Create(ctx context.Context, params model.CreateVoteParams) (*model.Vote, error) {
	var vote model.Vote
	var err error
	if params.CreatedAt != nil {
		err = r.db.GetContext(ctx, &vote, `
			INSERT INTO votes (voter_steam64, target_steam64, direction, reason_category,
				voter_session_id, target_session_id, replicated_from, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		`, params.VoterSteam64, params.TargetSteam64, params.Direction, params.ReasonCategory,
			params.VoterSessionID, params.TargetSessionID, params.ReplicatedFrom, *params.CreatedAt)
	} else {
		err = r.db.GetContext(ctx, &vote, `
			INSERT INTO votes (voter_steam64, target_steam64, direction, reason_category,
				voter_session_id, target_session_id, replicated_from)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		`, params.VoterSteam64, params.TargetSteam64, params.Direction, params.ReasonCategory,
			params.VoterSessionID, params.TargetSessionID, params.ReplicatedFrom)
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *voteRepo) FindBySessionPair(ctx context.Context, voterSessionID, targetSessionID int64) (*model.Vote, error) {
	var vote model.Vote
	err := r.db.GetContext(ctx, &vote, `
		SELECT * FROM votes
		WHERE voter_session_id = $1 AND target_session_id = $2
	`, voterSessionID, targetSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *voteRepo) FindByPairNear(ctx context.Context, voterSteam64, targetSteam64 string, from, to time.Time) (*model.Vote, error) {
	var vote model.Vote
	err := r.db.GetContext(ctx, &vote, `
		SELECT * FROM votes
		WHERE voter_steam64 = $1 AND target_steam64 = $2
		AND created_at BETWEEN $3 AND $4
		ORDER BY created_at DESC
		LIMIT 1
	`, voterSteam64, targetSteam64, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *voteRepo) FindByTarget(ctx context.Context, targetSteam64 string) ([]model.Vote, error) {
	var votes []model.Vote
	err := r.db.SelectContext(ctx, &votes, `
		SELECT * FROM votes
		WHERE target_steam64 = $1
		ORDER BY created_at DESC
	`, targetSteam64)
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *voteRepo) FindOriginalsSince(ctx context.Context, since time.Time, limit int) ([]model.Vote, error) {
	var votes []model.Vote
	err := r.db.SelectContext(ctx, &votes, `
		SELECT * FROM votes
		WHERE replicated_from IS NULL AND created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *voteRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM votes`)
	return count, err
}

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

type TrustedNodeRepository interface {
	FindByNodeID(ctx context.Context, nodeID string) (*model.TrustedNode, error)
	FindActive(ctx context.Context) ([]model.TrustedNode, error)
	Upsert(ctx context.Context, params model.CreateTrustedNodeParams) (*model.TrustedNode, error)
	// Touch records when the node was last heard from.
	Touch(ctx context.Context, nodeID string, at time.Time) error
	CountActive(ctx context.Context) (int, error)
	WithTx(tx *sqlx.Tx) TrustedNodeRepository
}

type trustedNodeRepo struct {
	db database.DBTX
}

func NewTrustedNodeRepository(db *sqlx.DB) TrustedNodeRepository {
	return &trustedNodeRepo{db: db}
}

func (r *trustedNodeRepo) WithTx(tx *sqlx.Tx) TrustedNodeRepository {
	return &trustedNodeRepo{db: tx}
}

func (r *trustedNodeRepo) FindByNodeID(ctx context.Context, nodeID string) (*model.TrustedNode, error) {
	var node model.TrustedNode
	err := r.db.GetContext(ctx, &node, `
		SELECT * FROM trusted_nodes WHERE node_id = $1
	`, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *trustedNodeRepo) FindActive(ctx context.Context) ([]model.TrustedNode, error) {
	var nodes []model.TrustedNode
	err := r.db.SelectContext(ctx, &nodes, `
		SELECT * FROM trusted_nodes
		WHERE is_active = TRUE
		ORDER BY node_id
	`)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *trustedNodeRepo) Upsert(ctx context.Context, params model.CreateTrustedNodeParams) (*model.TrustedNode, error) {
	var node model.TrustedNode
	err := r.db.GetContext(ctx, &node, `
		INSERT INTO trusted_nodes (node_id, name, base_url, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id) DO UPDATE
		SET name = EXCLUDED.name, base_url = EXCLUDED.base_url, is_active = EXCLUDED.is_active
		RETURNING *
	`, params.NodeID, params.Name, params.BaseURL, params.IsActive)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *trustedNodeRepo) Touch(ctx context.Context, nodeID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trusted_nodes SET last_seen_at = $2 WHERE node_id = $1
	`, nodeID, at)
	return err
}

func (r *trustedNodeRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM trusted_nodes WHERE is_active = TRUE
	`)
	return count, err
}

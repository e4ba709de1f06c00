package model

import (
	"time"
)

// TrustedNode is a peer node permitted to push replicated votes.
// BaseURL is set for peers this node also pulls from.
type TrustedNode struct {
	NodeID     string     `db:"node_id" json:"nodeId"`
	Name       string     `db:"name" json:"name"`
	BaseURL    *string    `db:"base_url" json:"baseUrl,omitempty"`
	IsActive   bool       `db:"is_active" json:"isActive"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

type CreateTrustedNodeParams struct {
	NodeID   string
	Name     string
	BaseURL  *string
	IsActive bool
}

package model

import (
	"time"
)

// Vote is one reputation judgment from a voter session to a target
// session. Votes are immutable once created. ReplicatedFrom is the
// origin node for replicated votes and nil for local originals.
type Vote struct {
	ID              int64         `db:"id" json:"id"`
	VoterSteam64    string        `db:"voter_steam64" json:"voterSteam64"`
	TargetSteam64   string        `db:"target_steam64" json:"targetSteam64"`
	Direction       VoteDirection `db:"direction" json:"direction"`
	ReasonCategory  string        `db:"reason_category" json:"reasonCategory"`
	VoterSessionID  int64         `db:"voter_session_id" json:"voterSessionId"`
	TargetSessionID int64         `db:"target_session_id" json:"targetSessionId"`
	ReplicatedFrom  *string       `db:"replicated_from" json:"replicatedFrom,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
}

type CreateVoteParams struct {
	VoterSteam64    string
	TargetSteam64   string
	Direction       VoteDirection
	ReasonCategory  string
	VoterSessionID  int64
	TargetSessionID int64
	ReplicatedFrom  *string
	CreatedAt       *time.Time
}

package model

import (
	"time"
)

// Session is one continuous join-to-leave interval of a player on a
// server. LeftAt == nil means the session is still open. Placeholder
// sessions are synthesized for replicated votes so their foreign keys
// hold; they carry no proof-of-presence weight.
type Session struct {
	ID          int64      `db:"id" json:"id"`
	Steam64     string     `db:"steam64" json:"steam64"`
	PlayerName  string     `db:"player_name" json:"playerName"`
	JoinedAt    time.Time  `db:"joined_at" json:"joinedAt"`
	LeftAt      *time.Time `db:"left_at" json:"leftAt,omitempty"`
	ServerID    string     `db:"server_id" json:"serverId"`
	Placeholder bool       `db:"placeholder" json:"placeholder,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

type CreateSessionParams struct {
	Steam64     string
	PlayerName  string
	JoinedAt    time.Time
	LeftAt      *time.Time
	ServerID    string
	Placeholder bool
}

// IsActive reports whether the session is still open.
func (s *Session) IsActive() bool {
	return s.LeftAt == nil
}

// End returns the session end, treating an open session as ending now.
func (s *Session) End(now time.Time) time.Time {
	if s.LeftAt != nil {
		return *s.LeftAt
	}
	return now
}

// DurationMinutes is the whole minutes between join and leave (or now
// for open sessions).
func (s *Session) DurationMinutes(now time.Time) int {
	return int(s.End(now).Sub(s.JoinedAt).Minutes())
}

package model

type VoteDirection string

const (
	VoteDirectionUp   VoteDirection = "UP"
	VoteDirectionDown VoteDirection = "DOWN"
)

func (d VoteDirection) Valid() bool {
	return d == VoteDirectionUp || d == VoteDirectionDown
}

type SessionEventType string

const (
	SessionEventJoin       SessionEventType = "JOIN"
	SessionEventDisconnect SessionEventType = "DISCONNECT"
)

// Reason categories a vote may carry. The lists are fixed; votes with
// any other category are rejected at the boundary.
var (
	PositiveReasons = []string{
		"Good squad leader",
		"Helpful",
		"Good pilot/driver",
		"Team player",
		"Good communication",
		"Skilled player",
		"Good commander",
	}

	NegativeReasons = []string{
		"Trolling",
		"Teamkilling",
		"Toxic behavior",
		"Bad at vehicles",
		"Mic spam",
		"Not following orders",
		"Griefing",
		"AFK / Idle",
	}

	NeutralReasons = []string{"New player"}
)

func IsValidReasonCategory(category string) bool {
	for _, list := range [][]string{PositiveReasons, NegativeReasons, NeutralReasons} {
		for _, r := range list {
			if r == category {
				return true
			}
		}
	}
	return false
}

package logparser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/model"
	"github.com/squadkarma/karma-node/internal/steam"
)

// Event is one player join/disconnect extracted from a server log line.
type Event struct {
	Type       model.SessionEventType
	Steam64    string
	PlayerName string
	Timestamp  time.Time
	RawLine    string
}

var (
	// Timestamp prefix: [2024.12.05-14.23.15:123]
	timestampRegex = regexp.MustCompile(`^\[(\d{4})\.(\d{2})\.(\d{2})-(\d{2})\.(\d{2})\.(\d{2}):(\d{3})\]`)

	// Player connected: PlayerName (76561198012345678)
	connectedRegex = regexp.MustCompile(`Player connected: (.+?) \((\d{17})\)`)

	// Player disconnected: PlayerName (76561198012345678)
	disconnectedRegex = regexp.MustCompile(`Player disconnected: (.+?) \((\d{17})\)`)
)

// parseTimestamp extracts the bracketed UTC timestamp prefix, or returns
// a zero time if the line has none.
func parseTimestamp(line string) (time.Time, bool) {
	m := timestampRegex.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}

	parts := make([]int, 7)
	for i := 1; i <= 7; i++ {
		n, err := strconv.Atoi(m[i])
		if err != nil {
			return time.Time{}, false
		}
		parts[i-1] = n
	}

	ts := time.Date(parts[0], time.Month(parts[1]), parts[2],
		parts[3], parts[4], parts[5], parts[6]*int(time.Millisecond), time.UTC)
	return ts, true
}

// Parse extracts a session event from a raw log line. It returns nil for
// lines that are not player events; that is a skip, not an error.
func Parse(line string) *Event {
	ts, ok := parseTimestamp(line)
	if !ok {
		return nil
	}

	if m := connectedRegex.FindStringSubmatch(line); m != nil {
		return newEvent(model.SessionEventJoin, m[1], m[2], ts, line)
	}

	if m := disconnectedRegex.FindStringSubmatch(line); m != nil {
		return newEvent(model.SessionEventDisconnect, m[1], m[2], ts, line)
	}

	return nil
}

func newEvent(typ model.SessionEventType, name, steam64 string, ts time.Time, line string) *Event {
	if !steam.IsValidSteam64(steam64) {
		log.Warn().Str("steam64", steam64).Msg("invalid Steam64 in log line")
		return nil
	}
	return &Event{
		Type:       typ,
		Steam64:    steam64,
		PlayerName: strings.TrimSpace(name),
		Timestamp:  ts,
		RawLine:    line,
	}
}

// ParseLines parses a batch of lines, dropping non-events.
func ParseLines(lines []string) []Event {
	var events []Event
	for _, line := range lines {
		if ev := Parse(line); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// Valid applies the validity checks beyond basic parsing: non-empty
// player name, well-formed Steam64, and a timestamp no further in the
// future than the tolerated clock skew.
func Valid(ev *Event, now time.Time) bool {
	if ev == nil {
		return false
	}
	if !steam.IsValidSteam64(ev.Steam64) {
		return false
	}
	if strings.TrimSpace(ev.PlayerName) == "" {
		return false
	}
	if ev.Timestamp.IsZero() {
		return false
	}
	if ev.Timestamp.After(now.Add(config.EventFutureTolerance)) {
		return false
	}
	return true
}

// Package matchmaking implements the polling queue engines that batch
// waiting players into matches: general (mode and region), ranked (region
// with rating windows) and casual (mode and region with map selection).
package matchmaking

import (
	"errors"
	"time"
)

var (
	// ErrUnknownMode is returned when an entry names a mode without rules.
	ErrUnknownMode = errors.New("unknown game mode")
	// ErrAlreadyQueued is returned when the player already has an entry.
	ErrAlreadyQueued = errors.New("player already queued")
	// ErrMatchNotFound is returned for match ids not in the active table.
	ErrMatchNotFound = errors.New("match not found")
	// ErrInvalidEntry is returned for entries missing a player id or region.
	ErrInvalidEntry = errors.New("invalid queue entry")
)

// Team labels.
const (
	TeamAlpha = "alpha"
	TeamBravo = "bravo"
)

// Entry is one player's pending matchmaking request.
type Entry struct {
	PlayerID string
	Name     string
	Mode     string
	Region   string
	// MapPreference is optional; only the casual engine reads it.
	MapPreference string
	// Rating is the skill rating; only the ranked engine reads it.
	Rating     int
	EnqueuedAt time.Time
	// MatchID is set once the entry has been promoted.
	MatchID string
}

// Participant is a matched player with a team label.
type Participant struct {
	PlayerID string
	Name     string
	Team     string
	Rating   int
}

// MatchState is the lifecycle stage of a match.
type MatchState int

const (
	MatchFound MatchState = iota
	MatchInProgress
	MatchCompleted
	MatchCancelled
)

func (s MatchState) String() string {
	switch s {
	case MatchFound:
		return "found"
	case MatchInProgress:
		return "in_progress"
	case MatchCompleted:
		return "completed"
	case MatchCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Match is a batch of players promoted together. Membership never changes
// after creation.
type Match struct {
	ID           string
	Engine       string
	Mode         string
	Region       string
	Map          string
	Server       string
	CreatedAt    time.Time
	Participants []Participant
	State        MatchState
}

// PlayerIDs returns the participant ids in team order.
func (m *Match) PlayerIDs() []string {
	out := make([]string, len(m.Participants))
	for i, p := range m.Participants {
		out[i] = p.PlayerID
	}
	return out
}

// QueueState is a player's position in the queue state machine.
type QueueState int

const (
	NotQueued QueueState = iota
	Searching
	Found
)

func (s QueueState) String() string {
	switch s {
	case NotQueued:
		return "not_queued"
	case Searching:
		return "searching"
	case Found:
		return "found"
	}
	return "unknown"
}

// Status answers GetStatus. Elapsed and EstimatedWait are set while
// Searching; MatchID and Server are set once Found.
type Status struct {
	State         QueueState
	Elapsed       time.Duration
	EstimatedWait time.Duration
	MatchID       string
	Server        string
	Map           string
	Team          string
}

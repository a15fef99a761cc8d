package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Conn is the connection handle a session is bound to.
type Conn interface {
	// ID returns a stable identifier unique among live connections.
	ID() string
	// WriteFrame sends one length-prefixed frame.
	WriteFrame(payload []byte) error
	// Close closes the connection; repeated calls are harmless.
	Close() error
	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// RemoveReason says why a session left the registry.
type RemoveReason string

const (
	ReasonLogout     RemoveReason = "logout"
	ReasonDisconnect RemoveReason = "disconnect"
	ReasonIdle       RemoveReason = "idle"
	ReasonSuperseded RemoveReason = "superseded"
	ReasonOverwrite  RemoveReason = "overwritten"
	ReasonShutdown   RemoveReason = "shutdown"
)

// Session is the server-side state bound to one authenticated connection.
// Token, Conn, PlayerID and HardwareID are fixed once the session is added.
type Session struct {
	// Token is the opaque session identifier.
	Token string
	// Conn is the connection the session was authenticated on.
	Conn Conn
	// PlayerID is the persistent player id. The registry does not own the player record.
	PlayerID string
	// HardwareID is the client-reported hardware id.
	HardwareID string
	// CreatedAt is when the registry accepted the session.
	CreatedAt time.Time

	playTime     atomic.Int64 // nanoseconds
	lastActivity atomic.Int64 // unix nanoseconds

	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	timer   clockwork.Timer
	stopped bool
}

// PlayTime returns the play time accrued since the session was added.
func (s *Session) PlayTime() time.Duration {
	return time.Duration(s.playTime.Load())
}

// LastActivity returns the time of the most recent touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(s.clock.Now().UnixNano())
}

// startTimer arms the play-time accrual timer.
func (s *Session) startTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.interval <= 0 {
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, s.accrue)
}

func (s *Session) accrue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.playTime.Add(int64(s.interval))
	s.timer.Reset(s.interval)
}

// stopTimer cancels accrual. A callback already running finishes before
// stopTimer returns, and none runs afterwards.
func (s *Session) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

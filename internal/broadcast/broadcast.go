// Package broadcast pushes out-of-band events to connections, best effort.
package broadcast

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/wire"
)

// maxInFlight bounds concurrent sends within one broadcast.
const maxInFlight = 64

// Broadcaster delivers events to single connections, players, or topic subscribers.
type Broadcaster struct {
	registry *session.Registry
	logger   *zap.Logger
}

// New creates a Broadcaster that resolves topics and players through registry.
//
// Precondition: registry and logger must be non-nil.
func New(registry *session.Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

func (b *Broadcaster) encode(listener, event string, params []any) ([]byte, bool) {
	values, err := wire.Values(params...)
	if err != nil {
		b.logger.Error("building event params",
			zap.String("listener", listener),
			zap.String("event", event),
			zap.Error(err),
		)
		return nil, false
	}
	payload, err := wire.EncodeEvent(&wire.Event{Listener: listener, Name: event, Params: values})
	if err != nil {
		b.logger.Error("encoding event",
			zap.String("listener", listener),
			zap.String("event", event),
			zap.Error(err),
		)
		return nil, false
	}
	return payload, true
}

func (b *Broadcaster) write(conn session.Conn, listener, event string, payload []byte) bool {
	if err := conn.WriteFrame(payload); err != nil {
		b.logger.Warn("event delivery failed",
			zap.String("conn_id", conn.ID()),
			zap.String("listener", listener),
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	return true
}

// SendEvent writes one event to conn. Failures are logged, never returned.
//
// Postcondition: Returns true if the event was written.
func (b *Broadcaster) SendEvent(conn session.Conn, listener, event string, params ...any) bool {
	payload, ok := b.encode(listener, event, params)
	if !ok {
		return false
	}
	return b.write(conn, listener, event, payload)
}

// SendToPlayer writes one event to playerID's newest live session.
//
// Postcondition: Returns false if the player is offline or the write failed.
func (b *Broadcaster) SendToPlayer(playerID, listener, event string, params ...any) bool {
	s, ok := b.registry.GetByPlayerID(playerID)
	if !ok {
		return false
	}
	return b.SendEvent(s.Conn, listener, event, params...)
}

// Broadcast sends an event to every session subscribed to topic. Sends run
// concurrently against a snapshot of the subscriber set; a failed send does
// not affect the others.
//
// Postcondition: Every snapshot subscriber has been attempted. Returns the number delivered.
func (b *Broadcaster) Broadcast(topic, listener, event string, params ...any) int {
	targets := b.registry.SubscriberSessions(topic)
	if len(targets) == 0 {
		return 0
	}
	return b.fanOut(targets, listener, event, params)
}

// SendToPlayers sends an event to the newest session of each listed player.
//
// Postcondition: Returns the number delivered; offline players are skipped.
func (b *Broadcaster) SendToPlayers(playerIDs []string, listener, event string, params ...any) int {
	targets := make([]*session.Session, 0, len(playerIDs))
	for _, id := range playerIDs {
		if s, ok := b.registry.GetByPlayerID(id); ok {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return 0
	}
	return b.fanOut(targets, listener, event, params)
}

func (b *Broadcaster) fanOut(targets []*session.Session, listener, event string, params []any) int {
	payload, ok := b.encode(listener, event, params)
	if !ok {
		return 0
	}

	var delivered atomic.Int32
	var g errgroup.Group
	g.SetLimit(maxInFlight)
	for _, s := range targets {
		g.Go(func() error {
			if b.write(s.Conn, listener, event, payload) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Debug("event broadcast",
		zap.String("listener", listener),
		zap.String("event", event),
		zap.Int("targets", len(targets)),
		zap.Int32("delivered", delivered.Load()),
	)
	return int(delivered.Load())
}

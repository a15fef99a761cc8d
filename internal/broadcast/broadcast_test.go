package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/wire"
)

// recordingConn captures written frames; fail makes every write error.
type recordingConn struct {
	id   string
	fail bool
	// block delays writes until released, when non-nil.
	block chan struct{}

	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) ID() string { return c.id }
func (c *recordingConn) Close() error { return nil }
func (c *recordingConn) IsClosed() bool { return c.fail }
func (c *recordingConn) WriteFrame(p []byte) error {
	if c.block != nil {
		<-c.block
	}
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, p)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *recordingConn) events(t *testing.T) []*wire.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*wire.Event, 0, len(c.frames))
	for _, f := range c.frames {
		pkt, err := wire.Decode(f)
		require.NoError(t, err)
		require.NotNil(t, pkt.Event)
		out = append(out, pkt.Event)
	}
	return out
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *session.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := session.NewRegistry(config.SessionConfig{
		IdleTimeout:      5 * time.Minute,
		SweepInterval:    time.Minute,
		PlayTimeInterval: time.Minute,
	}, clockwork.NewFakeClock(), logger)
	t.Cleanup(func() { _ = registry.Close() })
	return New(registry, logger), registry
}

func subscribe(t *testing.T, r *session.Registry, token string, conn session.Conn, topic string) {
	t.Helper()
	require.NoError(t, r.AddSession(&session.Session{Token: token, Conn: conn, PlayerID: "player-" + token}))
	require.True(t, r.SubscribeToPresence(token, topic))
}

func TestSendEvent(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	conn := &recordingConn{id: "c1"}

	require.True(t, b.SendEvent(conn, "presence", "online", "p1"))
	evts := conn.events(t)
	require.Len(t, evts, 1)
	assert.Equal(t, "presence", evts[0].Listener)
	assert.Equal(t, "online", evts[0].Name)
	assert.Equal(t, "p1", evts[0].Params[0].GetStringValue())
}

func TestSendEventFailureIsSwallowed(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	assert.False(t, b.SendEvent(&recordingConn{id: "c1", fail: true}, "presence", "online"))
	assert.False(t, b.SendEvent(&recordingConn{id: "c2"}, "presence", "online", struct{}{}))
}

func TestBroadcastIsolatesFailedSubscriber(t *testing.T) {
	b, r := newTestBroadcaster(t)

	const n = 10
	conns := make([]*recordingConn, n)
	for i := range conns {
		conns[i] = &recordingConn{id: fmt.Sprintf("c%d", i), fail: i == 3}
		subscribe(t, r, fmt.Sprintf("t%d", i), conns[i], "target")
	}

	delivered := b.Broadcast("target", "presence", "offline", "target")
	assert.Equal(t, n-1, delivered)
	for i, c := range conns {
		if i == 3 {
			continue
		}
		evts := c.events(t)
		require.Len(t, evts, 1, "subscriber %d", i)
		assert.Equal(t, "offline", evts[0].Name)
	}
}

func TestBroadcastWaitsForSlowSubscribers(t *testing.T) {
	b, r := newTestBroadcaster(t)
	release := make(chan struct{})
	slow := &recordingConn{id: "slow", block: release}
	fast := &recordingConn{id: "fast"}
	subscribe(t, r, "a", slow, "target")
	subscribe(t, r, "b", fast, "target")

	done := make(chan int, 1)
	go func() { done <- b.Broadcast("target", "presence", "online") }()

	assert.Eventually(t, func() bool { return fast.count() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("broadcast returned before every send was attempted")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	assert.Equal(t, 2, <-done)
}

func TestBroadcastNoSubscribers(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	assert.Zero(t, b.Broadcast("nobody", "presence", "online"))
}

func TestSendToPlayer(t *testing.T) {
	b, r := newTestBroadcaster(t)
	conn := &recordingConn{id: "c1"}
	require.NoError(t, r.AddSession(&session.Session{Token: "tok", Conn: conn, PlayerID: "p1"}))

	assert.True(t, b.SendToPlayer("p1", "matchmaking", "found", "m1"))
	assert.False(t, b.SendToPlayer("offline", "matchmaking", "found", "m1"))
	assert.Len(t, conn.events(t), 1)
}

func TestSendToPlayers(t *testing.T) {
	b, r := newTestBroadcaster(t)
	c1 := &recordingConn{id: "c1"}
	c2 := &recordingConn{id: "c2"}
	require.NoError(t, r.AddSession(&session.Session{Token: "t1", Conn: c1, PlayerID: "p1"}))
	require.NoError(t, r.AddSession(&session.Session{Token: "t2", Conn: c2, PlayerID: "p2"}))

	assert.Equal(t, 2, b.SendToPlayers([]string{"p1", "p2", "p3"}, "matchmaking", "found", "m1"))
	assert.Len(t, c1.events(t), 1)
	assert.Len(t, c2.events(t), 1)
}

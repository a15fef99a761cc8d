package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/config"
)

type fakeConn struct {
	id     string
	closes atomic.Int32
	closed atomic.Bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) WriteFrame(_ []byte) error { return nil }
func (c *fakeConn) IsClosed() bool { return c.closed.Load() }
func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closed.Store(true)
	return nil
}

var testSessionConfig = config.SessionConfig{
	IdleTimeout:      5 * time.Minute,
	SweepInterval:    time.Minute,
	PlayTimeInterval: time.Minute,
}

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := NewRegistry(testSessionConfig, clock, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = r.Close() })
	return r, clock
}

func addSession(r *Registry, token string, conn Conn, playerID string) *Session {
	s := &Session{Token: token, Conn: conn, PlayerID: playerID, HardwareID: "hw-" + playerID}
	if err := r.AddSession(s); err != nil {
		panic(fmt.Sprintf("adding session %s: %v", token, err))
	}
	return s
}

func TestAddAndLookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := newFakeConn("c1")
	addSession(r, "tok1", conn, "p1")

	s, ok := r.GetByToken("tok1")
	require.True(t, ok)
	assert.Equal(t, "p1", s.PlayerID)
	assert.Equal(t, "hw-p1", s.HardwareID)

	s, ok = r.GetByConnection(conn)
	require.True(t, ok)
	assert.Equal(t, "tok1", s.Token)

	s, ok = r.GetByPlayerID("p1")
	require.True(t, ok)
	assert.Equal(t, "tok1", s.Token)

	assert.Equal(t, 1, r.Count())
}

func TestLookupMissing(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, ok := r.GetByToken("nope")
	assert.False(t, ok)
	_, ok = r.GetByConnection(newFakeConn("nope"))
	assert.False(t, ok)
	_, ok = r.GetByPlayerID("nope")
	assert.False(t, ok)
	r.UpdateActivity("nope")
}

func TestAddSessionSupersedesSameConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	var reasons []RemoveReason
	r.OnRemove(func(_ *Session, reason RemoveReason) { reasons = append(reasons, reason) })

	conn := newFakeConn("c1")
	addSession(r, "old", conn, "p1")
	r.SubscribeToPresence("old", "friend")
	addSession(r, "new", conn, "p1")

	_, ok := r.GetByToken("old")
	assert.False(t, ok)
	s, ok := r.GetByConnection(conn)
	require.True(t, ok)
	assert.Equal(t, "new", s.Token)
	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.GetSubscribers("friend"))
	assert.Equal(t, []RemoveReason{ReasonSuperseded}, reasons)
	assert.Zero(t, conn.closes.Load(), "supersede must not close the reused connection")
}

func TestAddSessionTokenCollisionOverwrites(t *testing.T) {
	r, _ := newTestRegistry(t)
	addSession(r, "tok", newFakeConn("c1"), "p1")
	addSession(r, "tok", newFakeConn("c2"), "p2")

	s, ok := r.GetByToken("tok")
	require.True(t, ok)
	assert.Equal(t, "p2", s.PlayerID)
	_, ok = r.GetByConnection(newFakeConn("c1"))
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestRemoveSessionIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	var calls int
	r.OnRemove(func(_ *Session, _ RemoveReason) { calls++ })
	addSession(r, "tok", newFakeConn("c1"), "p1")

	r.RemoveSession("tok")
	r.RemoveSession("tok")
	r.RemoveSession("never-existed")

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, calls)
}

func TestRemoveByConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	var got RemoveReason
	r.OnRemove(func(_ *Session, reason RemoveReason) { got = reason })
	conn := newFakeConn("c1")
	addSession(r, "tok", conn, "p1")

	r.RemoveByConnection(conn)
	_, ok := r.GetByToken("tok")
	assert.False(t, ok)
	assert.Equal(t, ReasonDisconnect, got)
}

func TestRemovePurgesSubscriptions(t *testing.T) {
	r, _ := newTestRegistry(t)
	addSession(r, "a", newFakeConn("c1"), "p1")
	addSession(r, "b", newFakeConn("c2"), "p2")

	require.True(t, r.SubscribeToPresence("a", "p2"))
	require.True(t, r.SubscribeToPresence("a", "p3"))
	require.True(t, r.SubscribeToPresence("b", "p3"))

	r.RemoveSession("a")
	assert.Empty(t, r.GetSubscribers("p2"))
	assert.Equal(t, []string{"b"}, r.GetSubscribers("p3"))

	r.mu.RLock()
	_, hasTarget := r.subscribers["p2"]
	_, hasReverse := r.subscriptions["a"]
	r.mu.RUnlock()
	assert.False(t, hasTarget, "empty subscriber set must be dropped")
	assert.False(t, hasReverse)
}

func TestSubscribeRequiresLiveSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.False(t, r.SubscribeToPresence("ghost", "p1"))
	assert.Empty(t, r.GetSubscribers("p1"))
}

func TestSubscribeTwiceKeepsOneEntry(t *testing.T) {
	r, _ := newTestRegistry(t)
	addSession(r, "a", newFakeConn("c1"), "p1")
	r.SubscribeToPresence("a", "p2")
	r.SubscribeToPresence("a", "p2")
	assert.Equal(t, []string{"a"}, r.GetSubscribers("p2"))
}

func TestUnsubscribeDropsEmptySet(t *testing.T) {
	r, _ := newTestRegistry(t)
	addSession(r, "a", newFakeConn("c1"), "p1")
	r.SubscribeToPresence("a", "p2")
	r.Unsubscribe("a", "p2")
	r.Unsubscribe("a", "p2")

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.subscribers)
	assert.Empty(t, r.subscriptions)
}

func TestGetSubscribersReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t)
	addSession(r, "a", newFakeConn("c1"), "p1")
	r.SubscribeToPresence("a", "p2")

	snap := r.GetSubscribers("p2")
	r.RemoveSession("a")
	assert.Equal(t, []string{"a"}, snap)
	assert.Empty(t, r.SubscriberSessions("p2"))
}

func TestSweepReapsIdleSessionsAndClosesOnce(t *testing.T) {
	r, clock := newTestRegistry(t)
	var reaped []string
	r.OnRemove(func(s *Session, reason RemoveReason) {
		if reason == ReasonIdle {
			reaped = append(reaped, s.Token)
		}
	})

	idle := newFakeConn("idle")
	active := newFakeConn("active")
	addSession(r, "idle", idle, "p1")
	addSession(r, "active", active, "p2")

	clock.Advance(4 * time.Minute)
	r.UpdateActivity("active")
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Sweep())

	assert.Equal(t, []string{"idle"}, reaped)
	assert.Equal(t, int32(1), idle.closes.Load())
	assert.Zero(t, active.closes.Load())
	_, ok := r.GetByToken("active")
	assert.True(t, ok)

	r.RemoveByConnection(idle)
	assert.Equal(t, int32(1), idle.closes.Load())
}

func TestSweepSkipsAlreadyClosedConnection(t *testing.T) {
	r, clock := newTestRegistry(t)
	conn := newFakeConn("c1")
	addSession(r, "tok", conn, "p1")
	conn.closed.Store(true)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Zero(t, conn.closes.Load())
}

func TestGetByTokenRefreshesActivity(t *testing.T) {
	r, clock := newTestRegistry(t)
	addSession(r, "tok", newFakeConn("c1"), "p1")

	clock.Advance(4 * time.Minute)
	_, ok := r.GetByToken("tok")
	require.True(t, ok)
	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, r.Sweep())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
}

func TestGetByPlayerIDDoesNotRefresh(t *testing.T) {
	r, clock := newTestRegistry(t)
	addSession(r, "tok", newFakeConn("c1"), "p1")
	clock.Advance(4 * time.Minute)
	_, _ = r.GetByPlayerID("p1")
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
}

func TestPlayTimeAccrues(t *testing.T) {
	r, clock := newTestRegistry(t)
	s := addSession(r, "tok", newFakeConn("c1"), "p1")

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.PlayTime() == time.Minute }, time.Second, 5*time.Millisecond)

	// The callback re-arms the same timer.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.PlayTime() == 2*time.Minute }, time.Second, 5*time.Millisecond)
}

func TestRemovedSessionStopsAccruing(t *testing.T) {
	r, clock := newTestRegistry(t)
	s := addSession(r, "tok", newFakeConn("c1"), "p1")
	r.RemoveSession("tok")

	clock.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.PlayTime())
}

func TestCloseRemovesEverythingAndRunsHooks(t *testing.T) {
	r, clock := newTestRegistry(t)
	var shutdown atomic.Int32
	r.OnRemove(func(_ *Session, reason RemoveReason) {
		if reason == ReasonShutdown {
			shutdown.Add(1)
		}
	})
	a := addSession(r, "a", newFakeConn("c1"), "p1")
	addSession(r, "b", newFakeConn("c2"), "p2")

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, int32(2), shutdown.Load())

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, a.PlayTime())
}

func TestPlayerSessionsListsEveryConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	a := addSession(r, "a", newFakeConn("c1"), "p1")
	b := addSession(r, "b", newFakeConn("c2"), "p1")
	addSession(r, "c", newFakeConn("c3"), "p2")

	assert.ElementsMatch(t, []*Session{a, b}, r.PlayerSessions("p1"))
	r.RemoveSession("a")
	assert.Equal(t, []*Session{b}, r.PlayerSessions("p1"))
	assert.Empty(t, r.PlayerSessions("nobody"))
}

func TestAddSessionAfterCloseIsRejected(t *testing.T) {
	r, clock := newTestRegistry(t)
	require.NoError(t, r.Close())

	s := &Session{Token: "late", Conn: newFakeConn("c1"), PlayerID: "p1"}
	require.ErrorIs(t, r.AddSession(s), ErrRegistryClosed)

	clock.Advance(3 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r.Count())
	assert.Zero(t, s.PlayTime())
	_, ok := r.GetByToken("late")
	assert.False(t, ok)
}

func TestStartAndClose(t *testing.T) {
	r := NewRegistry(config.SessionConfig{
		IdleTimeout:      time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
		PlayTimeInterval: time.Minute,
	}, clockwork.NewRealClock(), zaptest.NewLogger(t))
	conn := newFakeConn("c1")
	addSession(r, "tok", conn, "p1")

	require.NoError(t, r.Start())
	assert.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), conn.closes.Load())
	require.NoError(t, r.Close())
}

func TestConcurrentAddRemoveSubscribe(t *testing.T) {
	r, _ := newTestRegistry(t)
	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				token := fmt.Sprintf("t-%d-%d", w, i)
				conn := newFakeConn(fmt.Sprintf("c-%d", w))
				addSession(r, token, conn, fmt.Sprintf("p-%d", w))
				r.SubscribeToPresence(token, fmt.Sprintf("p-%d", (w+1)%workers))
				_, _ = r.GetByToken(token)
				_ = r.GetSubscribers(fmt.Sprintf("p-%d", w))
				if i%3 == 0 {
					r.RemoveSession(token)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Count(), workers)
	assertNoDanglingTokens(t, r)
}

func assertNoDanglingTokens(t interface{ Errorf(string, ...any) }, r *Registry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for target, set := range r.subscribers {
		if len(set) == 0 {
			t.Errorf("empty subscriber set retained for %s", target)
		}
		for token := range set {
			if _, ok := r.sessions[token]; !ok {
				t.Errorf("dangling subscriber token %s under %s", token, target)
			}
		}
	}
	seen := make(map[string]bool)
	for _, s := range r.sessions {
		if seen[s.Conn.ID()] {
			t.Errorf("two sessions on connection %s", s.Conn.ID())
		}
		seen[s.Conn.ID()] = true
	}
}

func TestPropertyNoDanglingSubscribersAfterRemoval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(testSessionConfig, clockwork.NewFakeClock(), zap.NewNop())
		defer r.Close()

		tokens := []string{"t0", "t1", "t2", "t3", "t4"}
		conns := []string{"c0", "c1", "c2"}
		players := []string{"p0", "p1", "p2"}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			token := rapid.SampledFrom(tokens).Draw(rt, "token")
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				conn := rapid.SampledFrom(conns).Draw(rt, "conn")
				player := rapid.SampledFrom(players).Draw(rt, "player")
				addSession(r, token, newFakeConn(conn), player)
			case 1:
				r.RemoveSession(token)
			case 2:
				r.SubscribeToPresence(token, rapid.SampledFrom(players).Draw(rt, "target"))
			case 3:
				r.Unsubscribe(token, rapid.SampledFrom(players).Draw(rt, "target"))
			case 4:
				r.RemoveByConnection(newFakeConn(rapid.SampledFrom(conns).Draw(rt, "conn")))
			}
			assertNoDanglingTokens(rt, r)
		}
	})
}

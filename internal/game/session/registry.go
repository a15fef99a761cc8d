// Package session owns live session state: token identity, the
// one-session-per-connection rule, presence subscriptions, idle reaping and
// play-time accrual.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
)

// ErrRegistryClosed is returned by AddSession once Close has run.
var ErrRegistryClosed = errors.New("session registry closed")

// RemoveHook observes a session after it has left the registry.
// Hooks run outside the registry lock.
type RemoveHook func(s *Session, reason RemoveReason)

// Registry tracks all live sessions and presence subscriptions.
// All methods are safe for concurrent use.
type Registry struct {
	cfg    config.SessionConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mu            sync.RWMutex
	sessions      map[string]*Session            // token → session
	byConn        map[string]*Session            // conn id → session
	byPlayer      map[string]map[string]*Session // player id → token → session
	subscribers   map[string]map[string]struct{} // target player id → subscriber tokens
	subscriptions map[string]map[string]struct{} // token → target player ids
	hooks         []RemoveHook
	scheduler     gocron.Scheduler
	closed        bool
}

// NewRegistry creates an empty Registry.
//
// Precondition: clock and logger must be non-nil.
// Postcondition: Returns a Registry with no sessions; call Start to run the idle sweep.
func NewRegistry(cfg config.SessionConfig, clock clockwork.Clock, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:           cfg,
		clock:         clock,
		logger:        logger,
		sessions:      make(map[string]*Session),
		byConn:        make(map[string]*Session),
		byPlayer:      make(map[string]map[string]*Session),
		subscribers:   make(map[string]map[string]struct{}),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// OnRemove registers a hook called for every session that leaves the registry.
func (r *Registry) OnRemove(fn RemoveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// AddSession inserts s. A session already bound to the same connection is
// removed first. A session already holding the same token is overwritten.
//
// Precondition: s.Token must be non-empty and s.Conn non-nil.
// Postcondition: s is the only session bound to s.Conn and its play-time timer
// is running, or ErrRegistryClosed is returned and nothing changed.
func (r *Registry) AddSession(s *Session) error {
	s.clock = r.clock
	s.interval = r.cfg.PlayTimeInterval
	s.CreatedAt = r.clock.Now()
	s.touch()

	type displaced struct {
		s      *Session
		reason RemoveReason
	}
	var gone []displaced

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if old, ok := r.byConn[s.Conn.ID()]; ok {
		r.detachLocked(old)
		gone = append(gone, displaced{old, ReasonSuperseded})
	}
	if old, ok := r.sessions[s.Token]; ok {
		r.detachLocked(old)
		gone = append(gone, displaced{old, ReasonOverwrite})
	}
	r.sessions[s.Token] = s
	r.byConn[s.Conn.ID()] = s
	if r.byPlayer[s.PlayerID] == nil {
		r.byPlayer[s.PlayerID] = make(map[string]*Session)
	}
	r.byPlayer[s.PlayerID][s.Token] = s
	hooks := r.hooks
	// Armed under the lock so Close cannot miss this timer.
	s.startTimer()
	r.mu.Unlock()

	for _, g := range gone {
		r.logger.Debug("session displaced",
			zap.String("token", g.s.Token),
			zap.String("player_id", g.s.PlayerID),
			zap.String("reason", string(g.reason)),
		)
		runHooks(hooks, g.s, g.reason)
	}
	return nil
}

// RemoveSession removes the session for token. Absent tokens are ignored.
//
// Postcondition: token is absent from the registry and from every subscriber set.
func (r *Registry) RemoveSession(token string) {
	r.remove(func() *Session { return r.sessions[token] }, ReasonLogout)
}

// RemoveByConnection removes the session bound to conn, if any.
//
// Postcondition: No session is bound to conn.
func (r *Registry) RemoveByConnection(conn Conn) {
	id := conn.ID()
	r.remove(func() *Session { return r.byConn[id] }, ReasonDisconnect)
}

func (r *Registry) remove(find func() *Session, reason RemoveReason) {
	r.mu.Lock()
	s := find()
	if s == nil {
		r.mu.Unlock()
		return
	}
	r.detachLocked(s)
	hooks := r.hooks
	r.mu.Unlock()

	r.logger.Debug("session removed",
		zap.String("token", s.Token),
		zap.String("player_id", s.PlayerID),
		zap.String("reason", string(reason)),
	)
	runHooks(hooks, s, reason)
}

// detachLocked drops s from every index and cancels its timer.
// The caller must hold r.mu for writing.
func (r *Registry) detachLocked(s *Session) {
	if cur, ok := r.sessions[s.Token]; ok && cur == s {
		delete(r.sessions, s.Token)
	}
	if cur, ok := r.byConn[s.Conn.ID()]; ok && cur == s {
		delete(r.byConn, s.Conn.ID())
	}
	if set, ok := r.byPlayer[s.PlayerID]; ok && set[s.Token] == s {
		delete(set, s.Token)
		if len(set) == 0 {
			delete(r.byPlayer, s.PlayerID)
		}
	}
	for target := range r.subscriptions[s.Token] {
		r.dropSubscriberLocked(target, s.Token)
	}
	delete(r.subscriptions, s.Token)
	s.stopTimer()
}

func (r *Registry) dropSubscriberLocked(target, token string) {
	set, ok := r.subscribers[target]
	if !ok {
		return
	}
	delete(set, token)
	if len(set) == 0 {
		delete(r.subscribers, target)
	}
}

func runHooks(hooks []RemoveHook, s *Session, reason RemoveReason) {
	for _, h := range hooks {
		h(s, reason)
	}
}

// GetByToken returns the session for token and refreshes its activity.
func (r *Registry) GetByToken(token string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// GetByConnection returns the session bound to conn and refreshes its activity.
func (r *Registry) GetByConnection(conn Conn) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.byConn[conn.ID()]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// GetByPlayerID returns the newest live session for playerID without
// refreshing its activity.
func (r *Registry) GetByPlayerID(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *Session
	for _, s := range r.byPlayer[playerID] {
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	return newest, newest != nil
}

// PlayerSessions returns a snapshot of every live session held by playerID.
func (r *Registry) PlayerSessions(playerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byPlayer[playerID]))
	for _, s := range r.byPlayer[playerID] {
		out = append(out, s)
	}
	return out
}

// UpdateActivity refreshes the last-activity time of token's session.
func (r *Registry) UpdateActivity(token string) {
	r.GetByToken(token)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session idle for longer than the idle timeout and
// closes its connection.
//
// Postcondition: Returns the number of sessions reaped. Each reaped connection is closed once.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			r.detachLocked(s)
			expired = append(expired, s)
		}
	}
	hooks := r.hooks
	r.mu.Unlock()

	for _, s := range expired {
		if !s.Conn.IsClosed() {
			if err := s.Conn.Close(); err != nil {
				r.logger.Warn("closing idle connection",
					zap.String("token", s.Token),
					zap.Error(err),
				)
			}
		}
		r.logger.Info("idle session reaped",
			zap.String("token", s.Token),
			zap.String("player_id", s.PlayerID),
			zap.Time("last_activity", s.LastActivity()),
		)
		runHooks(hooks, s, ReasonIdle)
	}
	return len(expired)
}

// SubscribeToPresence adds subscriberToken to targetPlayerID's subscriber set.
//
// Postcondition: Returns false without change if subscriberToken is not live.
func (r *Registry) SubscribeToPresence(subscriberToken, targetPlayerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[subscriberToken]; !ok {
		return false
	}
	if r.subscribers[targetPlayerID] == nil {
		r.subscribers[targetPlayerID] = make(map[string]struct{})
	}
	r.subscribers[targetPlayerID][subscriberToken] = struct{}{}
	if r.subscriptions[subscriberToken] == nil {
		r.subscriptions[subscriberToken] = make(map[string]struct{})
	}
	r.subscriptions[subscriberToken][targetPlayerID] = struct{}{}
	return true
}

// Unsubscribe removes subscriberToken from targetPlayerID's subscriber set.
// The target's entry is dropped once its set is empty.
func (r *Registry) Unsubscribe(subscriberToken, targetPlayerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropSubscriberLocked(targetPlayerID, subscriberToken)
	if set, ok := r.subscriptions[subscriberToken]; ok {
		delete(set, targetPlayerID)
		if len(set) == 0 {
			delete(r.subscriptions, subscriberToken)
		}
	}
}

// GetSubscribers returns a copy of the subscriber tokens for targetPlayerID.
func (r *Registry) GetSubscribers(targetPlayerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subscribers[targetPlayerID]
	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	return out
}

// SubscriberSessions returns a snapshot of the live sessions subscribed to
// targetPlayerID.
func (r *Registry) SubscriberSessions(targetPlayerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subscribers[targetPlayerID]
	out := make([]*Session, 0, len(set))
	for token := range set {
		if s, ok := r.sessions[token]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Start schedules the idle sweep.
//
// Precondition: Start must be called at most once.
// Postcondition: Sweep runs every SweepInterval until Close.
func (r *Registry) Start() error {
	sched, err := gocron.NewScheduler(gocron.WithClock(r.clock))
	if err != nil {
		return fmt.Errorf("creating sweep scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(r.cfg.SweepInterval),
		gocron.NewTask(func() {
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("idle sweep finished", zap.Int("reaped", n))
			}
		}),
		gocron.WithName("session-idle-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("scheduling idle sweep: %w", err)
	}

	r.mu.Lock()
	r.scheduler = sched
	r.mu.Unlock()

	sched.Start()
	r.logger.Info("session registry started",
		zap.Duration("idle_timeout", r.cfg.IdleTimeout),
		zap.Duration("sweep_interval", r.cfg.SweepInterval),
	)
	return nil
}

// Close stops the idle sweep and removes every session, cancelling all
// play-time timers. Connections are left to their owners.
//
// Postcondition: No sweep or timer callback runs after Close returns.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sched := r.scheduler
	r.mu.Unlock()

	var err error
	if sched != nil {
		if err = sched.Shutdown(); err != nil {
			err = fmt.Errorf("stopping sweep scheduler: %w", err)
		}
	}

	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		r.detachLocked(s)
		all = append(all, s)
	}
	hooks := r.hooks
	r.mu.Unlock()

	for _, s := range all {
		runHooks(hooks, s, ReasonShutdown)
	}
	r.logger.Info("session registry closed", zap.Int("sessions", len(all)))
	return err
}

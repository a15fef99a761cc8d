package matchmaking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type groupKey struct {
	mode   string
	region string
}

// strategy is what differs between the engines.
type strategy interface {
	name() string
	// normalize rewrites an incoming entry before validation.
	normalize(e *Entry)
	key(e *Entry) groupKey
	// batches splits an oldest-first group into candidate matches.
	batches(group []*Entry, rules ModeRules) [][]*Entry
	assign(batch []*Entry) []Participant
	pickMap(batch []*Entry, rules ModeRules, rng *rand.Rand) string
	// estimate returns the expected total wait for e. Zero means no estimate.
	estimate(e *Entry, groupSize, regionSize int, rules ModeRules, base time.Duration) time.Duration
}

// Engine owns one matchmaking queue and its active-match table.
// All methods are safe for concurrent use.
type Engine struct {
	strategy  strategy
	rules     *Rules
	allocator ServerAllocator
	clock     clockwork.Clock
	logger    *zap.Logger
	interval  time.Duration
	baseWait  time.Duration

	mu          sync.Mutex
	queue       map[string]*Entry // player id → entry
	matches     map[string]*Match // match id → match
	playerMatch map[string]string // player id → match id
	onMatch     []func(Match)
	rng         *rand.Rand

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newEngine(s strategy, interval, baseWait time.Duration, rules *Rules, alloc ServerAllocator, clock clockwork.Clock, logger *zap.Logger) *Engine {
	if interval <= 0 {
		panic("matchmaking.newEngine: interval must be > 0")
	}
	return &Engine{
		strategy:    s,
		rules:       rules,
		allocator:   alloc,
		clock:       clock,
		logger:      logger.With(zap.String("engine", s.name())),
		interval:    interval,
		baseWait:    baseWait,
		queue:       make(map[string]*Entry),
		matches:     make(map[string]*Match),
		playerMatch: make(map[string]string),
		rng:         rand.New(rand.NewPCG(uint64(clock.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Name returns the engine's name.
func (e *Engine) Name() string {
	return e.strategy.name()
}

// OnMatch registers fn to receive a copy of every match the engine creates.
// Callbacks run on the polling goroutine after the queue lock is released.
func (e *Engine) OnMatch(fn func(Match)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMatch = append(e.onMatch, fn)
}

// Enqueue adds a Searching entry for en.PlayerID. EnqueuedAt and MatchID
// are set by the engine.
//
// Precondition: en.PlayerID and en.Region must be non-empty.
// Postcondition: The player is Searching, or an error is returned and the queue is unchanged.
func (e *Engine) Enqueue(en Entry) error {
	if en.PlayerID == "" || en.Region == "" {
		return fmt.Errorf("%w: player id and region are required", ErrInvalidEntry)
	}
	e.strategy.normalize(&en)
	if _, ok := e.rules.Mode(en.Mode); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, en.Mode)
	}
	en.EnqueuedAt = e.clock.Now()
	en.MatchID = ""

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queue[en.PlayerID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, en.PlayerID)
	}
	e.queue[en.PlayerID] = &en
	e.logger.Debug("player queued",
		zap.String("player_id", en.PlayerID),
		zap.String("mode", en.Mode),
		zap.String("region", en.Region),
		zap.Int("rating", en.Rating),
	)
	return nil
}

// Dequeue removes playerID's entry if it is still Searching.
//
// Postcondition: Returns true if an entry was removed; otherwise nothing changes.
func (e *Engine) Dequeue(playerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queue[playerID]; !ok {
		return false
	}
	delete(e.queue, playerID)
	e.logger.Debug("player dequeued", zap.String("player_id", playerID))
	return true
}

// QueueSize returns the number of Searching entries.
func (e *Engine) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ActiveMatches returns the number of matches that are found or in progress.
func (e *Engine) ActiveMatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.matches)
}

// GetStatus reports playerID's queue state, checking the queue before the
// active-match table.
func (e *Engine) GetStatus(playerID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if en, ok := e.queue[playerID]; ok {
		elapsed := e.clock.Since(en.EnqueuedAt)
		st := Status{State: Searching, Elapsed: elapsed}
		if rules, ok := e.rules.Mode(en.Mode); ok {
			groupSize, regionSize := e.populationLocked(en)
			total := e.strategy.estimate(en, groupSize, regionSize, rules, e.baseWait)
			if remaining := total - elapsed; remaining > 0 {
				st.EstimatedWait = remaining
			}
		}
		return st
	}

	if id, ok := e.playerMatch[playerID]; ok {
		if m, ok := e.matches[id]; ok {
			st := Status{State: Found, MatchID: m.ID, Server: m.Server, Map: m.Map}
			for _, p := range m.Participants {
				if p.PlayerID == playerID {
					st.Team = p.Team
				}
			}
			return st
		}
	}
	return Status{State: NotQueued}
}

// populationLocked counts queued entries sharing en's group and region.
// The caller must hold e.mu.
func (e *Engine) populationLocked(en *Entry) (groupSize, regionSize int) {
	k := e.strategy.key(en)
	for _, other := range e.queue {
		if other.Region == en.Region {
			regionSize++
		}
		if e.strategy.key(other) == k {
			groupSize++
		}
	}
	return groupSize, regionSize
}

// Match returns a copy of active match id.
func (e *Engine) Match(id string) (Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.matches[id]
	if !ok {
		return Match{}, false
	}
	return cloneMatch(m), true
}

// StartMatch moves a found match to in progress.
func (e *Engine) StartMatch(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.matches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	if m.State != MatchFound {
		return fmt.Errorf("match %s is %s, not found", id, m.State)
	}
	m.State = MatchInProgress
	return nil
}

// CompleteMatch finishes a match and removes it from the active table.
func (e *Engine) CompleteMatch(id string) error {
	return e.finish(id, MatchCompleted)
}

// CancelMatch abandons a match and removes it from the active table.
func (e *Engine) CancelMatch(id string) error {
	return e.finish(id, MatchCancelled)
}

func (e *Engine) finish(id string, state MatchState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.matches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	m.State = state
	delete(e.matches, id)
	for _, p := range m.Participants {
		if e.playerMatch[p.PlayerID] == id {
			delete(e.playerMatch, p.PlayerID)
		}
	}
	e.logger.Info("match finished",
		zap.String("match_id", id),
		zap.Stringer("state", state),
	)
	return nil
}

// Poll runs one grouping and promotion cycle over a snapshot of the queue.
//
// Postcondition: Returns copies of the matches created; promoted entries are gone from the queue.
func (e *Engine) Poll() []Match {
	e.mu.Lock()
	snapshot := make([]*Entry, 0, len(e.queue))
	for _, en := range e.queue {
		snapshot = append(snapshot, en)
	}
	e.mu.Unlock()

	groups := make(map[groupKey][]*Entry)
	for _, en := range snapshot {
		k := e.strategy.key(en)
		groups[k] = append(groups[k], en)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].mode != keys[j].mode {
			return keys[i].mode < keys[j].mode
		}
		return keys[i].region < keys[j].region
	})

	var created []Match
	for _, k := range keys {
		rules, ok := e.rules.Mode(k.mode)
		if !ok {
			e.logger.Warn("no rules for queued mode", zap.String("mode", k.mode))
			continue
		}
		group := groups[k]
		if len(group) < rules.MinPlayers {
			continue
		}
		sortOldestFirst(group)
		for _, batch := range e.strategy.batches(group, rules) {
			if m, ok := e.promote(k, rules, batch); ok {
				created = append(created, m)
			}
		}
	}

	if len(created) == 0 {
		return nil
	}
	e.mu.Lock()
	hooks := e.onMatch
	e.mu.Unlock()
	for _, m := range created {
		for _, h := range hooks {
			h(cloneMatch(&m))
		}
	}
	return created
}

// promote turns batch into a match. Entries dequeued since the snapshot are
// skipped; the batch is abandoned if too few remain.
func (e *Engine) promote(k groupKey, rules ModeRules, batch []*Entry) (Match, bool) {
	server, err := e.allocator.Allocate(k.region)
	if err != nil {
		e.logger.Error("allocating game server",
			zap.String("mode", k.mode),
			zap.String("region", k.region),
			zap.Error(err),
		)
		return Match{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	present := make([]*Entry, 0, len(batch))
	for _, en := range batch {
		if cur, ok := e.queue[en.PlayerID]; ok && cur == en {
			present = append(present, en)
		}
	}
	if len(present) < rules.MinPlayers {
		e.logger.Debug("batch shrank below minimum",
			zap.String("mode", k.mode),
			zap.String("region", k.region),
			zap.Int("remaining", len(present)),
		)
		return Match{}, false
	}

	m := &Match{
		ID:           uuid.NewString(),
		Engine:       e.strategy.name(),
		Mode:         k.mode,
		Region:       k.region,
		Map:          e.strategy.pickMap(present, rules, e.rng),
		Server:       server,
		CreatedAt:    e.clock.Now(),
		Participants: e.strategy.assign(present),
		State:        MatchFound,
	}
	for _, en := range present {
		en.MatchID = m.ID
		delete(e.queue, en.PlayerID)
		e.playerMatch[en.PlayerID] = m.ID
	}
	e.matches[m.ID] = m

	e.logger.Info("match created",
		zap.String("match_id", m.ID),
		zap.String("mode", m.Mode),
		zap.String("region", m.Region),
		zap.String("map", m.Map),
		zap.String("server", m.Server),
		zap.Int("players", len(m.Participants)),
	)
	return cloneMatch(m), true
}

// Start launches the polling loop. Calling Start on a running engine does nothing.
//
// Postcondition: Poll runs once per interval until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	ticker := e.clock.NewTicker(e.interval)
	go e.loop(ctx, ticker, e.done)
	e.logger.Info("matchmaking engine started", zap.Duration("interval", e.interval))
}

// Stop halts the polling loop and waits for it to exit.
//
// Postcondition: No promotion happens after Stop returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
	e.logger.Info("matchmaking engine stopped")
}

func (e *Engine) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			e.safePoll()
		}
	}
}

// safePoll keeps one failed cycle from ending the loop.
func (e *Engine) safePoll() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("poll cycle failed", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	e.Poll()
}

func sortOldestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
}

func cloneMatch(m *Match) Match {
	c := *m
	c.Participants = append([]Participant(nil), m.Participants...)
	return c
}

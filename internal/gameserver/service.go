// Package gameserver registers the player-facing RPC services on the
// dispatcher: auth, presence, wallet, and one queue service per
// matchmaking engine.
package gameserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/broadcast"
	"github.com/cory-johannsen/arena/internal/dispatch"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/matchmaking"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// Event listeners and names pushed to clients.
const (
	ListenerPresence = "presence"
	EventOnline      = "online"
	EventOffline     = "offline"
	EventMatchFound  = "match_found"
)

// persistTimeout bounds play-time writes made from removal hooks.
const persistTimeout = 5 * time.Second

// PlayerStore is the persistence the services need.
type PlayerStore interface {
	Create(ctx context.Context, username, password, hwid string) (postgres.Player, error)
	GetByID(ctx context.Context, id string) (postgres.Player, error)
	GetByToken(ctx context.Context, token string) (postgres.Player, error)
	GetByUID(ctx context.Context, uid int64) (postgres.Player, error)
	Authenticate(ctx context.Context, username, password string) (postgres.Player, error)
	UpdateField(ctx context.Context, id, field string, value any) error
	AddPlayTime(ctx context.Context, id string, minutes int64) error
	TransferCoins(ctx context.Context, fromID, toID string, amount int64) error
}

// Service owns the RPC handlers and the hooks that tie sessions,
// matchmaking, and persistence together.
type Service struct {
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster
	players     PlayerStore
	queues      map[string]*matchmaking.Engine
	clock       clockwork.Clock
	logger      *zap.Logger
}

// New creates a Service. queues maps an RPC service name (for example
// "matchmaking", "ranked", "casual") to the engine serving it.
//
// Precondition: every argument must be non-nil.
func New(
	registry *session.Registry,
	broadcaster *broadcast.Broadcaster,
	players PlayerStore,
	queues map[string]*matchmaking.Engine,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		registry:    registry,
		broadcaster: broadcaster,
		players:     players,
		queues:      queues,
		clock:       clock,
		logger:      logger,
	}
}

// Register binds every handler to d and installs the disconnect, removal,
// and match-found hooks.
//
// Postcondition: d routes auth.*, presence.*, wallet.*, player.*, and
// <queue>.* for every configured queue.
func (s *Service) Register(d *dispatch.Dispatcher) {
	d.RegisterHandler("auth", "register", s.register)
	d.RegisterHandler("auth", "login", s.login)
	d.RegisterHandler("auth", "login_password", s.loginPassword)
	d.RegisterHandler("auth", "logout", s.logout)

	d.RegisterHandler("presence", "subscribe", s.subscribe)
	d.RegisterHandler("presence", "unsubscribe", s.unsubscribe)

	d.RegisterHandler("player", "lookup", s.lookup)
	d.RegisterHandler("wallet", "transfer", s.transfer)

	for name, engine := range s.queues {
		q := &queueService{svc: s, name: name, engine: engine}
		d.RegisterHandler(name, "enqueue", q.enqueue)
		d.RegisterHandler(name, "dequeue", q.dequeue)
		d.RegisterHandler(name, "status", q.status)
		d.RegisterHandler(name, "start", q.start)
		d.RegisterHandler(name, "complete", q.complete)
		d.RegisterHandler(name, "cancel", q.cancel)
		engine.OnMatch(q.notify)
	}

	d.OnDisconnect(s.onDisconnect)
	s.registry.OnRemove(s.onRemove)
}

// onDisconnect pulls the departing player out of every queue unless they
// are still connected elsewhere. It runs before the session is removed.
func (s *Service) onDisconnect(_ context.Context, conn session.Conn, sess *session.Session) {
	if sess == nil {
		return
	}
	for _, other := range s.registry.PlayerSessions(sess.PlayerID) {
		if other != sess {
			s.logger.Debug("player disconnected, still online",
				zap.String("conn_id", conn.ID()),
				zap.String("player_id", sess.PlayerID),
			)
			return
		}
	}
	s.logger.Debug("player disconnected",
		zap.String("conn_id", conn.ID()),
		zap.String("player_id", sess.PlayerID),
	)
	s.dequeueAll(sess.PlayerID)
}

// onRemove persists accrued play time and, once the player has no live
// session left, leaves every queue and tells presence subscribers.
func (s *Service) onRemove(sess *session.Session, reason session.RemoveReason) {
	if minutes := int64(sess.PlayTime() / time.Minute); minutes > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.players.AddPlayTime(ctx, sess.PlayerID, minutes); err != nil {
			s.logger.Error("persisting play time",
				zap.String("player_id", sess.PlayerID),
				zap.Int64("minutes", minutes),
				zap.Error(err),
			)
		}
		cancel()
	}

	if _, online := s.registry.GetByPlayerID(sess.PlayerID); online {
		return
	}
	s.dequeueAll(sess.PlayerID)
	if reason == session.ReasonShutdown {
		return
	}
	n := s.broadcaster.Broadcast(sess.PlayerID, ListenerPresence, EventOffline, sess.PlayerID)
	s.logger.Debug("player offline",
		zap.String("player_id", sess.PlayerID),
		zap.String("reason", string(reason)),
		zap.Int("notified", n),
	)
}

func (s *Service) dequeueAll(playerID string) {
	for name, engine := range s.queues {
		if engine.Dequeue(playerID) {
			s.logger.Debug("dequeued departing player",
				zap.String("queue", name),
				zap.String("player_id", playerID),
			)
		}
	}
}

// bind creates a session for p on the caller's connection and announces it.
func (s *Service) bind(call *dispatch.Call, p postgres.Player, hwid string) (*structpb.Value, error) {
	sess := &session.Session{
		Token:      uuid.NewString(),
		Conn:       call.Conn,
		PlayerID:   p.ID,
		HardwareID: hwid,
	}
	_, wasOnline := s.registry.GetByPlayerID(p.ID)
	if err := s.registry.AddSession(sess); err != nil {
		return nil, status.Error(codes.Unavailable, "server shutting down")
	}
	if !wasOnline {
		s.broadcaster.Broadcast(p.ID, ListenerPresence, EventOnline, p.ID)
	}
	s.logger.Info("player logged in",
		zap.String("player_id", p.ID),
		zap.String("username", p.Username),
		zap.String("conn_id", call.Conn.ID()),
	)
	return structpb.NewValue(map[string]any{
		"session_token": sess.Token,
		"player_token":  p.Token,
		"player_id":     p.ID,
		"uid":           p.UID,
		"username":      p.Username,
		"rating":        p.Rating,
		"coins":         p.Coins,
	})
}

// requireSession returns the caller's session or an Unauthenticated status.
func requireSession(call *dispatch.Call) (*session.Session, error) {
	if call.Session == nil {
		return nil, status.Error(codes.Unauthenticated, "not logged in")
	}
	return call.Session, nil
}

func invalidArgument(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// storeError maps persistence sentinels to status codes. Anything else is
// returned unchanged and reported as Internal by the dispatcher.
func storeError(err error) error {
	switch {
	case errors.Is(err, postgres.ErrPlayerNotFound):
		return status.Error(codes.NotFound, "player not found")
	case errors.Is(err, postgres.ErrPlayerExists):
		return status.Error(codes.AlreadyExists, "player already exists")
	case errors.Is(err, postgres.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, postgres.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, "insufficient funds")
	case errors.Is(err, postgres.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, "invalid amount")
	}
	return err
}

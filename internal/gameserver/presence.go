package gameserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/dispatch"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/wire"
)

// subscribe registers the caller for presence events about a player and
// reports whether that player is online now.
// Params: target player id.
func (s *Service) subscribe(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	target, err := wire.StringParam(call.Request.Params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	if target == sess.PlayerID {
		return nil, status.Error(codes.InvalidArgument, "cannot subscribe to yourself")
	}
	if !s.registry.SubscribeToPresence(sess.Token, target) {
		// The session was removed while this call was in flight.
		return nil, status.Error(codes.Unauthenticated, "not logged in")
	}
	_, online := s.registry.GetByPlayerID(target)
	return structpb.NewValue(map[string]any{"player_id": target, "online": online})
}

// Params: target player id.
func (s *Service) unsubscribe(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	target, err := wire.StringParam(call.Request.Params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	s.registry.Unsubscribe(sess.Token, target)
	return structpb.NewBoolValue(true), nil
}

// lookup returns the public profile of the player with a numeric uid.
// Params: uid.
func (s *Service) lookup(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	if _, err := requireSession(call); err != nil {
		return nil, err
	}
	uid, err := wire.IntParam(call.Request.Params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	p, err := s.players.GetByUID(ctx, uid)
	if err != nil {
		return nil, storeError(err)
	}
	_, online := s.registry.GetByPlayerID(p.ID)
	return structpb.NewValue(map[string]any{
		"player_id":         p.ID,
		"uid":               p.UID,
		"username":          p.Username,
		"rating":            p.Rating,
		"play_time_minutes": p.PlayTimeMinutes,
		"online":            online,
	})
}

// transfer moves coins from the caller to another player.
// Params: receiver player id, amount.
func (s *Service) transfer(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	to, err := wire.StringParam(call.Request.Params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	amount, err := wire.IntParam(call.Request.Params, 1)
	if err != nil {
		return nil, invalidArgument(err)
	}
	if err := s.players.TransferCoins(ctx, sess.PlayerID, to, amount); err != nil {
		return nil, storeError(err)
	}
	p, err := s.players.GetByID(ctx, sess.PlayerID)
	if err != nil {
		if errors.Is(err, postgres.ErrPlayerNotFound) {
			return nil, status.Error(codes.NotFound, "player not found")
		}
		return nil, err
	}
	return structpb.NewValue(map[string]any{"coins": p.Coins})
}

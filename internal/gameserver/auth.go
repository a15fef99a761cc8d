package gameserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/dispatch"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/wire"
)

// register creates a player and logs the caller in as that player.
// Params: username, password (may be empty for token-only players), hwid (optional).
func (s *Service) register(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	params := call.Request.Params
	username, err := wire.StringParam(params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	if username == "" {
		return nil, status.Error(codes.InvalidArgument, "username must not be empty")
	}
	password, err := wire.OptionalStringParam(params, 1)
	if err != nil {
		return nil, invalidArgument(err)
	}
	hwid, err := wire.OptionalStringParam(params, 2)
	if err != nil {
		return nil, invalidArgument(err)
	}

	p, err := s.players.Create(ctx, username, password, hwid)
	if err != nil {
		return nil, storeError(err)
	}
	s.logger.Info("player registered", zap.String("player_id", p.ID), zap.Int64("uid", p.UID))
	return s.bind(call, p, hwid)
}

// login authenticates by player token. A changed hardware id is recorded.
// Params: player token, hwid (optional).
func (s *Service) login(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	params := call.Request.Params
	token, err := wire.StringParam(params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	hwid, err := wire.OptionalStringParam(params, 1)
	if err != nil {
		return nil, invalidArgument(err)
	}

	p, err := s.players.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, postgres.ErrPlayerNotFound) {
			return nil, status.Error(codes.Unauthenticated, "unknown player token")
		}
		return nil, err
	}
	if hwid != "" && hwid != p.HardwareID {
		if err := s.players.UpdateField(ctx, p.ID, "hwid", hwid); err != nil {
			return nil, storeError(err)
		}
		p.HardwareID = hwid
	}
	return s.bind(call, p, hwid)
}

// loginPassword authenticates by username and password.
// Params: username, password, hwid (optional).
func (s *Service) loginPassword(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	params := call.Request.Params
	username, err := wire.StringParam(params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	password, err := wire.StringParam(params, 1)
	if err != nil {
		return nil, invalidArgument(err)
	}
	hwid, err := wire.OptionalStringParam(params, 2)
	if err != nil {
		return nil, invalidArgument(err)
	}

	p, err := s.players.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, postgres.ErrPlayerNotFound) {
			// Same answer as a bad password.
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		return nil, storeError(err)
	}
	return s.bind(call, p, hwid)
}

// logout ends the caller's session. The connection stays open.
func (s *Service) logout(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	s.registry.RemoveSession(sess.Token)
	s.logger.Info("player logged out", zap.String("player_id", sess.PlayerID))
	return structpb.NewBoolValue(true), nil
}

package gameserver

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/dispatch"
	"github.com/cory-johannsen/arena/internal/matchmaking"
	"github.com/cory-johannsen/arena/internal/wire"
)

// queueService exposes one matchmaking engine under an RPC service name.
type queueService struct {
	svc    *Service
	name   string
	engine *matchmaking.Engine
}

// enqueue places the caller in the queue. The player's name and rating
// come from the player record.
// Params: mode, region, map preference (optional).
func (q *queueService) enqueue(ctx context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	params := call.Request.Params
	mode, err := wire.StringParam(params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	region, err := wire.StringParam(params, 1)
	if err != nil {
		return nil, invalidArgument(err)
	}
	preferred, err := wire.OptionalStringParam(params, 2)
	if err != nil {
		return nil, invalidArgument(err)
	}

	p, err := q.svc.players.GetByID(ctx, sess.PlayerID)
	if err != nil {
		return nil, storeError(err)
	}
	err = q.engine.Enqueue(matchmaking.Entry{
		PlayerID:      p.ID,
		Name:          p.Username,
		Mode:          mode,
		Region:        region,
		MapPreference: preferred,
		Rating:        p.Rating,
	})
	if err != nil {
		return nil, queueError(err)
	}
	q.svc.logger.Debug("player queued",
		zap.String("queue", q.name),
		zap.String("player_id", p.ID),
		zap.String("mode", mode),
		zap.String("region", region),
	)
	return statusValue(q.engine.GetStatus(p.ID))
}

// dequeue leaves the queue. It reports false when the caller was not searching.
func (q *queueService) dequeue(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	return structpb.NewBoolValue(q.engine.Dequeue(sess.PlayerID)), nil
}

func (q *queueService) status(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	return statusValue(q.engine.GetStatus(sess.PlayerID))
}

// start, complete and cancel advance a match the caller plays in.
// Params: match id.
func (q *queueService) start(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	return q.advance(call, q.engine.StartMatch)
}

func (q *queueService) complete(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	return q.advance(call, q.engine.CompleteMatch)
}

func (q *queueService) cancel(_ context.Context, call *dispatch.Call) (*structpb.Value, error) {
	return q.advance(call, q.engine.CancelMatch)
}

func (q *queueService) advance(call *dispatch.Call, step func(id string) error) (*structpb.Value, error) {
	sess, err := requireSession(call)
	if err != nil {
		return nil, err
	}
	id, err := wire.StringParam(call.Request.Params, 0)
	if err != nil {
		return nil, invalidArgument(err)
	}
	m, ok := q.engine.Match(id)
	if !ok {
		return nil, status.Error(codes.NotFound, "match not found")
	}
	if !slices.Contains(m.PlayerIDs(), sess.PlayerID) {
		return nil, status.Error(codes.PermissionDenied, "not a participant")
	}
	if err := step(id); err != nil {
		return nil, queueError(err)
	}
	return structpb.NewBoolValue(true), nil
}

// notify pushes match_found to every participant.
func (q *queueService) notify(m matchmaking.Match) {
	roster := make([]any, len(m.Participants))
	for i, p := range m.Participants {
		roster[i] = map[string]any{
			"player_id": p.PlayerID,
			"name":      p.Name,
			"team":      p.Team,
			"rating":    p.Rating,
		}
	}
	n := q.svc.broadcaster.SendToPlayers(m.PlayerIDs(), q.name, EventMatchFound, map[string]any{
		"match_id":     m.ID,
		"mode":         m.Mode,
		"region":       m.Region,
		"map":          m.Map,
		"server":       m.Server,
		"participants": roster,
	})
	q.svc.logger.Info("match announced",
		zap.String("queue", q.name),
		zap.String("match_id", m.ID),
		zap.Int("players", len(m.Participants)),
		zap.Int("notified", n),
	)
}

func statusValue(st matchmaking.Status) (*structpb.Value, error) {
	out := map[string]any{"state": st.State.String()}
	switch st.State {
	case matchmaking.Searching:
		out["elapsed_seconds"] = st.Elapsed.Seconds()
		out["estimated_wait_seconds"] = st.EstimatedWait.Seconds()
	case matchmaking.Found:
		out["match_id"] = st.MatchID
		out["server"] = st.Server
		out["map"] = st.Map
		out["team"] = st.Team
	}
	return structpb.NewValue(out)
}

func queueError(err error) error {
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, matchmaking.ErrUnknownMode), errors.Is(err, matchmaking.ErrInvalidEntry):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, matchmaking.ErrMatchNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.FailedPrecondition, err.Error())
}

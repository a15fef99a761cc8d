package dispatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/testutil"
	"github.com/cory-johannsen/arena/internal/transport/tcp"
	"github.com/cory-johannsen/arena/internal/wire"
)

type harness struct {
	d        *Dispatcher
	registry *session.Registry
	conn     *tcp.Conn
	client   *testutil.RPCClient
	done     chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := session.NewRegistry(config.SessionConfig{
		IdleTimeout:      5 * time.Minute,
		SweepInterval:    time.Minute,
		PlayTimeInterval: time.Minute,
	}, clockwork.NewFakeClock(), logger)
	t.Cleanup(func() { _ = registry.Close() })

	server, client := net.Pipe()
	h := &harness{
		d:        New(registry, logger),
		registry: registry,
		conn:     tcp.NewConn(server, 0, time.Second, 1024),
		client:   testutil.NewRPCClientConn(t, client),
		done:     make(chan error, 1),
	}
	return h
}

func (h *harness) start(t *testing.T) {
	go func() { h.done <- h.d.Serve(context.Background(), h.conn) }()
	t.Cleanup(func() {
		_ = h.client.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after client close")
		}
	})
}

func echo(_ context.Context, call *Call) (*structpb.Value, error) {
	s, err := wire.StringParam(call.Request.Params, 0)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return structpb.NewStringValue(s), nil
}

func TestHeartbeatBypassesDecode(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.d.RegisterHandler("", "", func(context.Context, *Call) (*structpb.Value, error) {
		calls.Add(1)
		return nil, nil
	})
	h.start(t)

	assert.Equal(t, []byte{wire.HeartbeatAck}, h.client.Heartbeat())
	assert.Equal(t, []byte{wire.HeartbeatAck}, h.client.Heartbeat())
	assert.Zero(t, calls.Load())
}

func TestUnknownRouteReturnsNotFoundWithRequestID(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	resp := h.client.Call("nope", "missing")
	assert.Equal(t, codes.NotFound, codes.Code(resp.Code))
	assert.Equal(t, uint64(1), resp.RequestId)
	assert.Contains(t, resp.Message, "nope.missing")

	resp = h.client.Call("nope", "again")
	assert.Equal(t, uint64(2), resp.RequestId)
}

func TestHandlerResult(t *testing.T) {
	h := newHarness(t)
	h.d.RegisterHandler("echo", "say", echo)
	h.start(t)

	resp := h.client.Call("echo", "say", "hello")
	assert.Equal(t, codes.OK, codes.Code(resp.Code))
	assert.Equal(t, "hello", resp.Result.GetStringValue())
}

func TestHandlerPanicKeepsConnectionUsable(t *testing.T) {
	h := newHarness(t)
	h.d.RegisterHandler("bad", "boom", func(context.Context, *Call) (*structpb.Value, error) {
		panic("kaboom")
	})
	h.d.RegisterHandler("echo", "say", echo)
	h.start(t)

	resp := h.client.Call("bad", "boom")
	assert.Equal(t, codes.Internal, codes.Code(resp.Code))
	assert.Equal(t, "internal error", resp.Message)

	resp = h.client.Call("echo", "say", "still here")
	assert.Equal(t, codes.OK, codes.Code(resp.Code))
	assert.Equal(t, "still here", resp.Result.GetStringValue())
}

func TestHandlerErrors(t *testing.T) {
	h := newHarness(t)
	h.d.RegisterHandler("echo", "say", echo)
	h.d.RegisterHandler("db", "query", func(context.Context, *Call) (*structpb.Value, error) {
		return nil, errors.New("connection refused by 10.0.0.3")
	})
	h.start(t)

	resp := h.client.Call("echo", "say", 42)
	assert.Equal(t, codes.InvalidArgument, codes.Code(resp.Code))

	resp = h.client.Call("db", "query")
	assert.Equal(t, codes.Internal, codes.Code(resp.Code))
	assert.NotContains(t, resp.Message, "10.0.0.3", "internal details must not leak")
}

func TestLastRegistrationWins(t *testing.T) {
	h := newHarness(t)
	h.d.RegisterHandler("svc", "m", func(context.Context, *Call) (*structpb.Value, error) {
		return structpb.NewStringValue("first"), nil
	})
	h.d.RegisterHandler("svc", "m", func(context.Context, *Call) (*structpb.Value, error) {
		return structpb.NewStringValue("second"), nil
	})
	h.start(t)

	assert.Equal(t, "second", h.client.Call("svc", "m").Result.GetStringValue())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	h.d.RegisterHandler("echo", "say", echo)
	h.start(t)

	h.client.SendRaw([]byte{0xff, 0xff, 0xff, 0xff})
	h.client.SendRaw(make([]byte, 4096))

	resp := h.client.Call("echo", "say", "ok")
	assert.Equal(t, "ok", resp.Result.GetStringValue())
}

func TestHandlerSeesSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.AddSession(&session.Session{Token: "tok", Conn: h.conn, PlayerID: "p1"}))
	var seen atomic.Value
	h.d.RegisterHandler("who", "ami", func(_ context.Context, call *Call) (*structpb.Value, error) {
		if call.Session != nil {
			seen.Store(call.Session.PlayerID)
		}
		return nil, nil
	})
	h.start(t)

	h.client.Call("who", "ami")
	assert.Equal(t, "p1", seen.Load())
}

func TestDisconnectRunsHooksAndRemovesSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.AddSession(&session.Session{Token: "tok", Conn: h.conn, PlayerID: "p1"}))

	hookPlayer := make(chan string, 1)
	h.d.OnDisconnect(func(_ context.Context, _ session.Conn, sess *session.Session) {
		if sess != nil {
			hookPlayer <- sess.PlayerID
		}
	})

	go func() { h.done <- h.d.Serve(context.Background(), h.conn) }()
	require.NoError(t, h.client.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, "p1", <-hookPlayer)
	_, ok := h.registry.GetByToken("tok")
	assert.False(t, ok)
	assert.True(t, h.conn.IsClosed())
}

// Package dispatch routes framed requests to registered service handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/transport/tcp"
	"github.com/cory-johannsen/arena/internal/wire"
)

// FrameConn is a connection the dispatcher can serve.
type FrameConn interface {
	session.Conn
	ReadFrame() (wire.Frame, error)
}

// Call is one decoded request together with where it came from.
type Call struct {
	Request *wire.Request
	Conn    session.Conn
	// Session is the session bound to Conn when the request arrived, or nil.
	Session *session.Session
}

// HandlerFunc serves one call. Returning a status error (grpc/status)
// sends that code to the client; any other error is reported as Internal.
type HandlerFunc func(ctx context.Context, call *Call) (*structpb.Value, error)

// DisconnectHook runs when a connection's read loop ends, before its
// session is removed.
type DisconnectHook func(ctx context.Context, conn session.Conn, sess *session.Session)

// Dispatcher maps service.method to handlers and serves connections.
type Dispatcher struct {
	registry *session.Registry
	logger   *zap.Logger

	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	disconnects []DisconnectHook
}

// New creates a Dispatcher bound to registry.
//
// Precondition: registry and logger must be non-nil.
func New(registry *session.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

func routeKey(service, method string) string {
	return service + "." + method
}

// RegisterHandler binds fn to service.method. A later registration for the
// same pair replaces the earlier one.
func (d *Dispatcher) RegisterHandler(service, method string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[routeKey(service, method)] = fn
}

// OnDisconnect registers a hook run synchronously when a connection closes.
func (d *Dispatcher) OnDisconnect(fn DisconnectHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects = append(d.disconnects, fn)
}

func (d *Dispatcher) lookup(service, method string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[routeKey(service, method)]
	return fn, ok
}

// ServeConn implements tcp.ConnHandler.
func (d *Dispatcher) ServeConn(ctx context.Context, conn *tcp.Conn) error {
	return d.Serve(ctx, conn)
}

// Serve runs the read loop for conn until the peer disconnects, a
// non-protocol read error occurs, or ctx is cancelled.
//
// Postcondition: Disconnect hooks have run and no session is bound to conn.
func (d *Dispatcher) Serve(ctx context.Context, conn FrameConn) error {
	defer d.disconnect(ctx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			if wire.IsProtocolError(err) {
				d.logger.Debug("dropping malformed frame",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || conn.IsClosed() {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		d.HandleFrame(ctx, conn, frame)
	}
}

// HandleFrame processes one frame read from conn.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn session.Conn, frame wire.Frame) {
	sess, _ := d.registry.GetByConnection(conn)

	if frame.IsHeartbeat() {
		if err := conn.WriteFrame(wire.HeartbeatReply()); err != nil {
			d.logger.Debug("writing heartbeat ack", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
		return
	}

	pkt, err := wire.Decode(frame.Payload)
	if err != nil {
		d.logger.Debug("dropping undecodable frame",
			zap.String("conn_id", conn.ID()),
			zap.Int("size", len(frame.Payload)),
			zap.Error(err),
		)
		return
	}
	if pkt.Request == nil {
		d.logger.Debug("ignoring non-request packet", zap.String("conn_id", conn.ID()))
		return
	}

	resp := d.dispatch(ctx, &Call{Request: pkt.Request, Conn: conn, Session: sess})
	d.respond(conn, resp)
}

func (d *Dispatcher) dispatch(ctx context.Context, call *Call) (resp *wire.Response) {
	req := call.Request
	resp = &wire.Response{RequestId: req.RequestId}

	fn, ok := d.lookup(req.Service, req.Method)
	if !ok {
		d.logger.Debug("no handler",
			zap.String("service", req.Service),
			zap.String("method", req.Method),
		)
		resp.Code = uint32(codes.NotFound)
		resp.Message = fmt.Sprintf("no handler for %s.%s", req.Service, req.Method)
		return resp
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("service", req.Service),
				zap.String("method", req.Method),
				zap.Uint64("request_id", req.RequestId),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			resp = &wire.Response{RequestId: req.RequestId, Code: uint32(codes.Internal), Message: "internal error"}
		}
	}()

	result, err := fn(ctx, call)
	if err != nil {
		if st, ok := status.FromError(err); ok {
			resp.Code = uint32(st.Code())
			resp.Message = st.Message()
			d.logger.Debug("handler returned status",
				zap.String("service", req.Service),
				zap.String("method", req.Method),
				zap.Stringer("code", st.Code()),
			)
			return resp
		}
		d.logger.Error("handler failed",
			zap.String("service", req.Service),
			zap.String("method", req.Method),
			zap.Uint64("request_id", req.RequestId),
			zap.Error(err),
		)
		resp.Code = uint32(codes.Internal)
		resp.Message = "internal error"
		return resp
	}
	resp.Result = result
	return resp
}

func (d *Dispatcher) respond(conn session.Conn, resp *wire.Response) {
	payload, err := wire.EncodeResponse(resp)
	if err != nil {
		d.logger.Error("encoding response", zap.Uint64("request_id", resp.RequestId), zap.Error(err))
		payload, _ = wire.EncodeResponse(&wire.Response{RequestId: resp.RequestId, Code: uint32(codes.Internal), Message: "internal error"})
	}
	if err := conn.WriteFrame(payload); err != nil {
		d.logger.Debug("writing response",
			zap.String("conn_id", conn.ID()),
			zap.Uint64("request_id", resp.RequestId),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) disconnect(ctx context.Context, conn FrameConn) {
	sess, _ := d.registry.GetByConnection(conn)

	d.mu.RLock()
	hooks := d.disconnects
	d.mu.RUnlock()
	for _, h := range hooks {
		h(context.WithoutCancel(ctx), conn, sess)
	}

	d.registry.RemoveByConnection(conn)
	_ = conn.Close()
}

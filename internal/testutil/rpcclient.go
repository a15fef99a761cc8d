package testutil

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/arena/internal/wire"
)

// RPCClient is a framed-protocol test client for integration testing.
// Events that arrive while waiting for a response are queued for NextEvent.
type RPCClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
	nextID uint64
	events []*wire.Event
}

// NewRPCClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected RPCClient or fails the test.
func NewRPCClient(t *testing.T, addr string) *RPCClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("rpc client connected to %s [%s]", addr, time.Since(start))
	return NewRPCClientConn(t, conn)
}

// NewRPCClientConn wraps an existing connection, typically one end of net.Pipe.
func NewRPCClientConn(t *testing.T, conn net.Conn) *RPCClient {
	return &RPCClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// SendRaw writes payload as one frame.
func (c *RPCClient) SendRaw(payload []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := wire.WriteFrame(c.conn, payload); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// ReadRaw reads the next frame payload or fails on timeout.
func (c *RPCClient) ReadRaw(timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	f, err := wire.ReadFrame(c.reader, 1<<20)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return f.Payload
}

// Heartbeat sends the one-byte liveness frame and returns the reply payload.
func (c *RPCClient) Heartbeat() []byte {
	c.t.Helper()
	c.SendRaw([]byte{0x00})
	return c.ReadRaw(5 * time.Second)
}

// Call sends service.method with params and waits for the matching response.
//
// Postcondition: Returns the response whose request id matches, or fails the test.
func (c *RPCClient) Call(service, method string, args ...any) *wire.Response {
	c.t.Helper()
	params, err := wire.Values(args...)
	if err != nil {
		c.t.Fatalf("building params: %v", err)
	}
	c.nextID++
	id := c.nextID
	payload, err := wire.EncodeRequest(&wire.Request{Service: service, Method: method, RequestId: id, Params: params})
	if err != nil {
		c.t.Fatalf("encoding request: %v", err)
	}
	c.SendRaw(payload)

	for {
		pkt, err := wire.Decode(c.ReadRaw(5 * time.Second))
		if err != nil {
			c.t.Fatalf("decoding reply to %s.%s: %v", service, method, err)
		}
		if pkt.Event != nil {
			c.events = append(c.events, pkt.Event)
			continue
		}
		if pkt.Response != nil && pkt.Response.RequestId == id {
			return pkt.Response
		}
	}
}

// NextEvent returns the oldest queued event or waits for one to arrive.
func (c *RPCClient) NextEvent(timeout time.Duration) *wire.Event {
	c.t.Helper()
	if len(c.events) > 0 {
		evt := c.events[0]
		c.events = c.events[1:]
		return evt
	}
	for {
		pkt, err := wire.Decode(c.ReadRaw(timeout))
		if err != nil {
			c.t.Fatalf("decoding event: %v", err)
		}
		if pkt.Event != nil {
			return pkt.Event
		}
	}
}

// Close closes the underlying connection.
func (c *RPCClient) Close() error {
	return c.conn.Close()
}

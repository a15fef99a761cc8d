// Package tcp provides the framed TCP transport: an acceptor that hands each
// client connection to a handler, and a connection type that reads and
// writes length-prefixed frames.
package tcp

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/arena/internal/wire"
)

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("connection closed")

// Conn wraps a TCP connection with frame-level reads and serialized writes.
// Reads must come from a single goroutine; writes may be concurrent.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxFrameSize int

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewConn wraps a raw connection.
//
// Precondition: raw must be a valid, open network connection; maxFrameSize must be >= 2.
// Postcondition: Returns a Conn with a unique ID ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, maxFrameSize int) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		maxFrameSize: maxFrameSize,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// ReadFrame reads the next frame. Protocol errors (see wire.IsProtocolError)
// leave the stream aligned and the connection usable.
//
// Postcondition: Returns the next frame or an error (including io.EOF).
func (c *Conn) ReadFrame() (wire.Frame, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return wire.ReadFrame(c.reader, c.maxFrameSize)
}

// WriteFrame sends payload as one length-prefixed frame.
//
// Postcondition: The frame is written whole, or an error is returned.
func (c *Conn) WriteFrame(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wire.WriteFrame(c.raw, payload)
}

// Close closes the underlying connection. Only the first call closes the
// socket; later calls return the first result.
//
// Postcondition: The connection is closed and IsClosed reports true.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

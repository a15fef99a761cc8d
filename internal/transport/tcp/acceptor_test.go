package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/wire"
)

// echoHandler writes every non-heartbeat frame back to the client.
type echoHandler struct {
	connCount atomic.Int32
}

func (h *echoHandler) ServeConn(_ context.Context, conn *Conn) error {
	h.connCount.Add(1)
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if wire.IsProtocolError(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := conn.WriteFrame(f.Payload); err != nil {
			return err
		}
	}
}

func startAcceptor(t *testing.T, handler ConnHandler) *Acceptor {
	t.Helper()
	cfg := config.ListenerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		WriteTimeout: 5 * time.Second,
		MaxFrameSize: 64,
	}
	acc := NewAcceptor(cfg, handler, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- acc.ListenAndServe()
	}()

	require.Eventually(t, func() bool {
		return acc.IsRunning() && acc.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond, "acceptor did not start in time")

	t.Cleanup(func() {
		acc.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("ListenAndServe did not return after Stop")
		}
	})
	return acc
}

func TestAcceptorEchoesFrames(t *testing.T) {
	handler := &echoHandler{}
	acc := startAcceptor(t, handler)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrame(conn, []byte("hello")))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := wire.ReadFrame(conn, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), f.Payload)
	assert.Equal(t, int32(1), handler.connCount.Load())
}

func TestAcceptorSurvivesOversizedFrame(t *testing.T) {
	acc := startAcceptor(t, &echoHandler{})

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	big := make([]byte, 200)
	require.NoError(t, wire.WriteFrame(conn, big))
	require.NoError(t, wire.WriteFrame(conn, []byte("after")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := wire.ReadFrame(conn, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), f.Payload)
}

func TestAcceptorStopClosesOpenConnections(t *testing.T) {
	handler := &echoHandler{}
	cfg := config.ListenerConfig{Host: "127.0.0.1", Port: 0, MaxFrameSize: 64}
	acc := NewAcceptor(cfg, handler, zaptest.NewLogger(t))
	go func() { _ = acc.ListenAndServe() }()
	require.Eventually(t, func() bool { return acc.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return handler.connCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		acc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}
	assert.False(t, acc.IsRunning())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestAcceptorListenError(t *testing.T) {
	cfg := config.ListenerConfig{Host: "256.256.256.256", Port: 1, MaxFrameSize: 64}
	acc := NewAcceptor(cfg, &echoHandler{}, zaptest.NewLogger(t))
	err := acc.ListenAndServe()
	assert.Error(t, err)
	assert.False(t, acc.IsRunning())
}

func TestAcceptorStopBeforeStartPreventsListening(t *testing.T) {
	cfg := config.ListenerConfig{Host: "127.0.0.1", Port: 0, MaxFrameSize: 64}
	acc := NewAcceptor(cfg, &echoHandler{}, zaptest.NewLogger(t))
	acc.Stop()
	acc.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- acc.ListenAndServe() }()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe kept running after Stop")
	}
	assert.Empty(t, acc.Addr())
	assert.False(t, acc.IsRunning())
}

func TestAcceptorClosesConnectionHandedOverAfterStop(t *testing.T) {
	handler := &echoHandler{}
	acc := NewAcceptor(config.ListenerConfig{MaxFrameSize: 64}, handler, zaptest.NewLogger(t))
	acc.Stop()

	server, client := net.Pipe()
	defer client.Close()
	acc.wg.Add(1)
	done := make(chan struct{})
	go func() {
		acc.handleConn(server)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("late connection was served after Stop")
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, handler.connCount.Load())
	assert.Empty(t, acc.conns)
}

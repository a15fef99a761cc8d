// Package wire implements the length-prefixed frame format and the protobuf
// envelopes carried inside frames.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the width of the big-endian length prefix.
	HeaderSize = 4
	// HeartbeatLength is the payload length reserved for heartbeats.
	HeartbeatLength = 1
	// HeartbeatAck is the single byte sent back for every heartbeat.
	HeartbeatAck byte = 0x01
)

// ErrEmptyFrame is returned for a frame whose declared length is zero.
var ErrEmptyFrame = errors.New("empty frame")

// ErrFrameTooLarge is returned when a declared length exceeds the limit.
// The payload has already been discarded when this is returned.
var ErrFrameTooLarge = errors.New("frame too large")

// Frame is one length-delimited payload read off a connection.
type Frame struct {
	Payload []byte
}

// IsHeartbeat reports whether the frame carries the heartbeat sentinel length.
// Heartbeats are never decoded as envelopes.
func (f Frame) IsHeartbeat() bool {
	return len(f.Payload) == HeartbeatLength
}

// IsProtocolError reports whether err is a recoverable framing error after
// which the stream is still aligned on a frame boundary.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrEmptyFrame) || errors.Is(err, ErrFrameTooLarge)
}

// ReadFrame reads one frame from r.
//
// Precondition: maxSize must be >= HeartbeatLength.
// Postcondition: Returns a frame, a protocol error (stream still aligned), or an I/O error.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if uint64(n) > uint64(maxSize) {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return Frame{}, fmt.Errorf("discarding oversized frame: %w", err)
		}
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Payload: payload}, nil
}

// AppendFrame appends the length-prefixed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload to w as a single length-prefixed frame.
//
// Postcondition: Header and payload are written in one Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
	_, err := w.Write(buf)
	return err
}

// HeartbeatReply returns the payload answered to every heartbeat.
func HeartbeatReply() []byte {
	return []byte{HeartbeatAck}
}

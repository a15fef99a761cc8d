package wire

//go:generate protoc --proto_path=../../api/proto --go_out=../.. --go_opt=module=github.com/cory-johannsen/arena arena/v1/envelope.proto

import (
	"errors"
	"fmt"
	"slices"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/wire/arenav1"
)

// Envelope messages, generated from api/proto/arena/v1/envelope.proto.
type (
	Request  = arenav1.Request
	Response = arenav1.Response
	Event    = arenav1.Event
)

// ErrEmptyPacket is returned when a payload holds no envelope.
var ErrEmptyPacket = errors.New("packet carries no envelope")

// Packet is the decoded form of one frame payload; exactly one field is set.
type Packet struct {
	Request  *Request
	Response *Response
	Event    *Event
}

// EncodeRequest serializes req into a packet payload.
func EncodeRequest(req *Request) ([]byte, error) {
	out := &Request{Service: req.Service, Method: req.Method, RequestId: req.RequestId, Params: nonNil(req.Params)}
	b, err := proto.Marshal(&arenav1.Packet{Body: &arenav1.Packet_Request{Request: out}})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return b, nil
}

// EncodeResponse serializes resp into a packet payload.
func EncodeResponse(resp *Response) ([]byte, error) {
	b, err := proto.Marshal(&arenav1.Packet{Body: &arenav1.Packet_Response{Response: resp}})
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return b, nil
}

// EncodeEvent serializes evt into a packet payload.
func EncodeEvent(evt *Event) ([]byte, error) {
	out := &Event{Listener: evt.Listener, Name: evt.Name, Params: nonNil(evt.Params)}
	b, err := proto.Marshal(&arenav1.Packet{Body: &arenav1.Packet_Event{Event: out}})
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return b, nil
}

// Decode parses a packet payload. Strings must be valid UTF-8.
//
// Postcondition: Returns a Packet with exactly one envelope set, or an error.
func Decode(payload []byte) (Packet, error) {
	var pkt arenav1.Packet
	if err := proto.Unmarshal(payload, &pkt); err != nil {
		return Packet{}, fmt.Errorf("decoding packet: %w", err)
	}
	switch body := pkt.GetBody().(type) {
	case *arenav1.Packet_Request:
		return Packet{Request: body.Request}, nil
	case *arenav1.Packet_Response:
		return Packet{Response: body.Response}, nil
	case *arenav1.Packet_Event:
		return Packet{Event: body.Event}, nil
	}
	return Packet{}, ErrEmptyPacket
}

// nonNil returns values with nil entries replaced by explicit nulls, since
// proto.Marshal rejects nil list elements. values itself is not modified.
func nonNil(values []*structpb.Value) []*structpb.Value {
	if !slices.Contains(values, nil) {
		return values
	}
	out := make([]*structpb.Value, len(values))
	for i, v := range values {
		if v == nil {
			v = structpb.NewNullValue()
		}
		out[i] = v
	}
	return out
}

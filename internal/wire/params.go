package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Values converts plain Go values into protobuf Values.
//
// Postcondition: Returns one Value per argument, or an error naming the first unsupported argument.
func Values(args ...any) ([]*structpb.Value, error) {
	out := make([]*structpb.Value, 0, len(args))
	for i, a := range args {
		v, err := structpb.NewValue(a)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// StringParam returns params[i] as a string.
func StringParam(params []*structpb.Value, i int) (string, error) {
	if i >= len(params) {
		return "", fmt.Errorf("missing param %d", i)
	}
	s, ok := params[i].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("param %d is not a string", i)
	}
	return s.StringValue, nil
}

// OptionalStringParam returns params[i] as a string, or "" when absent or null.
func OptionalStringParam(params []*structpb.Value, i int) (string, error) {
	if i >= len(params) {
		return "", nil
	}
	if _, null := params[i].GetKind().(*structpb.Value_NullValue); null {
		return "", nil
	}
	return StringParam(params, i)
}

// IntParam returns params[i] as an integer. Protobuf Values carry numbers as
// doubles, so fractional values are rejected.
func IntParam(params []*structpb.Value, i int) (int64, error) {
	if i >= len(params) {
		return 0, fmt.Errorf("missing param %d", i)
	}
	n, ok := params[i].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("param %d is not a number", i)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("param %d is not an integer", i)
	}
	return int64(n.NumberValue), nil
}

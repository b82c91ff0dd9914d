// Package codec defines the JSON wire frame used by network transports and the
// decoding rules the messenger applies to payload values.
//
// In-process transports hand payload values over untouched. Network
// transports deliver every payload element as a json.RawMessage and leave the
// decision of the concrete Go type to the receiver, which knows what it
// expects (a handler parameter type or a typed Send result). Decode and
// DecodeValue implement that receiver side for both cases.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// ErrMismatch is matched by every *MismatchError.
var ErrMismatch = errors.New("type mismatch")

// Frame is one named event on the wire.
type Frame struct {
	Event   string            `json:"event"`
	Payload []json.RawMessage `json:"payload"`
}

// NewFrame encodes payload values into a frame.
// json.RawMessage values are passed through without re-encoding.
func NewFrame(event string, payload []any) (*Frame, error) {
	raw := make([]json.RawMessage, len(payload))
	for i, v := range payload {
		if r, ok := v.(json.RawMessage); ok {
			raw[i] = r
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload[%d]: %w", event, i, err)
		}
		raw[i] = b
	}
	return &Frame{Event: event, Payload: raw}, nil
}

// Values returns the payload as a value list suitable for a transport listener.
func (f *Frame) Values() []any {
	values := make([]any, len(f.Payload))
	for i, r := range f.Payload {
		values[i] = r
	}
	return values
}

// MismatchError reports a value that cannot be used as the wanted type.
type MismatchError struct {
	Want reflect.Type
	Got  any
	Err  error // decoding error for raw JSON values, if any
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot decode %s as %s: %v", describe(e.Got), e.Want, e.Err)
	}
	return fmt.Sprintf("cannot use %s as %s", describe(e.Got), e.Want)
}

// Unwrap returns the decoding error.
func (e *MismatchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

func describe(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case json.RawMessage:
		return "json " + strconv.Quote(string(val))
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Decode converts a payload value to T.
//
// Values that already are a T are returned as is. Raw JSON values are
// unmarshaled into a T. nil (or JSON null) is accepted only when T is a
// nillable kind. Anything else is a *MismatchError; no numeric or string
// coercion takes place.
func Decode[T any](v any) (T, error) {
	var zero T
	rv, err := DecodeValue(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	// rv may hold a nil interface, which would fail a plain assertion.
	t, _ := rv.Interface().(T)
	return t, nil
}

// DecodeValue is the reflection form of Decode.
func DecodeValue(v any, t reflect.Type) (reflect.Value, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !IsNull(raw) {
			ptr := reflect.New(t)
			if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
				return reflect.Value{}, &MismatchError{Want: t, Got: raw, Err: err}
			}
			return ptr.Elem(), nil
		}
		v = nil
	}

	if v == nil {
		if nillable(t) {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, &MismatchError{Want: t, Got: nil}
	}

	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, &MismatchError{Want: t, Got: v}
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	return out, nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// IsNull reports whether raw is the JSON literal null (or empty).
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Int64 extracts an integer from a payload value.
// It accepts Go integer kinds, integral float64 (JSON numbers decoded into
// any), json.Number and raw JSON integers.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case json.RawMessage:
		i, err := strconv.ParseInt(string(bytes.TrimSpace(n)), 10, 64)
		return i, err == nil
	}

	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.CanInt() {
		return rv.Int(), true
	}
	return 0, false
}

// MarshalArgs encodes a payload list as a JSON array.
// Values that cannot be encoded are replaced by their fmt representation.
// A nil list encodes as [].
func MarshalArgs(args []any) []byte {
	if args == nil {
		args = []any{}
	}
	if b, err := json.Marshal(args); err == nil {
		return b
	}
	safe := make([]any, len(args))
	for i, a := range args {
		if _, err := json.Marshal(a); err != nil {
			safe[i] = fmt.Sprintf("%v", a)
			continue
		}
		safe[i] = a
	}
	b, _ := json.Marshal(safe)
	return b
}

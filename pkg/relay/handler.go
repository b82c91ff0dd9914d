package relay

import (
	"context"
	"fmt"
	"reflect"

	"github.com/randalmurphal/relay/pkg/relay/codec"
)

// Handler processes one inbound event.
//
// args holds the payload without the correlation id. A non-nil error (or a
// panic) is logged and recorded by the messenger; it never reaches the
// transport and does not answer the request.
type Handler func(ctx context.Context, rc ResponseContext, args Args) error

// Args is the positional payload of an inbound event.
//
// Over an in-process transport the values are exactly what the sender
// passed. Over a network transport they are json.RawMessage values; use Arg
// to get a typed value in either case.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Arg returns argument i as a T.
func Arg[T any](args Args, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("%w: argument %d of %d", ErrMissingArg, i, len(args))
	}
	v, err := codec.Decode[T](args[i])
	if err != nil {
		return zero, fmt.Errorf("argument %d: %w", i, err)
	}
	return v, nil
}

var (
	contextType  = reflect.TypeFor[context.Context]()
	responseType = reflect.TypeFor[ResponseContext]()
	errorType    = reflect.TypeFor[error]()
)

// Func adapts a plain function to a Handler.
//
// fn has the shape
//
//	func([context.Context,] [ResponseContext,] T1, ..., Tn [, ...V]) [R] [error]
//
// Each argument is decoded into its parameter type. A request carrying
// fewer arguments than fn's fixed parameters fails with ErrMissingArg, and
// more than it accepts with ErrTooManyArgs. When fn returns a value R and no
// error, R is sent as the answer.
//
//	m.On("sum", relay.MustFunc(func(nums ...float64) float64 {
//	    var total float64
//	    for _, n := range nums {
//	        total += n
//	    }
//	    return total
//	}))
func Func(fn any) (Handler, error) {
	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, fmt.Errorf("relay: Func needs a function, got %T", fn)
	}
	ft := fv.Type()

	first := 0
	wantCtx := first < ft.NumIn() && ft.In(first) == contextType
	if wantCtx {
		first++
	}
	wantRC := first < ft.NumIn() && ft.In(first) == responseType
	if wantRC {
		first++
	}

	variadic := ft.IsVariadic()
	fixed := ft.NumIn() - first
	if variadic {
		fixed--
	}

	var hasValue, hasErr bool
	switch ft.NumOut() {
	case 0:
	case 1:
		hasErr = ft.Out(0) == errorType
		hasValue = !hasErr
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("relay: second result of %s must be error", ft)
		}
		hasValue, hasErr = true, true
	default:
		return nil, fmt.Errorf("relay: too many results in %s", ft)
	}

	return func(ctx context.Context, rc ResponseContext, args Args) error {
		if len(args) < fixed {
			return fmt.Errorf("%w: %s wants %d, got %d", ErrMissingArg, rc.Event(), fixed, len(args))
		}
		if !variadic && len(args) > fixed {
			return fmt.Errorf("%w: %s wants %d, got %d", ErrTooManyArgs, rc.Event(), fixed, len(args))
		}

		in := make([]reflect.Value, 0, first+len(args))
		if wantCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if wantRC {
			in = append(in, reflect.ValueOf(&rc).Elem())
		}
		for i, arg := range args {
			var pt reflect.Type
			if i < fixed {
				pt = ft.In(first + i)
			} else {
				pt = ft.In(ft.NumIn() - 1).Elem()
			}
			v, err := codec.DecodeValue(arg, pt)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}

		out := fv.Call(in)

		if hasErr {
			if ev := out[len(out)-1]; !ev.IsNil() {
				return ev.Interface().(error)
			}
		}
		if hasValue {
			rc.Respond(out[0].Interface())
		}
		return nil
	}, nil
}

// MustFunc is like Func but panics if fn has an unsupported signature.
func MustFunc(fn any) Handler {
	h, err := Func(fn)
	if err != nil {
		panic(err)
	}
	return h
}

// handlerConfig holds per-registration settings.
type handlerConfig struct {
	async bool
}

// HandlerOption configures a single On registration.
type HandlerOption func(*handlerConfig)

// WithAsync runs each invocation of the handler on its own goroutine.
func WithAsync() HandlerOption {
	return func(c *handlerConfig) {
		c.async = true
	}
}

// WithSync runs the handler on the transport's delivery goroutine, overriding
// WithAsyncHandlers.
func WithSync() HandlerOption {
	return func(c *handlerConfig) {
		c.async = false
	}
}

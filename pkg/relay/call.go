package relay

import (
	"context"
	"reflect"

	"github.com/randalmurphal/relay/pkg/relay/codec"
)

// Call is the caller's view of one request.
type Call struct {
	table *pendingTable
	req   *pendingRequest
}

// ID returns the request's correlation id.
func (c *Call) ID() CorrelationID { return c.req.key.id }

// Event returns the request event name.
func (c *Call) Event() string { return c.req.event }

// Peer returns the peer the request was sent to.
func (c *Call) Peer() PeerID { return c.req.key.peer }

// Done is closed when the request has ended.
func (c *Call) Done() <-chan struct{} { return c.req.done }

// Result blocks until the request has ended and returns the answer or a
// *CancelledError. Every request ends once the messenger's timeout elapses.
func (c *Call) Result() (any, error) {
	<-c.req.done
	return c.req.value, c.req.err
}

// Wait is like Result but gives up when ctx is done, cancelling the request
// with the context's cause. An answer that won the race is still returned.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.req.done:
	case <-ctx.Done():
		c.table.abandon(c.req, context.Cause(ctx))
		<-c.req.done
	}
	return c.req.value, c.req.err
}

// Cancel ends the request with context.Canceled. It reports whether this
// call ended it; false means the request had already ended.
func (c *Call) Cancel() bool {
	return c.table.abandon(c.req, context.Canceled)
}

// Sender issues requests. It is implemented by *Messenger and Target.
type Sender interface {
	Send(ctx context.Context, event string, args ...any) (*Call, error)
}

// Target addresses one peer of a messenger.
type Target struct {
	m    *Messenger
	peer PeerID
}

// Peer returns the addressed peer.
func (t Target) Peer() PeerID { return t.peer }

// Send emits a request to the peer.
func (t Target) Send(ctx context.Context, event string, args ...any) (*Call, error) {
	return t.m.send(ctx, t.peer, event, args)
}

// Request sends a request to the peer and waits for its answer.
func (t Target) Request(ctx context.Context, event string, args ...any) (any, error) {
	call, err := t.m.send(ctx, t.peer, event, args)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Publish emits a fire-and-forget event to the peer.
func (t Target) Publish(event string, args ...any) {
	t.m.publish(t.peer, event, args)
}

// SendAs sends a request through s and waits for an answer of type T.
//
// An answer that is not a T fails with *TypeMismatchError; a request that
// ends without an answer fails with *CancelledError.
//
//	n, err := relay.SendAs[int](ctx, m.To(peer), "count", "apples")
func SendAs[T any](ctx context.Context, s Sender, event string, args ...any) (T, error) {
	call, err := s.Send(ctx, event, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Await[T](ctx, call)
}

// Await waits for call and decodes its answer as a T.
func Await[T any](ctx context.Context, call *Call) (T, error) {
	var zero T
	v, err := call.Wait(ctx)
	if err != nil {
		return zero, err
	}
	t, err := codec.Decode[T](v)
	if err != nil {
		return zero, &TypeMismatchError{
			Event: call.Event(),
			ID:    call.ID(),
			Want:  reflect.TypeFor[T](),
			Got:   v,
			Err:   err,
		}
	}
	return t, nil
}

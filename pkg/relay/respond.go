package relay

import "sync/atomic"

// ResponseContext is the right to answer one inbound request.
//
// Respond emits at most one answer however many times, and from however many
// goroutines, it is called. Contexts for publications (id NoResponse) never
// emit anything.
type ResponseContext interface {
	// Event is the inbound event name.
	Event() string
	// ID is the correlation id the answer will echo.
	ID() CorrelationID
	// Peer is the sender of the request.
	Peer() PeerID
	// Respond sends value as the answer. Only the first call has an effect.
	Respond(value any)
	// Responded reports whether an answer has been sent.
	Responded() bool
}

// emitFunc sends one answer frame.
type emitFunc func(peer PeerID, event string, payload []any)

// newResponseContext builds the context for one inbound event. answerEvent
// is the event the answer is emitted on.
func newResponseContext(emit emitFunc, event, answerEvent string, id CorrelationID, peer PeerID) ResponseContext {
	if id == NoResponse {
		return silentResponder{event: event, peer: peer}
	}
	return &responder{
		emit:        emit,
		event:       event,
		answerEvent: answerEvent,
		id:          id,
		peer:        peer,
	}
}

// responder answers a request exactly once.
type responder struct {
	emit        emitFunc
	event       string
	answerEvent string
	id          CorrelationID
	peer        PeerID
	responded   atomic.Bool
}

func (r *responder) Event() string     { return r.event }
func (r *responder) ID() CorrelationID { return r.id }
func (r *responder) Peer() PeerID      { return r.peer }
func (r *responder) Responded() bool   { return r.responded.Load() }

// Respond claims the context and emits [id, value] on the answer event.
func (r *responder) Respond(value any) {
	if !r.responded.CompareAndSwap(false, true) {
		return
	}
	r.emit(r.peer, r.answerEvent, []any{int64(r.id), value})
}

// silentResponder is the context of a publication.
type silentResponder struct {
	event string
	peer  PeerID
}

func (s silentResponder) Event() string     { return s.event }
func (s silentResponder) ID() CorrelationID { return NoResponse }
func (s silentResponder) Peer() PeerID      { return s.peer }
func (s silentResponder) Respond(any)       {}
func (s silentResponder) Responded() bool   { return false }

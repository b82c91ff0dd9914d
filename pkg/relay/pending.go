package relay

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// pendingKey identifies a request within one messenger. The peer is part of
// the key because every peer of a hub may answer with the same id.
type pendingKey struct {
	peer PeerID
	id   CorrelationID
}

// pendingRequest is the bookkeeping for one request awaiting its answer.
// value and err are written once, by the goroutine that removed the request
// from the table, before done is closed.
type pendingRequest struct {
	key     pendingKey
	event   string
	start   time.Time
	timeout time.Duration
	span    trace.Span
	timer   timeoutController

	done  chan struct{}
	value any
	err   error
}

func newPendingRequest(key pendingKey, event string, timeout time.Duration, span trace.Span) *pendingRequest {
	return &pendingRequest{
		key:     key,
		event:   event,
		start:   time.Now(),
		timeout: timeout,
		span:    span,
		done:    make(chan struct{}),
	}
}

// pendingTable holds every request awaiting an answer.
//
// Each request leaves the table exactly once: through complete (an answer),
// cancel or abandon (timeout, caller cancellation) or drain (close). Only
// the caller that removed it finishes it.
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingRequest

	// onFinish runs after a request has been finished, outside the lock.
	onFinish func(*pendingRequest)
}

func newPendingTable(onFinish func(*pendingRequest)) *pendingTable {
	return &pendingTable{
		entries:  make(map[pendingKey]*pendingRequest),
		onFinish: onFinish,
	}
}

// register inserts req and arms its timeout controller. ctx is the caller's
// context; when it is done the request is cancelled with its cause.
func (t *pendingTable) register(ctx context.Context, req *pendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[req.key]; exists {
		return ErrDuplicateID
	}
	t.entries[req.key] = req

	// Armed under the lock so a callback cannot observe a half-registered request.
	req.timer = armTimeout(ctx, req.timeout,
		func() { t.abandon(req, ErrTimeout) },
		func(cause error) { t.abandon(req, cause) },
	)
	return nil
}

// complete removes the request for key and fulfils it with value.
// It returns false for unknown keys.
func (t *pendingTable) complete(key pendingKey, value any) bool {
	req := t.take(key, nil)
	if req == nil {
		return false
	}
	t.finish(req, value, nil)
	return true
}

// cancel removes the request for key and ends it with cause.
// It returns false for unknown keys.
func (t *pendingTable) cancel(key pendingKey, cause error) bool {
	req := t.take(key, nil)
	if req == nil {
		return false
	}
	t.finish(req, nil, &CancelledError{Event: req.event, ID: req.key.id, Cause: cause})
	return true
}

// abandon is cancel for a specific request. A newer request that reuses the
// key after a wrap is left alone.
func (t *pendingTable) abandon(req *pendingRequest, cause error) bool {
	if t.take(req.key, req) == nil {
		return false
	}
	t.finish(req, nil, &CancelledError{Event: req.event, ID: req.key.id, Cause: cause})
	return true
}

// drain cancels every request with cause and returns how many there were.
func (t *pendingTable) drain(cause error) int {
	t.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(t.entries))
	for key, req := range t.entries {
		reqs = append(reqs, req)
		delete(t.entries, key)
	}
	t.mu.Unlock()

	for _, req := range reqs {
		t.finish(req, nil, &CancelledError{Event: req.event, ID: req.key.id, Cause: cause})
	}
	return len(reqs)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// take removes and returns the entry for key. With expect set, the entry is
// only removed if it is expect.
func (t *pendingTable) take(key pendingKey, expect *pendingRequest) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.entries[key]
	if !ok || (expect != nil && req != expect) {
		return nil
	}
	delete(t.entries, key)
	return req
}

func (t *pendingTable) finish(req *pendingRequest, value any, err error) {
	req.timer.disarm()
	req.value = value
	req.err = err
	close(req.done)

	if t.onFinish != nil {
		t.onFinish(req)
	}
}

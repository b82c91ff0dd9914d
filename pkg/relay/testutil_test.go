package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// emitted is one Emit call seen by recordingTransport.
type emitted struct {
	peer    PeerID
	event   string
	payload []any
}

// recordingTransport records emits and lets tests inject inbound events
// synchronously.
type recordingTransport struct {
	mu        sync.Mutex
	emits     []emitted
	listeners map[string][]*recordedListener
	emitErr   error
}

type recordedListener struct {
	fn     Listener
	active bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{listeners: make(map[string][]*recordedListener)}
}

func (r *recordingTransport) Emit(peer PeerID, event string, payload []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emitErr != nil {
		return r.emitErr
	}
	r.emits = append(r.emits, emitted{peer: peer, event: event, payload: append([]any(nil), payload...)})
	return nil
}

func (r *recordingTransport) Subscribe(event string, listener Listener) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := &recordedListener{fn: listener, active: true}
	r.listeners[event] = append(r.listeners[event], l)
	return SubscriptionFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		l.active = false
	}), nil
}

// deliver invokes every active listener for event on the calling goroutine.
func (r *recordingTransport) deliver(peer PeerID, event string, payload ...any) {
	r.mu.Lock()
	var fns []Listener
	for _, l := range r.listeners[event] {
		if l.active {
			fns = append(fns, l.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(peer, payload)
	}
}

func (r *recordingTransport) sent() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.emits...)
}

func (r *recordingTransport) subscribers(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.listeners[event] {
		if l.active {
			n++
		}
	}
	return n
}

var errEmit = errors.New("emit failed")

// lockedBuffer collects JSON log lines written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lookup returns the last record with msg, or nil.
func (b *lockedBuffer) lookup(msg string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var record map[string]any
		if json.Unmarshal(scanner.Bytes(), &record) == nil && record["msg"] == msg {
			found = record
		}
	}
	return found
}

func (b *lockedBuffer) find(t *testing.T, msg string) map[string]any {
	t.Helper()
	record := b.lookup(msg)
	require.NotNil(t, record, "no %q record", msg)
	return record
}

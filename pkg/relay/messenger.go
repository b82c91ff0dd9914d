package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay/deadletter"
	"github.com/randalmurphal/relay/pkg/relay/observability"
	"github.com/randalmurphal/relay/pkg/relay/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Messenger runs request/response exchanges over a one-way Transport.
//
// A Messenger owns its id generator, pending request table and
// subscriptions; several messengers may share one process. All methods are
// safe for concurrent use.
type Messenger struct {
	transport   Transport
	ids         *IDGenerator
	pending     *pendingTable
	answers     *registry.Registry[string, Subscription] // answer event -> subscription
	handlers    *registry.Registry[string, Subscription] // registration id -> subscription
	timeout     time.Duration
	answerEvent func(string) string
	async       bool
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	deadLetters deadletter.Store

	// ctx is handed to handlers and cancelled by Close.
	ctx    context.Context
	cancel context.CancelCauseFunc

	lifecycle  sync.RWMutex // orders closed against background.Add
	closed     atomic.Bool
	closeOnce  sync.Once
	background sync.WaitGroup
}

// New creates a Messenger on top of transport.
//
// Example:
//
//	a, b := local.NewPair(local.Config{})
//	server := relay.New(b)
//	server.On("ping", relay.MustFunc(func() string { return "pong" }))
//
//	client := relay.New(a, relay.WithTimeout(time.Second))
//	pong, err := relay.SendAs[string](ctx, client, "ping")
func New(transport Transport, opts ...Option) *Messenger {
	cfg := defaultMessengerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.ids == nil {
		cfg.ids = &IDGenerator{}
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	m := &Messenger{
		transport:   transport,
		ids:         cfg.ids,
		answers:     registry.New[string, Subscription](),
		handlers:    registry.New[string, Subscription](),
		timeout:     cfg.timeout,
		answerEvent: cfg.answerEvent,
		async:       cfg.async,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
		spans:       cfg.spans,
		deadLetters: cfg.deadLetters,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.pending = newPendingTable(m.finished)
	return m
}

// Publish emits a fire-and-forget event to NoPeer. The payload carries the
// NoResponse id, so receivers never answer it. Emit failures are logged.
func (m *Messenger) Publish(event string, args ...any) {
	m.publish(NoPeer, event, args)
}

// PublishMany emits a fire-and-forget event to each of peers.
func (m *Messenger) PublishMany(peers []PeerID, event string, args ...any) {
	for _, peer := range peers {
		m.publish(peer, event, args)
	}
}

func (m *Messenger) publish(peer PeerID, event string, args []any) {
	if m.closed.Load() {
		observability.LogEmitError(m.logger, event, ErrClosed)
		return
	}
	if err := m.transport.Emit(peer, event, withID(NoResponse, args)); err != nil {
		observability.LogEmitError(m.logger, event, err)
		return
	}
	m.metrics.RecordPublish(m.ctx, event)
}

// Send emits a request to NoPeer and returns its Call.
//
// The request ends when the answer arrives, the messenger's timeout
// elapses, ctx is done, or the Call is cancelled. An error is returned only
// if the request could not be emitted; the pending entry is then removed.
func (m *Messenger) Send(ctx context.Context, event string, args ...any) (*Call, error) {
	return m.send(ctx, NoPeer, event, args)
}

// Request sends a request to NoPeer and waits for its answer.
func (m *Messenger) Request(ctx context.Context, event string, args ...any) (any, error) {
	call, err := m.send(ctx, NoPeer, event, args)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// To returns a Target addressing peer.
func (m *Messenger) To(peer PeerID) Target {
	return Target{m: m, peer: peer}
}

func (m *Messenger) send(ctx context.Context, peer PeerID, event string, args []any) (*Call, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.ensureAnswers(m.answerEvent(event)); err != nil {
		return nil, err
	}

	id := m.ids.Next()
	_, span := m.spans.StartSendSpan(ctx, event, int64(id))
	req := newPendingRequest(pendingKey{peer: peer, id: id}, event, m.timeout, span)

	m.metrics.AddInFlight(m.ctx, event, 1)
	if err := m.pending.register(ctx, req); err != nil {
		m.metrics.AddInFlight(m.ctx, event, -1)
		m.spans.EndSpanWithError(span, err)
		return nil, fmt.Errorf("send %s#%s: %w", event, id, err)
	}

	// Close may have drained the table between the first check and register.
	if m.closed.Load() {
		m.pending.abandon(req, ErrClosed)
		return nil, ErrClosed
	}

	if err := m.transport.Emit(peer, event, withID(id, args)); err != nil {
		m.pending.abandon(req, err)
		observability.LogEmitError(m.logger, event, err)
		return nil, fmt.Errorf("emit %s#%s: %w", event, id, err)
	}

	observability.LogRequestSent(m.logger, event, int64(id), m.timeout)
	return &Call{table: m.pending, req: req}, nil
}

// ensureAnswers subscribes to answerEvent once per messenger.
func (m *Messenger) ensureAnswers(answerEvent string) error {
	_, err := m.answers.GetOrCreate(answerEvent, func() (Subscription, error) {
		if m.closed.Load() {
			return nil, ErrClosed
		}
		sub, err := m.transport.Subscribe(answerEvent, m.answerListener(answerEvent))
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", answerEvent, err)
		}
		return sub, nil
	})
	return err
}

// answerListener routes [id, value...] answers to pending requests.
func (m *Messenger) answerListener(answerEvent string) Listener {
	return func(peer PeerID, payload []any) {
		if len(payload) == 0 {
			observability.LogMalformedAnswer(m.logger, answerEvent, nil)
			return
		}
		id, ok := parseCorrelationID(payload[0])
		if !ok || id == NoResponse {
			observability.LogMalformedAnswer(m.logger, answerEvent, payload[0])
			return
		}

		value := answerValue(payload[1:])
		if m.pending.complete(pendingKey{peer: peer, id: id}, value) {
			return
		}
		// A request sent to NoPeer accepts its answer from whichever peer
		// replies first.
		if peer != NoPeer && m.pending.complete(pendingKey{peer: NoPeer, id: id}, value) {
			return
		}
		m.metrics.RecordStaleAnswer(m.ctx, answerEvent)
		observability.LogStaleAnswer(m.logger, answerEvent, int64(id))
	}
}

// answerValue turns the elements following the id into one result: nothing
// is nil, one element is itself, several become a list. A list of raw JSON
// values is kept raw so it can still be decoded into a slice or array type.
func answerValue(rest []any) any {
	switch len(rest) {
	case 0:
		return nil
	case 1:
		return rest[0]
	}

	raws := make([]json.RawMessage, 0, len(rest))
	for _, v := range rest {
		raw, ok := v.(json.RawMessage)
		if !ok {
			values := make([]any, len(rest))
			copy(values, rest)
			return values
		}
		raws = append(raws, raw)
	}
	joined, err := json.Marshal(raws)
	if err != nil {
		return append([]any(nil), rest...)
	}
	return json.RawMessage(joined)
}

// On registers handler for inbound events named event and returns a
// function that removes this registration only.
//
// Each inbound payload is split into its leading correlation id and the
// arguments. The handler gets a ResponseContext bound to that id; for
// publications (id NoResponse, or no leading id at all) the context never
// emits.
func (m *Messenger) On(event string, handler Handler, opts ...HandlerOption) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	cfg := handlerConfig{async: m.async}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub, err := m.transport.Subscribe(event, func(peer PeerID, payload []any) {
		m.dispatch(event, handler, cfg, peer, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event, err)
	}

	key := uuid.NewString()
	m.handlers.Register(key, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			if s, ok := m.handlers.Take(key); ok {
				s.Unsubscribe()
			}
		})
	}, nil
}

func (m *Messenger) dispatch(event string, handler Handler, cfg handlerConfig, peer PeerID, payload []any) {
	if m.closed.Load() {
		return
	}
	id, args := splitRequest(payload)
	rc := newResponseContext(m.emitAnswer, event, m.answerEvent(event), id, peer)

	if !cfg.async {
		m.invoke(m.ctx, handler, rc, args)
		return
	}
	m.Go(func(ctx context.Context) error {
		m.invoke(ctx, handler, rc, args)
		return nil
	})
}

// splitRequest separates the leading correlation id from the arguments.
// A payload whose first element is not an id is a publication from a
// sender that omits the sentinel.
func splitRequest(payload []any) (CorrelationID, Args) {
	if len(payload) == 0 {
		return NoResponse, Args{}
	}
	if id, ok := parseCorrelationID(payload[0]); ok {
		return id, Args(payload[1:])
	}
	return NoResponse, Args(payload)
}

func (m *Messenger) invoke(parent context.Context, handler Handler, rc ResponseContext, args Args) {
	ctx, span := m.spans.StartHandlerSpan(parent, rc.Event(), int64(rc.ID()))
	elapsed := observability.TimedOperation()

	err := m.call(ctx, handler, rc, args)

	m.metrics.RecordHandler(ctx, rc.Event(), elapsed(), err)
	if rc.Responded() {
		m.spans.AddSpanEvent(ctx, "relay.answered")
	}
	m.spans.EndSpanWithError(span, err)
	if err == nil {
		return
	}

	logger := observability.EnrichLogger(m.logger, rc.Event(), int64(rc.ID()), string(rc.Peer()))
	observability.LogHandlerError(logger, err)
	if m.deadLetters == nil {
		return
	}
	var herr *HandlerError
	panicked := errors.As(err, &herr) && herr.Panicked
	rec := deadletter.NewRecord(rc.Event(), int64(rc.ID()), string(rc.Peer()), args, err, panicked)
	if serr := m.deadLetters.Save(context.WithoutCancel(ctx), rec); serr != nil {
		observability.LogDeadLetterError(m.logger, rc.Event(), serr)
	}
}

// call runs handler and converts its error or panic into a *HandlerError.
func (m *Messenger) call(ctx context.Context, handler Handler, rc ResponseContext, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				Event:    rc.Event(),
				ID:       rc.ID(),
				Peer:     rc.Peer(),
				Err:      fmt.Errorf("%v", r),
				Panicked: true,
			}
		}
	}()

	if herr := handler(ctx, rc, args); herr != nil {
		return &HandlerError{Event: rc.Event(), ID: rc.ID(), Peer: rc.Peer(), Err: herr}
	}
	return nil
}

func (m *Messenger) emitAnswer(peer PeerID, event string, payload []any) {
	if err := m.transport.Emit(peer, event, payload); err != nil {
		observability.LogEmitError(m.logger, event, err)
	}
}

// taskKey marks the context handed to Go tasks and asynchronous handlers.
type taskKey struct{}

// Go runs fn on its own goroutine with the messenger's context. Errors and
// panics are logged and never propagate. Shutdown waits for every fn to
// return. fn is not run once the messenger is closed.
func (m *Messenger) Go(fn func(ctx context.Context) error) {
	m.lifecycle.RLock()
	if m.closed.Load() {
		m.lifecycle.RUnlock()
		return
	}
	m.background.Add(1)
	m.lifecycle.RUnlock()

	go func() {
		defer m.background.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("background task panicked", slog.Any("panic", r))
			}
		}()
		if err := fn(context.WithValue(m.ctx, taskKey{}, m)); err != nil {
			m.logger.Error("background task failed", slog.String("error", err.Error()))
		}
	}()
}

// finished records the outcome of a request once it has left the table.
func (m *Messenger) finished(req *pendingRequest) {
	outcome := outcomeOf(req.err)
	ctx := trace.ContextWithSpan(context.Background(), req.span)

	m.metrics.AddInFlight(ctx, req.event, -1)
	m.metrics.RecordRequest(ctx, req.event, outcome, time.Since(req.start))
	if outcome == observability.OutcomeTimeout {
		logger := observability.EnrichLogger(m.logger, req.event, int64(req.key.id), string(req.key.peer))
		observability.LogRequestTimeout(logger, req.timeout)
	}
	m.spans.AddSpanEvent(ctx, "relay.finished", attribute.String("relay.outcome", outcome))
	m.spans.EndSpanWithError(req.span, req.err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeFulfilled
	case errors.Is(err, ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, ErrClosed):
		return observability.OutcomeClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.OutcomeCancelled
	default:
		return observability.OutcomeFailed
	}
}

// Pending returns the number of requests awaiting an answer.
func (m *Messenger) Pending() int {
	return m.pending.len()
}

// Close cancels every pending request with ErrClosed, removes all
// subscriptions and cancels the handler context. It does not wait for
// asynchronous handlers or Go tasks, so it may be called from one; use
// Shutdown to wait. The transport is not closed. Close is idempotent.
func (m *Messenger) Close() error {
	m.closeOnce.Do(func() {
		m.lifecycle.Lock()
		m.closed.Store(true)
		m.lifecycle.Unlock()

		m.cancel(ErrClosed)
		if n := m.pending.drain(ErrClosed); n > 0 {
			m.logger.Debug("cancelled pending requests", slog.Int("count", n))
		}
		for _, sub := range m.handlers.Drain() {
			sub.Unsubscribe()
		}
		for _, sub := range m.answers.Drain() {
			sub.Unsubscribe()
		}
	})
	return nil
}

// Shutdown closes m and waits until asynchronous handlers and Go tasks have
// returned or ctx is done, in which case it returns the cause of ctx.
//
// Called with the context of one of those tasks, Shutdown closes m and
// returns at once: waiting would include the caller itself.
func (m *Messenger) Shutdown(ctx context.Context) error {
	m.Close()
	if owner, _ := ctx.Value(taskKey{}).(*Messenger); owner == m {
		m.logger.Debug("shutdown from a background task; not waiting")
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// withID prepends id to args.
func withID(id CorrelationID, args []any) []any {
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, int64(id))
	return append(payload, args...)
}

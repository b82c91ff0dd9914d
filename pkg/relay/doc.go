/*
Package relay runs request/response exchanges over a transport that can only
emit named events one way.

# Overview

A Messenger sits on a Transport (anything with Emit and Subscribe) and adds
correlation: every request carries a fresh correlation id as the first
payload element, and the peer echoes that id in its answer. Answers may arrive
in any order; they are matched by id alone.

	a, b := local.NewPair(local.Config{})

	server := relay.New(b)
	server.On("ping", relay.MustFunc(func() string { return "pong" }))

	client := relay.New(a, relay.WithTimeout(time.Second))
	pong, err := relay.SendAs[string](ctx, client, "ping")

# Wire Shapes

	request      [id, arg1, arg2, ...]
	publication  [0, arg1, arg2, ...]
	answer       [id, value]

Answers are emitted on the request event itself unless WithAnswerEvent or
WithAnswerSuffix says otherwise. A handler sees the arguments without the id.

# Request Lifecycle

Send registers the request in a pending table before emitting it. The request
then ends exactly once, in one of these ways:
  - the answer arrives (the Call resolves with its value)
  - the messenger timeout elapses (*CancelledError wrapping ErrTimeout)
  - the caller's context is done or Call.Cancel is called
  - the messenger is closed (*CancelledError wrapping ErrClosed)

Late, duplicate and unknown answers are dropped and counted.

# Handlers

Handler receives a ResponseContext; its Respond sends at most one answer no
matter how often it is called. Publications get a context that never emits.
Func adapts ordinary functions with typed parameters:

	m.On("greet", relay.MustFunc(func(name string, times int) (string, error) {
	    if times < 1 {
	        return "", errors.New("times must be positive")
	    }
	    return strings.Repeat("hello "+name+" ", times), nil
	}))

Errors and panics are logged, counted and optionally written to a
deadletter.Store. They never reach the transport.

# Observability

Logging uses log/slog (WithLogger). Metrics and tracing use OpenTelemetry
and are enabled with WithMetrics and WithTracing.
*/
package relay

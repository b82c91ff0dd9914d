package relay

import (
	"context"

	relayerrors "github.com/randalmurphal/relay/pkg/relay/errors"
)

// RequestWithRetry sends a request through s and waits for its answer,
// repeating the whole exchange while the failure is transient (a timeout or
// an unavailable network transport). Each attempt uses a fresh id.
func RequestWithRetry(ctx context.Context, s Sender, cfg relayerrors.RetryConfig, event string, args ...any) (any, error) {
	result := relayerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (any, error) {
		call, err := s.Send(ctx, event, args...)
		if err != nil {
			return nil, err
		}
		return call.Wait(ctx)
	})
	return result.Value, result.Err
}

// SendWithRetry is RequestWithRetry with a typed answer. A type mismatch is
// permanent and is not retried.
func SendWithRetry[T any](ctx context.Context, s Sender, cfg relayerrors.RetryConfig, event string, args ...any) (T, error) {
	result := relayerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (T, error) {
		return SendAs[T](ctx, s, event, args...)
	})
	return result.Value, result.Err
}

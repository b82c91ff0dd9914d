package relay

import (
	"context"
	"time"
)

// timeoutController ends one pending request when its timeout elapses or
// when the caller's context is done, whichever comes first.
type timeoutController struct {
	timer   *time.Timer
	stopCtx func() bool
}

// armTimeout schedules onExpire after d and onCancel when ctx is done.
// A zero d or a context that is never done arms nothing for that source.
func armTimeout(ctx context.Context, d time.Duration, onExpire func(), onCancel func(cause error)) timeoutController {
	var tc timeoutController
	if d > 0 {
		tc.timer = time.AfterFunc(d, onExpire)
	}
	if ctx != nil && ctx.Done() != nil {
		tc.stopCtx = context.AfterFunc(ctx, func() {
			onCancel(context.Cause(ctx))
		})
	}
	return tc
}

// disarm releases the timer and the context watcher. A callback that is
// already running is not interrupted; the pending table makes sure only one
// of them ends the request.
func (tc timeoutController) disarm() {
	if tc.timer != nil {
		tc.timer.Stop()
	}
	if tc.stopCtx != nil {
		tc.stopCtx()
	}
}

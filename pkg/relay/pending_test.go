package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestRequest(id CorrelationID, timeout time.Duration) *pendingRequest {
	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "test")
	return newPendingRequest(pendingKey{id: id}, "ev", timeout, span)
}

func TestPendingTable_Complete(t *testing.T) {
	var finished atomic.Int32
	table := newPendingTable(func(*pendingRequest) { finished.Add(1) })

	req := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(context.Background(), req))
	assert.Equal(t, 1, table.len())

	assert.True(t, table.complete(req.key, "answer"))
	assert.False(t, table.complete(req.key, "again"), "second answer is stale")

	<-req.done
	assert.Equal(t, "answer", req.value)
	assert.NoError(t, req.err)
	assert.Equal(t, 0, table.len())
	assert.Equal(t, int32(1), finished.Load())
}

func TestPendingTable_DuplicateID(t *testing.T) {
	table := newPendingTable(nil)
	first := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(context.Background(), first))

	err := table.register(context.Background(), newTestRequest(1, time.Minute))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, table.len())
}

func TestPendingTable_CompleteAfterCancel(t *testing.T) {
	table := newPendingTable(nil)
	req := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(context.Background(), req))

	assert.True(t, table.cancel(req.key, ErrTimeout))
	assert.False(t, table.complete(req.key, "late"))

	<-req.done
	assert.Nil(t, req.value)
	var cerr *CancelledError
	require.ErrorAs(t, req.err, &cerr)
	assert.True(t, cerr.Timeout())
	assert.ErrorIs(t, req.err, ErrCancelled)
}

func TestPendingTable_Timeout(t *testing.T) {
	done := make(chan *pendingRequest, 1)
	table := newPendingTable(func(r *pendingRequest) { done <- r })

	req := newTestRequest(1, 20*time.Millisecond)
	require.NoError(t, table.register(context.Background(), req))

	select {
	case r := <-done:
		assert.Same(t, req, r)
		assert.ErrorIs(t, r.err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("request did not time out")
	}
	assert.Equal(t, 0, table.len())
}

func TestPendingTable_ContextCause(t *testing.T) {
	table := newPendingTable(nil)
	cause := errors.New("caller gave up")
	ctx, cancel := context.WithCancelCause(context.Background())

	req := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(ctx, req))
	cancel(cause)

	select {
	case <-req.done:
	case <-time.After(time.Second):
		t.Fatal("request was not cancelled")
	}
	assert.ErrorIs(t, req.err, cause)
	assert.ErrorIs(t, req.err, ErrCancelled)
}

func TestPendingTable_AbandonIgnoresReplacement(t *testing.T) {
	table := newPendingTable(nil)
	old := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(context.Background(), old))
	require.True(t, table.complete(old.key, nil))

	current := newTestRequest(1, time.Minute)
	require.NoError(t, table.register(context.Background(), current))

	assert.False(t, table.abandon(old, ErrTimeout), "old request must not remove its successor")
	assert.Equal(t, 1, table.len())
	assert.True(t, table.abandon(current, context.Canceled))
}

func TestPendingTable_Drain(t *testing.T) {
	table := newPendingTable(nil)
	reqs := make([]*pendingRequest, 3)
	for i := range reqs {
		reqs[i] = newTestRequest(CorrelationID(i+1), time.Minute)
		require.NoError(t, table.register(context.Background(), reqs[i]))
	}

	assert.Equal(t, 3, table.drain(ErrClosed))
	assert.Equal(t, 0, table.len())
	for _, r := range reqs {
		<-r.done
		assert.ErrorIs(t, r.err, ErrClosed)
	}
	assert.Equal(t, 0, table.drain(ErrClosed))
}

func TestPendingTable_ExactlyOnceUnderRace(t *testing.T) {
	for range 200 {
		var finished atomic.Int32
		table := newPendingTable(func(*pendingRequest) { finished.Add(1) })
		req := newTestRequest(1, time.Minute)
		require.NoError(t, table.register(context.Background(), req))

		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			if table.complete(req.key, "v") {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if table.cancel(req.key, context.Canceled) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			wins.Add(int32(table.drain(ErrClosed)))
		}()
		wg.Wait()
		<-req.done

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(1), finished.Load())
	}
}

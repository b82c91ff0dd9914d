// Package deadletter records handler invocations that failed so they can be
// inspected or replayed later.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay/codec"
)

// Store persists dead letters.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a record. A record with an existing ID is replaced.
	Save(ctx context.Context, rec Record) error

	// Get retrieves a record by ID.
	// Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// List returns up to limit records, oldest first. A limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Record, error)

	// ListByEvent returns every record for an event, oldest first.
	// Returns empty slice (not error) if there are none.
	ListByEvent(ctx context.Context, event string) ([]Record, error)

	// Delete removes a record.
	// Returns nil if it doesn't exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Record describes one failed handler invocation.
type Record struct {
	ID            uuid.UUID
	Event         string
	CorrelationID int64
	Peer          string
	Args          []byte // JSON array of the handler arguments
	Error         string
	Panic         bool
	FailedAt      time.Time
}

// NewRecord builds a record for a handler that failed with err.
// Arguments that cannot be encoded are stored in their printed form.
func NewRecord(event string, id int64, peer string, args []any, err error, panicked bool) Record {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return Record{
		ID:            uuid.New(),
		Event:         event,
		CorrelationID: id,
		Peer:          peer,
		Args:          codec.MarshalArgs(args),
		Error:         msg,
		Panic:         panicked,
		FailedAt:      time.Now().UTC(),
	}
}

// String returns a one-line summary of the record.
func (r Record) String() string {
	kind := "error"
	if r.Panic {
		kind = "panic"
	}
	return fmt.Sprintf("%s %s event=%s id=%d %s: %s args=%s",
		r.FailedAt.Format(time.RFC3339), r.ID, r.Event, r.CorrelationID, kind, r.Error, r.Args)
}

// Sentinel errors for dead-letter operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("dead letter not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("dead letter store closed")

	// ErrFull indicates a bounded store has reached its capacity.
	ErrFull = errors.New("dead letter store full")
)

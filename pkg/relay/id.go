package relay

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/randalmurphal/relay/pkg/relay/codec"
)

// CorrelationID ties a request to its answer.
type CorrelationID int64

// NoResponse is the sentinel id carried by publications. No answer is ever
// sent for it.
const NoResponse CorrelationID = 0

// String returns the decimal form of the id.
func (id CorrelationID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IDGenerator issues correlation ids.
//
// Ids increase by one per call and wrap from math.MaxInt64 back to 1, so
// NoResponse is never issued. The zero value is ready to use and starts at 1.
// Wrapping does not check whether an id is still pending; a collision is
// reported by Send as ErrDuplicateID.
type IDGenerator struct {
	last atomic.Int64
}

// NewIDGenerator returns a generator whose first id follows last.
func NewIDGenerator(last CorrelationID) *IDGenerator {
	g := &IDGenerator{}
	g.last.Store(int64(last))
	return g
}

// Next returns the next id. It is safe for concurrent use.
func (g *IDGenerator) Next() CorrelationID {
	for {
		cur := g.last.Load()
		next := cur + 1
		if cur == math.MaxInt64 || cur < 0 {
			next = 1
		}
		if g.last.CompareAndSwap(cur, next) {
			return CorrelationID(next)
		}
	}
}

// parseCorrelationID reads a leading payload element as an id.
// Negative numbers are not ids.
func parseCorrelationID(v any) (CorrelationID, bool) {
	if id, ok := v.(CorrelationID); ok {
		return id, id >= 0
	}
	n, ok := codec.Int64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return CorrelationID(n), true
}

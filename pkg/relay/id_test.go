package relay

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_StartsAtOne(t *testing.T) {
	var g IDGenerator
	assert.Equal(t, CorrelationID(1), g.Next())
	assert.Equal(t, CorrelationID(2), g.Next())
	assert.Equal(t, CorrelationID(3), g.Next())
}

func TestIDGenerator_WrapsPastZero(t *testing.T) {
	g := NewIDGenerator(math.MaxInt64 - 1)

	assert.Equal(t, CorrelationID(math.MaxInt64), g.Next())
	assert.Equal(t, CorrelationID(1), g.Next(), "wraps to 1, never to NoResponse")
	assert.Equal(t, CorrelationID(2), g.Next())
}

func TestIDGenerator_NegativeSeedRestartsAtOne(t *testing.T) {
	g := NewIDGenerator(-5)
	assert.Equal(t, CorrelationID(1), g.Next())
}

func TestIDGenerator_ConcurrentUnique(t *testing.T) {
	const (
		workers = 16
		perWork = 1000
	)
	g := NewIDGenerator(math.MaxInt64 - workers*perWork/2)

	var mu sync.Mutex
	seen := make(map[CorrelationID]bool, workers*perWork)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]CorrelationID, 0, perWork)
			for range perWork {
				local = append(local, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWork, "every id is unique")
	assert.False(t, seen[NoResponse], "NoResponse is never issued")
}

func TestParseCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want CorrelationID
		ok   bool
	}{
		{"int64", int64(7), 7, true},
		{"int", 7, 7, true},
		{"float64 from JSON", float64(7), 7, true},
		{"raw JSON", json.RawMessage("7"), 7, true},
		{"correlation id", CorrelationID(9), 9, true},
		{"zero", int64(0), NoResponse, true},
		{"negative", int64(-1), 0, false},
		{"fraction", 1.5, 0, false},
		{"string", "7", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseCorrelationID(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCorrelationID_String(t *testing.T) {
	assert.Equal(t, "42", CorrelationID(42).String())
}

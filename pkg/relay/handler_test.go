package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captured records the answer of one handler invocation.
type captured struct {
	payload []any
}

func (c *captured) context(id CorrelationID) ResponseContext {
	return newResponseContext(func(_ PeerID, _ string, p []any) { c.payload = p }, "ev", "ev", id, NoPeer)
}

func (c *captured) answer(t *testing.T) any {
	t.Helper()
	require.Len(t, c.payload, 2, "expected an answer")
	return c.payload[1]
}

func TestFunc_TypedArgsAndResult(t *testing.T) {
	h, err := Func(func(name string, times int) string {
		out := ""
		for range times {
			out += name
		}
		return out
	})
	require.NoError(t, err)

	var c captured
	require.NoError(t, h(context.Background(), c.context(1), Args{"ab", 3}))
	assert.Equal(t, "ababab", c.answer(t))
}

func TestFunc_RawJSONArgs(t *testing.T) {
	h := MustFunc(func(a, b float64) float64 { return a + b })

	var c captured
	require.NoError(t, h(context.Background(), c.context(1), Args{json.RawMessage("1.5"), json.RawMessage("2")}))
	assert.Equal(t, 3.5, c.answer(t))
}

func TestFunc_Variadic(t *testing.T) {
	sum := MustFunc(func(nums ...int) int {
		total := 0
		for _, n := range nums {
			total += n
		}
		return total
	})

	var c captured
	require.NoError(t, sum(context.Background(), c.context(1), Args{1, 2, 3}))
	assert.Equal(t, 6, c.answer(t))

	var empty captured
	require.NoError(t, sum(context.Background(), empty.context(2), Args{}))
	assert.Equal(t, 0, empty.answer(t))
}

func TestFunc_ContextAndResponseContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	h := MustFunc(func(ctx context.Context, rc ResponseContext, n int) {
		rc.Respond(ctx.Value(key{}).(string) + rc.Event())
	})

	var c captured
	require.NoError(t, h(ctx, c.context(1), Args{1}))
	assert.Equal(t, "vev", c.answer(t))
}

func TestFunc_ErrorSuppressesAnswer(t *testing.T) {
	boom := errors.New("boom")
	h := MustFunc(func(n int) (int, error) {
		if n < 0 {
			return 0, boom
		}
		return n * 2, nil
	})

	var c captured
	err := h(context.Background(), c.context(1), Args{-1})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, c.payload)

	require.NoError(t, h(context.Background(), c.context(2), Args{4}))
	assert.Equal(t, 8, c.answer(t))
}

func TestFunc_ArgumentErrors(t *testing.T) {
	h := MustFunc(func(a string, b int) {})

	var c captured
	err := h(context.Background(), c.context(1), Args{"x"})
	assert.ErrorIs(t, err, ErrMissingArg)

	err = h(context.Background(), c.context(1), Args{"x", 1, 2})
	assert.ErrorIs(t, err, ErrTooManyArgs)

	err = h(context.Background(), c.context(1), Args{"x", "not an int"})
	assert.Error(t, err)
	assert.Nil(t, c.payload)
}

func TestFunc_BadSignatures(t *testing.T) {
	tests := []struct {
		name string
		fn   any
	}{
		{"not a function", 42},
		{"nil", nil},
		{"nil func", (func())(nil)},
		{"second result not error", func() (int, int) { return 0, 0 }},
		{"three results", func() (int, int, error) { return 0, 0, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Func(tt.fn)
			assert.Error(t, err)
		})
	}

	assert.Panics(t, func() { MustFunc("nope") })
}

func TestArg(t *testing.T) {
	args := Args{"s", json.RawMessage(`{"a":1}`), nil}

	s, err := Arg[string](args, 0)
	require.NoError(t, err)
	assert.Equal(t, "s", s)

	m, err := Arg[map[string]int](args, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, m)

	p, err := Arg[*int](args, 2)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = Arg[int](args, 0)
	assert.Error(t, err)

	_, err = Arg[string](args, 3)
	assert.ErrorIs(t, err, ErrMissingArg)

	assert.Equal(t, 3, args.Len())
}

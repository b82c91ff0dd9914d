package local_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/transport/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	peer    relay.PeerID
	payload []any
}

// collector records every delivery to one listener.
type collector struct {
	mu  sync.Mutex
	got []received
}

func (c *collector) listen(peer relay.PeerID, payload []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, received{peer: peer, payload: payload})
}

func (c *collector) all() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.got...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestPair_DeliversToOtherSide(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer a.Close()
	defer b.Close()

	var onA, onB collector
	_, err := a.Subscribe("greet", onA.listen)
	require.NoError(t, err)
	_, err = b.Subscribe("greet", onB.listen)
	require.NoError(t, err)

	require.NoError(t, a.Emit(relay.NoPeer, "greet", []any{int64(1), "hi"}))

	require.Eventually(t, func() bool { return onB.count() == 1 }, time.Second, 5*time.Millisecond)
	got := onB.all()[0]
	assert.Equal(t, relay.NoPeer, got.peer)
	assert.Equal(t, []any{int64(1), "hi"}, got.payload)
	assert.Zero(t, onA.count(), "sender must not receive its own event")
}

func TestPair_PreservesOrderPerSubscription(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer a.Close()
	defer b.Close()

	var c collector
	_, err := b.Subscribe("seq", c.listen)
	require.NoError(t, err)

	for i := range 100 {
		require.NoError(t, a.Emit(relay.NoPeer, "seq", []any{i}))
	}

	require.Eventually(t, func() bool { return c.count() == 100 }, time.Second, 5*time.Millisecond)
	for i, r := range c.all() {
		assert.Equal(t, i, r.payload[0])
	}
}

func TestPair_CopiesPayloadPerListener(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer a.Close()
	defer b.Close()

	mutated := make(chan struct{})
	_, err := b.Subscribe("x", func(_ relay.PeerID, payload []any) {
		payload[0] = "changed"
		close(mutated)
	})
	require.NoError(t, err)

	var c collector
	_, err = b.Subscribe("x", c.listen)
	require.NoError(t, err)

	payload := []any{"original"}
	require.NoError(t, a.Emit(relay.NoPeer, "x", payload))

	<-mutated
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "original", c.all()[0].payload[0])
	assert.Equal(t, "original", payload[0])
}

func TestPair_Unsubscribe(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer a.Close()
	defer b.Close()

	var c collector
	sub, err := b.Subscribe("x", c.listen)
	require.NoError(t, err)

	require.NoError(t, a.Emit(relay.NoPeer, "x", []any{1}))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()

	require.NoError(t, a.Emit(relay.NoPeer, "x", []any{2}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, c.count())
}

func TestPair_UnknownPeer(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer a.Close()
	defer b.Close()

	err := a.Emit("somebody", "x", nil)
	assert.ErrorIs(t, err, local.ErrUnknownPeer)
}

func TestEndpoint_Close(t *testing.T) {
	a, b := local.NewPair(local.Config{})
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")

	assert.ErrorIs(t, a.Emit(relay.NoPeer, "x", nil), local.ErrClosed)
	_, err := a.Subscribe("x", func(relay.PeerID, []any) {})
	assert.ErrorIs(t, err, local.ErrClosed)

	assert.Empty(t, b.Peers(), "closed endpoint is unlinked from its peer")
	// With no remote left, a NoPeer emit reaches nobody.
	assert.NoError(t, b.Emit(relay.NoPeer, "x", nil))
}

func TestNonBlocking_DropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	a, b := local.NewPair(local.Config{
		BufferSize:  1,
		NonBlocking: true,
		OnDrop: func(event, _ string) {
			if event == "slow" {
				dropped.Add(1)
			}
		},
	})
	defer a.Close()
	defer b.Close()

	release := make(chan struct{})
	_, err := b.Subscribe("slow", func(relay.PeerID, []any) { <-release })
	require.NoError(t, err)

	for range 10 {
		require.NoError(t, a.Emit(relay.NoPeer, "slow", nil))
	}
	close(release)

	assert.Positive(t, dropped.Load())
}

func TestHub_AddressesClients(t *testing.T) {
	hub := local.NewHub(local.Config{})
	defer hub.Close()

	c1, err := hub.Connect()
	require.NoError(t, err)
	defer c1.Close()
	c2, err := hub.Connect()
	require.NoError(t, err)
	defer c2.Close()

	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.ElementsMatch(t, []relay.PeerID{c1.ID(), c2.ID()}, hub.Peers())
	assert.Equal(t, []relay.PeerID{relay.NoPeer}, c1.Peers())

	var atHub, at1, at2 collector
	_, err = hub.Subscribe("up", atHub.listen)
	require.NoError(t, err)
	_, err = c1.Subscribe("down", at1.listen)
	require.NoError(t, err)
	_, err = c2.Subscribe("down", at2.listen)
	require.NoError(t, err)

	// Clients reach the hub and are identified by their id.
	require.NoError(t, c2.Emit(relay.NoPeer, "up", []any{"from c2"}))
	require.Eventually(t, func() bool { return atHub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, c2.ID(), atHub.all()[0].peer)

	// The hub addresses a single client.
	require.NoError(t, hub.Emit(c1.ID(), "down", []any{"only c1"}))
	require.Eventually(t, func() bool { return at1.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, relay.NoPeer, at1.all()[0].peer)

	// NoPeer from the hub broadcasts.
	require.NoError(t, hub.Emit(relay.NoPeer, "down", []any{"everyone"}))
	require.Eventually(t, func() bool { return at1.count() == 2 && at2.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_ClientCloseDisconnects(t *testing.T) {
	hub := local.NewHub(local.Config{})
	defer hub.Close()

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Empty(t, hub.Peers())
	assert.ErrorIs(t, hub.Emit(c.ID(), "x", nil), local.ErrUnknownPeer)
}

func TestHub_ConnectAfterClose(t *testing.T) {
	hub := local.NewHub(local.Config{})
	require.NoError(t, hub.Close())

	_, err := hub.Connect()
	assert.ErrorIs(t, err, local.ErrClosed)
}

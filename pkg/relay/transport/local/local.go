// Package local provides in-process relay transports: a connected pair of
// endpoints, and a hub that many client endpoints connect to.
//
//	client, server := local.NewPair(local.Config{})
//	defer client.Close()
//	defer server.Close()
//
// Payload values are handed over without encoding; every listener receives
// its own copy of the payload slice.
package local

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/transport/internal/fanout"
)

// Sentinel errors for local transports.
var (
	// ErrClosed indicates the endpoint has been closed.
	ErrClosed = errors.New("local transport closed")

	// ErrUnknownPeer indicates Emit addressed a peer that is not connected.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Config configures endpoint delivery.
type Config struct {
	// BufferSize is the queue length per subscription.
	// Default: 256
	BufferSize int

	// NonBlocking makes Emit drop events for full queues instead of waiting.
	// Default: false (blocking)
	NonBlocking bool

	// OnDrop is called when an event is dropped (non-blocking mode).
	OnDrop func(event, subscriptionID string)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	BufferSize: fanout.DefaultBufferSize,
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultConfig.BufferSize
	}
	return c
}

// Endpoint is one side of a local transport. It implements relay.Transport.
type Endpoint struct {
	// self is the id the remote ends use for this endpoint.
	self    relay.PeerID
	inbound *fanout.Bus

	mu      sync.RWMutex
	remotes map[relay.PeerID]*Endpoint

	closed atomic.Bool
}

var _ relay.Transport = (*Endpoint)(nil)

func newEndpoint(self relay.PeerID, config Config) *Endpoint {
	return &Endpoint{
		self:    self,
		inbound: fanout.New(fanout.Config(config)),
		remotes: make(map[relay.PeerID]*Endpoint),
	}
}

// NewPair returns two connected endpoints. Each addresses the other as
// relay.NoPeer.
func NewPair(config Config) (*Endpoint, *Endpoint) {
	config = config.withDefaults()
	a := newEndpoint(relay.NoPeer, config)
	b := newEndpoint(relay.NoPeer, config)
	link(a, b)
	return a, b
}

// link makes a and b reachable from each other.
func link(a, b *Endpoint) {
	a.mu.Lock()
	a.remotes[b.self] = b
	a.mu.Unlock()

	b.mu.Lock()
	b.remotes[a.self] = a
	b.mu.Unlock()
}

// Emit delivers event to peer. On an endpoint connected to several peers,
// relay.NoPeer broadcasts to all of them.
func (e *Endpoint) Emit(peer relay.PeerID, event string, payload []any) error {
	if e.closed.Load() {
		return ErrClosed
	}

	targets, err := e.targets(peer)
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range targets {
		if err := target.inbound.Deliver(e.self, event, payload); err != nil && !errors.Is(err, fanout.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Endpoint) targets(peer relay.PeerID) ([]*Endpoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if r, ok := e.remotes[peer]; ok {
		return []*Endpoint{r}, nil
	}
	if peer != relay.NoPeer {
		return nil, ErrUnknownPeer
	}
	targets := make([]*Endpoint, 0, len(e.remotes))
	for _, r := range e.remotes {
		targets = append(targets, r)
	}
	return targets, nil
}

// Subscribe registers listener for inbound events named event.
func (e *Endpoint) Subscribe(event string, listener relay.Listener) (relay.Subscription, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := e.inbound.Subscribe(event, listener)
	if err != nil {
		return nil, ErrClosed
	}
	return sub, nil
}

// Peers returns the ids of the connected remote endpoints, sorted.
func (e *Endpoint) Peers() []relay.PeerID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	peers := make([]relay.PeerID, 0, len(e.remotes))
	for id := range e.remotes {
		peers = append(peers, id)
	}
	slices.Sort(peers)
	return peers
}

// ID returns the id remote ends use for this endpoint.
func (e *Endpoint) ID() relay.PeerID {
	return e.self
}

// Close stops delivery to this endpoint and disconnects it from its peers.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.inbound.Close()

	e.mu.Lock()
	remotes := make([]*Endpoint, 0, len(e.remotes))
	for id, r := range e.remotes {
		remotes = append(remotes, r)
		delete(e.remotes, id)
	}
	e.mu.Unlock()

	for _, r := range remotes {
		r.mu.Lock()
		for id, other := range r.remotes {
			if other == e {
				delete(r.remotes, id)
			}
		}
		r.mu.Unlock()
	}
	return nil
}

// Hub is an endpoint that any number of clients connect to. Clients address
// the hub as relay.NoPeer; the hub addresses each client by a generated id.
type Hub struct {
	*Endpoint
	config Config
}

// NewHub creates a hub with no clients.
func NewHub(config Config) *Hub {
	config = config.withDefaults()
	return &Hub{
		Endpoint: newEndpoint(relay.NoPeer, config),
		config:   config,
	}
}

// Connect creates a client endpoint linked to the hub.
func (h *Hub) Connect() (*Endpoint, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	client := newEndpoint(relay.PeerID(uuid.NewString()), h.config)
	link(h.Endpoint, client)
	return client, nil
}

// Package fanout delivers inbound transport events to subscriptions.
//
// Each subscription has its own queue and goroutine, so delivery order is
// preserved per subscription and a slow listener only delays itself. The
// local and gRPC stream transports both deliver through a Bus.
package fanout

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay"
)

// ErrClosed indicates the bus has been closed.
var ErrClosed = errors.New("fanout bus closed")

// DefaultBufferSize is the queue length per subscription.
const DefaultBufferSize = 256

// Config configures delivery.
type Config struct {
	// BufferSize is the queue length per subscription.
	// Default: DefaultBufferSize
	BufferSize int

	// NonBlocking makes Deliver drop events for full queues instead of waiting.
	NonBlocking bool

	// OnDrop is called when an event is dropped (non-blocking mode).
	OnDrop func(event, subscriptionID string)
}

// delivery is one inbound event queued for a subscription.
type delivery struct {
	peer    relay.PeerID
	payload []any
}

// Bus fans inbound events out to subscriptions.
type Bus struct {
	config Config

	mu      sync.RWMutex
	byEvent map[string]map[string]*Subscription // event -> subscription ID -> subscription

	closed  atomic.Bool
	closeCh chan struct{}
}

// New creates a Bus with no subscriptions.
func New(config Config) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &Bus{
		config:  config,
		byEvent: make(map[string]map[string]*Subscription),
		closeCh: make(chan struct{}),
	}
}

// Subscription is one Subscribe registration. It implements
// relay.Subscription.
type Subscription struct {
	id         string
	event      string
	listener   relay.Listener
	deliveries chan delivery
	done       chan struct{}
	once       sync.Once
	bus        *Bus
}

// Subscribe starts a goroutine that runs listener for each event named
// event, in delivery order.
func (b *Bus) Subscribe(event string, listener relay.Listener) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:         uuid.NewString(),
		event:      event,
		listener:   listener,
		deliveries: make(chan delivery, b.config.BufferSize),
		done:       make(chan struct{}),
		bus:        b,
	}
	if b.byEvent[event] == nil {
		b.byEvent[event] = make(map[string]*Subscription)
	}
	b.byEvent[event][sub.id] = sub

	go sub.process()
	return sub, nil
}

// Deliver queues payload for every subscription to event. In blocking mode
// it waits while a subscription's queue is full.
func (b *Bus) Deliver(peer relay.PeerID, event string, payload []any) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.byEvent[event]))
	for _, sub := range b.byEvent[event] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		// Each listener gets its own copy.
		d := delivery{peer: peer, payload: slices.Clone(payload)}

		if b.config.NonBlocking {
			select {
			case sub.deliveries <- d:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(event, sub.id)
				}
			}
			continue
		}

		select {
		case sub.deliveries <- d:
		case <-sub.done:
		case <-b.closeCh:
			return ErrClosed
		}
	}
	return nil
}

// Close stops every subscription. Queued deliveries are discarded.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.closeCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for event, subs := range b.byEvent {
		for _, sub := range subs {
			sub.stop()
		}
		delete(b.byEvent, event)
	}
}

// process runs the listener for each queued delivery.
func (s *Subscription) process() {
	for {
		select {
		case d := <-s.deliveries:
			s.listener(d.peer, d.payload)
		case <-s.done:
			return
		}
	}
}

// Unsubscribe removes the subscription. Queued deliveries are discarded.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.byEvent[s.event]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.byEvent, s.event)
		}
	}
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

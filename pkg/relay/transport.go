package relay

// PeerID identifies the remote end of a transport.
type PeerID string

// NoPeer addresses the single upstream peer of a client transport. On a hub
// transport, emitting to NoPeer broadcasts to every connected peer.
const NoPeer PeerID = ""

// Transport is a one-way named-event channel.
//
// Emit is best effort; an error only reports a local failure (closed
// transport, unknown peer, unencodable payload). Listeners may be invoked
// concurrently and on any goroutine.
type Transport interface {
	// Emit sends event with payload to peer.
	Emit(peer PeerID, event string, payload []any) error

	// Subscribe registers listener for inbound events named event.
	Subscribe(event string, listener Listener) (Subscription, error)
}

// Listener receives one inbound event and the peer it came from.
type Listener func(peer PeerID, payload []any)

// Subscription is an active Subscribe registration.
type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

package grpcstream

import "errors"

// Sentinel errors for gRPC stream transports.
var (
	// ErrClosed indicates the server or client has been closed.
	ErrClosed = errors.New("grpc stream transport closed")

	// ErrUnknownPeer indicates Emit addressed a peer without an open stream.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrPeerGone indicates the peer's stream ended while an event was queued.
	ErrPeerGone = errors.New("peer stream ended")
)

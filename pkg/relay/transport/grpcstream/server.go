package grpcstream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/codec"
	"github.com/randalmurphal/relay/pkg/relay/transport/internal/fanout"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultBufferSize is the outbound queue length per connected peer and
// the inbound queue length per subscription.
const DefaultBufferSize = 256

// Server accepts relay streams and implements relay.Transport over them.
// Each stream is one peer.
type Server struct {
	logger     *slog.Logger
	bufferSize int
	onPeer     func(peer relay.PeerID, connected bool)

	inbound *fanout.Bus

	mu    sync.RWMutex
	conns map[relay.PeerID]*serverConn

	closed  atomic.Bool
	closeCh chan struct{}
}

var _ relay.Transport = (*Server)(nil)

// serverConn is one connected peer.
type serverConn struct {
	peer relay.PeerID
	out  chan *codec.Frame
	done chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger for connection events. Default: slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBufferSize sets the outbound queue length per peer and the inbound
// queue length per subscription. Default: DefaultBufferSize.
func WithBufferSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithPeerHook calls fn when a peer connects and again when it disconnects.
func WithPeerHook(fn func(peer relay.PeerID, connected bool)) ServerOption {
	return func(s *Server) {
		s.onPeer = fn
	}
}

// NewServer creates a Server with no peers. Register it on a grpc.Server
// (or use NewGRPCServer) to accept streams.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
		conns:      make(map[relay.PeerID]*serverConn),
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inbound = fanout.New(fanout.Config{BufferSize: s.bufferSize})
	return s
}

// Register adds the relay service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&serviceDesc, s)
}

// NewGRPCServer returns a grpc.Server with OpenTelemetry instrumentation and
// the relay service registered.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Emit queues event for peer. relay.NoPeer broadcasts to every connected
// peer.
func (s *Server) Emit(peer relay.PeerID, event string, payload []any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	f, err := codec.NewFrame(event, payload)
	if err != nil {
		return err
	}

	if peer != relay.NoPeer {
		s.mu.RLock()
		c, ok := s.conns[peer]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
		}
		return s.enqueue(c, f)
	}

	var errs []error
	for _, c := range s.snapshot() {
		if err := s.enqueue(c, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) enqueue(c *serverConn, f *codec.Frame) error {
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrPeerGone, c.peer)
	case <-s.closeCh:
		return ErrClosed
	}
}

// Subscribe registers listener for events received from any peer. Each
// subscription runs its listener on its own goroutine, in arrival order.
func (s *Server) Subscribe(event string, listener relay.Listener) (relay.Subscription, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := s.inbound.Subscribe(event, listener)
	if err != nil {
		return nil, ErrClosed
	}
	return sub, nil
}

// Peers returns the ids of the connected peers, sorted.
func (s *Server) Peers() []relay.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]relay.PeerID, 0, len(s.conns))
	for id := range s.conns {
		peers = append(peers, id)
	}
	slices.Sort(peers)
	return peers
}

// Close ends every stream and rejects new ones. It does not stop the
// grpc.Server.
func (s *Server) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.closeCh)
		s.inbound.Close()
	}
	return nil
}

func (s *Server) snapshot() []*serverConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) connect() *serverConn {
	c := &serverConn{
		peer: relay.PeerID(uuid.NewString()),
		out:  make(chan *codec.Frame, s.bufferSize),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[c.peer] = c
	s.mu.Unlock()

	s.logger.Info("peer connected", slog.String("peer", string(c.peer)))
	if s.onPeer != nil {
		s.onPeer(c.peer, true)
	}
	return c
}

func (s *Server) disconnect(c *serverConn, err error) {
	s.mu.Lock()
	delete(s.conns, c.peer)
	s.mu.Unlock()
	close(c.done)

	attrs := []any{slog.String("peer", string(c.peer))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Info("peer disconnected", attrs...)
	if s.onPeer != nil {
		s.onPeer(c.peer, false)
	}
}

// serveStream runs one peer: frames from the stream go to the subscription
// queues, queued frames go out on the stream.
func (s *Server) serveStream(stream grpc.ServerStream) (err error) {
	if s.closed.Load() {
		return status.Error(codes.Unavailable, ErrClosed.Error())
	}

	c := s.connect()
	defer func() { s.disconnect(c, err) }()

	received := make(chan error, 1)
	go func() {
		received <- s.receive(stream, c.peer)
	}()

	for {
		select {
		case f := <-c.out:
			if err := stream.SendMsg(f); err != nil {
				return err
			}
		case err := <-received:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-s.closeCh:
			return status.Error(codes.Unavailable, ErrClosed.Error())
		case <-stream.Context().Done():
			return status.FromContextError(stream.Context().Err()).Err()
		}
	}
}

func (s *Server) receive(stream grpc.ServerStream, peer relay.PeerID) error {
	for {
		var f codec.Frame
		if err := stream.RecvMsg(&f); err != nil {
			return err
		}
		if err := s.inbound.Deliver(peer, f.Event, f.Values()); err != nil {
			return ErrClosed
		}
	}
}

package grpcstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/relay/pkg/relay"
	"github.com/randalmurphal/relay/pkg/relay/codec"
	"github.com/randalmurphal/relay/pkg/relay/transport/internal/fanout"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the dialing side of a relay stream. It implements
// relay.Transport; its only peer is the server, addressed as relay.NoPeer.
type Client struct {
	conn   *grpc.ClientConn // set when the client owns the connection
	stream grpc.ClientStream
	cancel context.CancelFunc

	inbound *fanout.Bus

	sendMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	err  error // why the stream ended; read after done is closed
}

var _ relay.Transport = (*Client)(nil)

// DefaultDialOptions returns the options Dial uses before the caller's:
// plaintext transport credentials and OpenTelemetry instrumentation.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial connects to a relay server at addr and opens the stream.
// Closing the returned client also closes the connection.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(addr, append(DefaultDialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := NewClient(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// NewClient opens a relay stream on an existing connection. ctx bounds
// opening the stream only; the stream lives until Close.
func NewClient(ctx context.Context, cc grpc.ClientConnInterface) (*Client, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	opened := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-opened:
		default:
			cancel()
		}
	})
	defer stop()

	stream, err := cc.NewStream(streamCtx, &serviceDesc.Streams[0], streamMethod,
		grpc.CallContentSubtype(CodecName),
		grpc.WaitForReady(true),
	)
	close(opened)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("open relay stream: %w", ctxErr)
		}
		return nil, fmt.Errorf("open relay stream: %w", err)
	}

	c := &Client{
		stream:  stream,
		cancel:  cancel,
		inbound: fanout.New(fanout.Config{BufferSize: DefaultBufferSize}),
		done:    make(chan struct{}),
	}
	go c.receive()
	return c, nil
}

func (c *Client) receive() {
	defer close(c.done)
	for {
		var f codec.Frame
		if err := c.stream.RecvMsg(&f); err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				c.err = err
			}
			return
		}
		if err := c.inbound.Deliver(relay.NoPeer, f.Event, f.Values()); err != nil {
			return
		}
	}
}

// Emit sends event to the server. peer must be relay.NoPeer.
func (c *Client) Emit(peer relay.PeerID, event string, payload []any) error {
	if peer != relay.NoPeer {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if c.closed.Load() {
		return ErrClosed
	}
	f, err := codec.NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(f); err != nil {
		if errors.Is(err, io.EOF) {
			// The real status is reported by RecvMsg.
			<-c.done
			if c.err != nil {
				return fmt.Errorf("emit %s: %w", event, c.err)
			}
			return fmt.Errorf("emit %s: %w", event, ErrPeerGone)
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Subscribe registers listener for events received from the server. Each
// subscription runs its listener on its own goroutine, in arrival order.
func (c *Client) Subscribe(event string, listener relay.Listener) (relay.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := c.inbound.Subscribe(event, listener)
	if err != nil {
		return nil, ErrClosed
	}
	return sub, nil
}

// Done is closed when the stream has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the stream ended. It is nil while the stream is open and
// after a clean shutdown.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the stream and, for clients created by Dial, the connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()

	c.cancel()
	c.inbound.Close()
	<-c.done

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

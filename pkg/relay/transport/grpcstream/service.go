// Package grpcstream carries relay events over one bidirectional gRPC stream
// per peer.
//
// Frames are codec.Frame values encoded as JSON under the "relay-json"
// content subtype, so no generated protobuf code is involved. The server
// names each connected stream with a generated PeerID; a client always
// addresses the server as relay.NoPeer.
//
//	srv := grpcstream.NewServer()
//	gs := grpcstream.NewGRPCServer(srv)
//	go gs.Serve(lis)
//	server := relay.New(srv)
//
//	cl, err := grpcstream.Dial(ctx, addr)
//	client := relay.New(cl)
package grpcstream

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	// ServiceName is the gRPC service carrying relay streams.
	ServiceName = "relay.v1.Relay"

	// CodecName is the content subtype of relay frames.
	CodecName = "relay-json"

	streamMethod = "/" + ServiceName + "/Stream"
)

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameCodec encodes frames as JSON.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s marshal: %w", CodecName, err)
	}
	return b, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s unmarshal: %w", CodecName, err)
	}
	return nil
}

func (frameCodec) Name() string { return CodecName }

// streamServer is implemented by *Server.
type streamServer interface {
	serveStream(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*streamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Stream",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(streamServer).serveStream(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

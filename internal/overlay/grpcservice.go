// internal/overlay/grpcservice.go
// Hand-written gRPC service definition for the unary Exchange RPC. A real
// protoc-generated stub would define its own request/response message
// types, but protoc cannot be run in this build; wrapperspb.BytesValue
// (google.golang.org/protobuf/types/known/wrapperspb, already a compiled,
// importable proto.Message) carries the codec's own framed bytes opaquely,
// so no schema is fabricated. The ServiceDesc plumbing below is the same
// shape protoc-gen-go-grpc emits (its Register...Server /
// Unimplemented...Server pattern).
package overlay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// peerIDHeader carries the caller's self-reported peer id on every Exchange
// call, since there is no generated message field to put it in.
const peerIDHeader = "x-apron-peer"

// exchangeServer is implemented by grpcTransport; it is the target the
// generated-style handler below dispatches to.
type exchangeServer interface {
	handleExchange(ctx context.Context, peer string, req []byte) ([]byte, error)
}

// overlayServiceDesc mirrors what protoc-gen-go-grpc would emit for a
// service with one unary method, scoped down to the single RPC this
// transport needs.
var overlayServiceDesc = grpc.ServiceDesc{
	ServiceName: "apron.overlay.Overlay",
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler:    exchangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/overlay/overlay.proto",
}

func exchangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	peer := peerFromIncomingContext(ctx)
	if interceptor == nil {
		return srv.(exchangeServer).handleExchange(ctx, peer, in.GetValue())
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/apron.overlay.Overlay/Exchange"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(exchangeServer).handleExchange(ctx, peer, req.(*wrapperspb.BytesValue).GetValue())
	}
	return interceptor(ctx, in, info, handler)
}

func peerFromIncomingContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(peerIDHeader)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// registerOverlayServer wires srv into s the way generated
// RegisterXServiceServer functions do.
func registerOverlayServer(s *grpc.Server, srv exchangeServer) {
	s.RegisterService(&overlayServiceDesc, srv)
}

// overlayClient is the hand-written counterpart of a generated client stub.
type overlayClient struct {
	cc    grpc.ClientConnInterface
	selfID string
}

func newOverlayClient(cc grpc.ClientConnInterface, selfID string) *overlayClient {
	return &overlayClient{cc: cc, selfID: selfID}
}

func (c *overlayClient) Exchange(ctx context.Context, req []byte, opts ...grpc.CallOption) ([]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, peerIDHeader, c.selfID)
	out := new(wrapperspb.BytesValue)
	in := wrapperspb.Bytes(req)
	if err := c.cc.Invoke(ctx, "/apron.overlay.Overlay/Exchange", in, out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

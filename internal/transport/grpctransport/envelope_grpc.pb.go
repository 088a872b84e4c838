//go:build grpc_mtp

package grpctransport

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func init() {
	// Registers a process-wide JSON codec; individual calls opt in via
	// grpc.CallContentSubtype("json"), same as the teacher's node/proto
	// package, so unrelated protobuf-based gRPC clients are unaffected.
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// EnvelopeServiceClient is the client API for EnvelopeService.
type EnvelopeServiceClient interface {
	Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error)
}

type envelopeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewEnvelopeServiceClient creates a new EnvelopeServiceClient.
func NewEnvelopeServiceClient(cc grpc.ClientConnInterface) EnvelopeServiceClient {
	return &envelopeServiceClient{cc}
}

func (c *envelopeServiceClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/fipaplatform.transport.v1.EnvelopeService/Deliver", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EnvelopeServiceServer is the server API for EnvelopeService.
type EnvelopeServiceServer interface {
	Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error)
	mustEmbedUnimplementedEnvelopeServiceServer()
}

// UnimplementedEnvelopeServiceServer provides default implementations.
type UnimplementedEnvelopeServiceServer struct{}

func (UnimplementedEnvelopeServiceServer) Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Deliver not implemented")
}
func (UnimplementedEnvelopeServiceServer) mustEmbedUnimplementedEnvelopeServiceServer() {}

// RegisterEnvelopeServiceServer registers the EnvelopeService with a gRPC server.
func RegisterEnvelopeServiceServer(s grpc.ServiceRegistrar, srv EnvelopeServiceServer) {
	s.RegisterService(&EnvelopeService_ServiceDesc, srv)
}

func _EnvelopeService_Deliver_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EnvelopeServiceServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fipaplatform.transport.v1.EnvelopeService/Deliver"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EnvelopeServiceServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// EnvelopeService_ServiceDesc is the grpc.ServiceDesc for EnvelopeService.
var EnvelopeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fipaplatform.transport.v1.EnvelopeService",
	HandlerType: (*EnvelopeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: _EnvelopeService_Deliver_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "envelope.proto",
}

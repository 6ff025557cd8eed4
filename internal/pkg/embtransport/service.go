package embtransport

import (
	"context"

	"google.golang.org/grpc"
)

// FrameKind tags a BatchFrame as carrying a batch (a stream's first batch
// frame also carries the schema message) or signalling end-of-stream.
type FrameKind int

const (
	FrameBatch FrameKind = iota
	FrameEnd
)

// Ticket addresses one channel's pull stream (spec.md §4/§6: "ticket
// encodes channel").
type Ticket struct {
	Channel string
}

// BatchFrame is one wire frame of the data-plane stream.
type BatchFrame struct {
	Kind    FrameKind
	Payload []byte
}

type ReleaseRequest struct {
	Channel string
}

type ReleaseResponse struct{}

// DataPlaneServer is implemented by the worker runtime (embworker) to
// serve fetch/release for its locally-hosted shuffle channels.
type DataPlaneServer interface {
	Fetch(*Ticket, DataPlane_FetchServer) error
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
}

type DataPlane_FetchServer interface {
	Send(*BatchFrame) error
	grpc.ServerStream
}

type dataPlaneFetchServer struct{ grpc.ServerStream }

func (x *dataPlaneFetchServer) Send(m *BatchFrame) error { return x.ServerStream.SendMsg(m) }

func _DataPlane_Fetch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(Ticket)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DataPlaneServer).Fetch(m, &dataPlaneFetchServer{stream})
}

func _DataPlane_Release_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DataPlaneServer).Release(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.transport.DataPlane/Release"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DataPlaneServer).Release(ctx, req.(*ReleaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// DataPlane_ServiceDesc is hand-authored in the shape protoc-gen-go-grpc
// would emit from a .proto defining this same contract; see
// internal/pkg/embrpc for why this build has no protoc step.
var DataPlane_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "emberql.transport.DataPlane",
	HandlerType: (*DataPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Release", Handler: _DataPlane_Release_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Fetch", Handler: _DataPlane_Fetch_Handler, ServerStreams: true},
	},
	Metadata: "embtransport.go",
}

func RegisterDataPlaneServer(s *grpc.Server, srv DataPlaneServer) {
	s.RegisterService(&DataPlane_ServiceDesc, srv)
}

// DataPlaneClient is the consumer-side stub used by a worker pulling
// shuffle input from another worker, or by the driver pulling the final
// stage's result channel.
type DataPlaneClient interface {
	Fetch(ctx context.Context, in *Ticket, opts ...grpc.CallOption) (DataPlane_FetchClient, error)
	Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error)
}

type dataPlaneClient struct{ cc grpc.ClientConnInterface }

func NewDataPlaneClient(cc grpc.ClientConnInterface) DataPlaneClient {
	return &dataPlaneClient{cc}
}

func (c *dataPlaneClient) Fetch(ctx context.Context, in *Ticket, opts ...grpc.CallOption) (DataPlane_FetchClient, error) {
	stream, err := c.cc.NewStream(ctx, &DataPlane_ServiceDesc.Streams[0], "/emberql.transport.DataPlane/Fetch", opts...)
	if err != nil {
		return nil, err
	}
	x := &dataPlaneFetchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type DataPlane_FetchClient interface {
	Recv() (*BatchFrame, error)
	grpc.ClientStream
}

type dataPlaneFetchClient struct{ grpc.ClientStream }

func (x *dataPlaneFetchClient) Recv() (*BatchFrame, error) {
	m := new(BatchFrame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *dataPlaneClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error) {
	out := new(ReleaseResponse)
	if err := c.cc.Invoke(ctx, "/emberql.transport.DataPlane/Release", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

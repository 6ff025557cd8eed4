// Package embdispatch implements the C8 request dispatcher (spec.md
// §4.8): the wire-protocol front door clients submit plans to and stream
// results from. Grounded on the gRPC server pattern FeatureBaseDB/
// grafana-loki use (interceptor chain for recovery/logging via
// grpc-ecosystem/go-grpc-middleware, wired in internal/pkg/embrpc) and on
// the teacher's whisk.go request-routing shape, adapted from HTTP handlers
// to gRPC methods.
package embdispatch

import (
	"context"

	"google.golang.org/grpc"
)

// SessionKeyDTO is the wire shape of emberql.SessionKey.
type SessionKeyDTO struct {
	UserID    string
	SessionID string
}

// ResponseKind tags one ExecutePlanResponse/ReattachExecuteResponse frame
// (spec.md §4.8 "Result streaming").
type ResponseKind int32

const (
	RespBatch ResponseKind = iota
	RespHeartbeat
	RespDone
	RespError
)

// ExecutePlanRequest is spec.md §4.8 ExecutePlan.
type ExecutePlanRequest struct {
	Session      SessionKeyDTO
	PlanBytes    []byte
	Reattachable bool
	// OperationID lets a client pick its own id; if empty the dispatcher
	// generates one and returns it on the first response.
	OperationID string
}

// ExecutePlanResponse is one frame of the response stream. Every response
// carries a unique, per-operation monotonically increasing ResponseID
// (spec.md §4.8 "Every response carries a unique response_id").
type ExecutePlanResponse struct {
	OperationID  string
	ResponseID   uint64
	Kind         ResponseKind
	BatchPayload []byte // one arrow/ipc frame (schema or record message)
	ErrorCode    int32
	ErrorMessage string
}

type AnalyzePlanRequest struct {
	Session   SessionKeyDTO
	PlanBytes []byte
}

// FieldDescriptorDTO is one output column of the analyzed plan's schema.
type FieldDescriptorDTO struct {
	Name     string
	Type     string
	Nullable bool
}

type AnalyzePlanResponse struct {
	Fields  []FieldDescriptorDTO
	Explain string
}

type ConfigRequest struct {
	Session SessionKeyDTO
	Set     map[string]string
	GetKeys []string
}

type ConfigResponse struct {
	Values map[string]string
}

type InterruptRequest struct {
	Session     SessionKeyDTO
	OperationID string
}

type InterruptResponse struct {
	Interrupted bool
}

type ReattachExecuteRequest struct {
	Session           SessionKeyDTO
	OperationID       string
	LastResponseID    uint64
	HasLastResponseID bool
}

type ReleaseExecuteRequest struct {
	Session         SessionKeyDTO
	OperationID     string
	UntilResponseID uint64
}

type ReleaseExecuteResponse struct{}

type ReleaseSessionRequest struct {
	Session SessionKeyDTO
}

type ReleaseSessionResponse struct{}

// DispatchServer is the seven operations of spec.md §4.8.
type DispatchServer interface {
	ExecutePlan(*ExecutePlanRequest, Dispatch_ExecutePlanServer) error
	AnalyzePlan(context.Context, *AnalyzePlanRequest) (*AnalyzePlanResponse, error)
	Config(context.Context, *ConfigRequest) (*ConfigResponse, error)
	Interrupt(context.Context, *InterruptRequest) (*InterruptResponse, error)
	ReattachExecute(*ReattachExecuteRequest, Dispatch_ReattachExecuteServer) error
	ReleaseExecute(context.Context, *ReleaseExecuteRequest) (*ReleaseExecuteResponse, error)
	ReleaseSession(context.Context, *ReleaseSessionRequest) (*ReleaseSessionResponse, error)
}

type Dispatch_ExecutePlanServer interface {
	Send(*ExecutePlanResponse) error
	grpc.ServerStream
}

type dispatchExecutePlanServer struct{ grpc.ServerStream }

func (x *dispatchExecutePlanServer) Send(m *ExecutePlanResponse) error { return x.ServerStream.SendMsg(m) }

func _Dispatch_ExecutePlan_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecutePlanRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DispatchServer).ExecutePlan(m, &dispatchExecutePlanServer{stream})
}

type Dispatch_ReattachExecuteServer interface {
	Send(*ExecutePlanResponse) error
	grpc.ServerStream
}

type dispatchReattachExecuteServer struct{ grpc.ServerStream }

func (x *dispatchReattachExecuteServer) Send(m *ExecutePlanResponse) error { return x.ServerStream.SendMsg(m) }

func _Dispatch_ReattachExecute_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ReattachExecuteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DispatchServer).ReattachExecute(m, &dispatchReattachExecuteServer{stream})
}

func _Dispatch_AnalyzePlan_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AnalyzePlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).AnalyzePlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.dispatch.Dispatch/AnalyzePlan"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServer).AnalyzePlan(ctx, req.(*AnalyzePlanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatch_Config_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).Config(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.dispatch.Dispatch/Config"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServer).Config(ctx, req.(*ConfigRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatch_Interrupt_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InterruptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).Interrupt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.dispatch.Dispatch/Interrupt"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServer).Interrupt(ctx, req.(*InterruptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatch_ReleaseExecute_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReleaseExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).ReleaseExecute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.dispatch.Dispatch/ReleaseExecute"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServer).ReleaseExecute(ctx, req.(*ReleaseExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatch_ReleaseSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReleaseSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).ReleaseSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.dispatch.Dispatch/ReleaseSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServer).ReleaseSession(ctx, req.(*ReleaseSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var Dispatch_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "emberql.dispatch.Dispatch",
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzePlan", Handler: _Dispatch_AnalyzePlan_Handler},
		{MethodName: "Config", Handler: _Dispatch_Config_Handler},
		{MethodName: "Interrupt", Handler: _Dispatch_Interrupt_Handler},
		{MethodName: "ReleaseExecute", Handler: _Dispatch_ReleaseExecute_Handler},
		{MethodName: "ReleaseSession", Handler: _Dispatch_ReleaseSession_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecutePlan", Handler: _Dispatch_ExecutePlan_Handler, ServerStreams: true},
		{StreamName: "ReattachExecute", Handler: _Dispatch_ReattachExecute_Handler, ServerStreams: true},
	},
	Metadata: "embdispatch.go",
}

func RegisterDispatchServer(s *grpc.Server, srv DispatchServer) {
	s.RegisterService(&Dispatch_ServiceDesc, srv)
}

// DispatchClient is the client-side stub for the Dispatch service.
type DispatchClient interface {
	ExecutePlan(ctx context.Context, in *ExecutePlanRequest, opts ...grpc.CallOption) (Dispatch_ExecutePlanClient, error)
	AnalyzePlan(ctx context.Context, in *AnalyzePlanRequest, opts ...grpc.CallOption) (*AnalyzePlanResponse, error)
	Config(ctx context.Context, in *ConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error)
	Interrupt(ctx context.Context, in *InterruptRequest, opts ...grpc.CallOption) (*InterruptResponse, error)
	ReattachExecute(ctx context.Context, in *ReattachExecuteRequest, opts ...grpc.CallOption) (Dispatch_ReattachExecuteClient, error)
	ReleaseExecute(ctx context.Context, in *ReleaseExecuteRequest, opts ...grpc.CallOption) (*ReleaseExecuteResponse, error)
	ReleaseSession(ctx context.Context, in *ReleaseSessionRequest, opts ...grpc.CallOption) (*ReleaseSessionResponse, error)
}

type dispatchClient struct{ cc grpc.ClientConnInterface }

func NewDispatchClient(cc grpc.ClientConnInterface) DispatchClient {
	return &dispatchClient{cc}
}

type Dispatch_ExecutePlanClient interface {
	Recv() (*ExecutePlanResponse, error)
	grpc.ClientStream
}

type dispatchExecutePlanClient struct{ grpc.ClientStream }

func (x *dispatchExecutePlanClient) Recv() (*ExecutePlanResponse, error) {
	m := new(ExecutePlanResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *dispatchClient) ExecutePlan(ctx context.Context, in *ExecutePlanRequest, opts ...grpc.CallOption) (Dispatch_ExecutePlanClient, error) {
	stream, err := c.cc.NewStream(ctx, &Dispatch_ServiceDesc.Streams[0], "/emberql.dispatch.Dispatch/ExecutePlan", opts...)
	if err != nil {
		return nil, err
	}
	x := &dispatchExecutePlanClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Dispatch_ReattachExecuteClient interface {
	Recv() (*ExecutePlanResponse, error)
	grpc.ClientStream
}

type dispatchReattachExecuteClient struct{ grpc.ClientStream }

func (x *dispatchReattachExecuteClient) Recv() (*ExecutePlanResponse, error) {
	m := new(ExecutePlanResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *dispatchClient) ReattachExecute(ctx context.Context, in *ReattachExecuteRequest, opts ...grpc.CallOption) (Dispatch_ReattachExecuteClient, error) {
	stream, err := c.cc.NewStream(ctx, &Dispatch_ServiceDesc.Streams[1], "/emberql.dispatch.Dispatch/ReattachExecute", opts...)
	if err != nil {
		return nil, err
	}
	x := &dispatchReattachExecuteClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *dispatchClient) AnalyzePlan(ctx context.Context, in *AnalyzePlanRequest, opts ...grpc.CallOption) (*AnalyzePlanResponse, error) {
	out := new(AnalyzePlanResponse)
	if err := c.cc.Invoke(ctx, "/emberql.dispatch.Dispatch/AnalyzePlan", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchClient) Config(ctx context.Context, in *ConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	out := new(ConfigResponse)
	if err := c.cc.Invoke(ctx, "/emberql.dispatch.Dispatch/Config", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchClient) Interrupt(ctx context.Context, in *InterruptRequest, opts ...grpc.CallOption) (*InterruptResponse, error) {
	out := new(InterruptResponse)
	if err := c.cc.Invoke(ctx, "/emberql.dispatch.Dispatch/Interrupt", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchClient) ReleaseExecute(ctx context.Context, in *ReleaseExecuteRequest, opts ...grpc.CallOption) (*ReleaseExecuteResponse, error) {
	out := new(ReleaseExecuteResponse)
	if err := c.cc.Invoke(ctx, "/emberql.dispatch.Dispatch/ReleaseExecute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchClient) ReleaseSession(ctx context.Context, in *ReleaseSessionRequest, opts ...grpc.CallOption) (*ReleaseSessionResponse, error) {
	out := new(ReleaseSessionResponse)
	if err := c.cc.Invoke(ctx, "/emberql.dispatch.Dispatch/ReleaseSession", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Package embcontrol implements the driver/worker control plane (spec.md
// §6): RegisterWorker, ReportWorkerHeartbeat and ReportTaskStatus run
// worker-to-driver; RunTask, StopTask, RemoveStream and StopWorker run
// driver-to-worker. Both directions follow the same hand-authored
// grpc.ServiceDesc + gob-codec pattern internal/pkg/embtransport already
// establishes for the data plane (see internal/pkg/embrpc's codec comment
// for why there is no protoc step in this build).
package embcontrol

import (
	"context"

	"google.golang.org/grpc"
)

// RegisterWorkerRequest/Response is spec.md §6 RegisterWorker.
type RegisterWorkerRequest struct {
	WorkerID uint64
	Host     string
	Port     int
}

type RegisterWorkerResponse struct{}

// HeartbeatRequest/Response is spec.md §6 ReportWorkerHeartbeat.
type HeartbeatRequest struct {
	WorkerID uint64
}

type HeartbeatResponse struct{}

// TaskStatusRequest/Response is spec.md §6 ReportTaskStatus, a flattened
// wire shape for embworker.TaskStatus.
type TaskStatusRequest struct {
	TaskID   uint64
	Attempt  int
	State    int32
	Message  string
	Cause    int32
	Sequence uint64
}

type TaskStatusResponse struct{}

// DriverControlServer is implemented by the driver (a shim over
// *emberql.Scheduler, see driver_server.go) and called by every worker.
type DriverControlServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	ReportWorkerHeartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ReportTaskStatus(context.Context, *TaskStatusRequest) (*TaskStatusResponse, error)
}

func _DriverControl_RegisterWorker_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DriverControlServer).RegisterWorker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.DriverControl/RegisterWorker"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DriverControlServer).RegisterWorker(ctx, req.(*RegisterWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DriverControl_ReportWorkerHeartbeat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DriverControlServer).ReportWorkerHeartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.DriverControl/ReportWorkerHeartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DriverControlServer).ReportWorkerHeartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DriverControl_ReportTaskStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TaskStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DriverControlServer).ReportTaskStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.DriverControl/ReportTaskStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DriverControlServer).ReportTaskStatus(ctx, req.(*TaskStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var DriverControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "emberql.control.DriverControl",
	HandlerType: (*DriverControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterWorker", Handler: _DriverControl_RegisterWorker_Handler},
		{MethodName: "ReportWorkerHeartbeat", Handler: _DriverControl_ReportWorkerHeartbeat_Handler},
		{MethodName: "ReportTaskStatus", Handler: _DriverControl_ReportTaskStatus_Handler},
	},
	Metadata: "embcontrol.go",
}

func RegisterDriverControlServer(s *grpc.Server, srv DriverControlServer) {
	s.RegisterService(&DriverControl_ServiceDesc, srv)
}

// DriverControlClient is the worker-side stub dialed once per worker
// process (one connection back to the driver).
type DriverControlClient interface {
	RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error)
	ReportWorkerHeartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	ReportTaskStatus(ctx context.Context, in *TaskStatusRequest, opts ...grpc.CallOption) (*TaskStatusResponse, error)
}

type driverControlClient struct{ cc grpc.ClientConnInterface }

func NewDriverControlClient(cc grpc.ClientConnInterface) DriverControlClient {
	return &driverControlClient{cc}
}

func (c *driverControlClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	out := new(RegisterWorkerResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.DriverControl/RegisterWorker", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *driverControlClient) ReportWorkerHeartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.DriverControl/ReportWorkerHeartbeat", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *driverControlClient) ReportTaskStatus(ctx context.Context, in *TaskStatusRequest, opts ...grpc.CallOption) (*TaskStatusResponse, error) {
	out := new(TaskStatusResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.DriverControl/ReportTaskStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

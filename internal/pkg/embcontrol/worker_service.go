package embcontrol

import (
	"context"

	"google.golang.org/grpc"
)

// ShuffleSourceDTO is the wire shape of emberql.ShuffleSource /
// embworker.ShuffleInput.
type ShuffleSourceDTO struct {
	WorkerAddr string
	Channel    string
}

// RunTaskRequest/Response is spec.md §6 RunTask.
type RunTaskRequest struct {
	TaskID        uint64
	Attempt       int
	PlanBytes     []byte
	Partition     int
	NumPartitions int
	Consumption   int32
	OutputChannel string
	Inputs        []ShuffleSourceDTO
}

type RunTaskResponse struct{}

// StopTaskRequest/Response is spec.md §6 StopTask.
type StopTaskRequest struct {
	TaskID  uint64
	Attempt int
}

type StopTaskResponse struct{}

// RemoveStreamRequest/Response is spec.md §6 RemoveStream.
type RemoveStreamRequest struct {
	Channel string
}

type RemoveStreamResponse struct{}

// StopWorkerRequest/Response is spec.md §6 StopWorker.
type StopWorkerRequest struct{}
type StopWorkerResponse struct{}

// WorkerControlServer is implemented by each worker (a shim over
// *embworker.Runtime, see worker_server.go) and called by the driver.
type WorkerControlServer interface {
	RunTask(context.Context, *RunTaskRequest) (*RunTaskResponse, error)
	StopTask(context.Context, *StopTaskRequest) (*StopTaskResponse, error)
	RemoveStream(context.Context, *RemoveStreamRequest) (*RemoveStreamResponse, error)
	StopWorker(context.Context, *StopWorkerRequest) (*StopWorkerResponse, error)
}

func _WorkerControl_RunTask_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerControlServer).RunTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.WorkerControl/RunTask"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerControlServer).RunTask(ctx, req.(*RunTaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerControl_StopTask_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StopTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerControlServer).StopTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.WorkerControl/StopTask"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerControlServer).StopTask(ctx, req.(*StopTaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerControl_RemoveStream_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemoveStreamRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerControlServer).RemoveStream(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.WorkerControl/RemoveStream"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerControlServer).RemoveStream(ctx, req.(*RemoveStreamRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkerControl_StopWorker_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StopWorkerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerControlServer).StopWorker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/emberql.control.WorkerControl/StopWorker"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerControlServer).StopWorker(ctx, req.(*StopWorkerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var WorkerControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "emberql.control.WorkerControl",
	HandlerType: (*WorkerControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunTask", Handler: _WorkerControl_RunTask_Handler},
		{MethodName: "StopTask", Handler: _WorkerControl_StopTask_Handler},
		{MethodName: "RemoveStream", Handler: _WorkerControl_RemoveStream_Handler},
		{MethodName: "StopWorker", Handler: _WorkerControl_StopWorker_Handler},
	},
	Metadata: "embcontrol.go",
}

func RegisterWorkerControlServer(s *grpc.Server, srv WorkerControlServer) {
	s.RegisterService(&WorkerControl_ServiceDesc, srv)
}

// WorkerControlClient is the driver-side stub, one per registered worker.
type WorkerControlClient interface {
	RunTask(ctx context.Context, in *RunTaskRequest, opts ...grpc.CallOption) (*RunTaskResponse, error)
	StopTask(ctx context.Context, in *StopTaskRequest, opts ...grpc.CallOption) (*StopTaskResponse, error)
	RemoveStream(ctx context.Context, in *RemoveStreamRequest, opts ...grpc.CallOption) (*RemoveStreamResponse, error)
	StopWorker(ctx context.Context, in *StopWorkerRequest, opts ...grpc.CallOption) (*StopWorkerResponse, error)
}

type workerControlClient struct{ cc grpc.ClientConnInterface }

func NewWorkerControlClient(cc grpc.ClientConnInterface) WorkerControlClient {
	return &workerControlClient{cc}
}

func (c *workerControlClient) RunTask(ctx context.Context, in *RunTaskRequest, opts ...grpc.CallOption) (*RunTaskResponse, error) {
	out := new(RunTaskResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.WorkerControl/RunTask", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerControlClient) StopTask(ctx context.Context, in *StopTaskRequest, opts ...grpc.CallOption) (*StopTaskResponse, error) {
	out := new(StopTaskResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.WorkerControl/StopTask", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerControlClient) RemoveStream(ctx context.Context, in *RemoveStreamRequest, opts ...grpc.CallOption) (*RemoveStreamResponse, error) {
	out := new(RemoveStreamResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.WorkerControl/RemoveStream", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerControlClient) StopWorker(ctx context.Context, in *StopWorkerRequest, opts ...grpc.CallOption) (*StopWorkerResponse, error) {
	out := new(StopWorkerResponse)
	if err := c.cc.Invoke(ctx, "/emberql.control.WorkerControl/StopWorker", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

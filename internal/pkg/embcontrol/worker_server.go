package embcontrol

import (
	"context"

	"github.com/emberql/emberql/internal/pkg/embworker"
	"github.com/emberql/emberql/plan"
)

// RuntimeServer adapts *embworker.Runtime to WorkerControlServer: the
// worker-facing half of spec.md §6's four driver-to-worker RPCs.
type RuntimeServer struct {
	runtime *embworker.Runtime
}

func NewRuntimeServer(runtime *embworker.Runtime) *RuntimeServer {
	return &RuntimeServer{runtime: runtime}
}

func (s *RuntimeServer) RunTask(ctx context.Context, req *RunTaskRequest) (*RunTaskResponse, error) {
	inputs := make([]embworker.ShuffleInput, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = embworker.ShuffleInput{WorkerAddr: in.WorkerAddr, Channel: in.Channel}
	}
	err := s.runtime.RunTask(embworker.RunTaskRequest{
		TaskID:        req.TaskID,
		Attempt:       req.Attempt,
		PlanBytes:     req.PlanBytes,
		Partition:     req.Partition,
		NumPartitions: req.NumPartitions,
		Consumption:   plan.ConsumptionMode(req.Consumption),
		OutputChannel: req.OutputChannel,
		Inputs:        inputs,
	})
	if err != nil {
		return nil, err
	}
	return &RunTaskResponse{}, nil
}

func (s *RuntimeServer) StopTask(ctx context.Context, req *StopTaskRequest) (*StopTaskResponse, error) {
	if err := s.runtime.StopTask(req.TaskID, req.Attempt); err != nil {
		return nil, err
	}
	return &StopTaskResponse{}, nil
}

func (s *RuntimeServer) RemoveStream(ctx context.Context, req *RemoveStreamRequest) (*RemoveStreamResponse, error) {
	if err := s.runtime.RemoveStream(req.Channel); err != nil {
		return nil, err
	}
	return &RemoveStreamResponse{}, nil
}

func (s *RuntimeServer) StopWorker(ctx context.Context, req *StopWorkerRequest) (*StopWorkerResponse, error) {
	if err := s.runtime.StopWorker(); err != nil {
		return nil, err
	}
	return &StopWorkerResponse{}, nil
}

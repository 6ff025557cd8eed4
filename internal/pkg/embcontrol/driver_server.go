package embcontrol

import (
	"context"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embworker"
)

// SchedulerServer adapts *emberql.Scheduler to DriverControlServer: the
// driver-facing half of spec.md §6's three worker-to-driver RPCs.
type SchedulerServer struct {
	scheduler *emberql.Scheduler
}

func NewSchedulerServer(scheduler *emberql.Scheduler) *SchedulerServer {
	return &SchedulerServer{scheduler: scheduler}
}

func (s *SchedulerServer) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	if err := s.scheduler.RegisterWorker(emberql.WorkerID(req.WorkerID), req.Host, req.Port); err != nil {
		return nil, err
	}
	return &RegisterWorkerResponse{}, nil
}

func (s *SchedulerServer) ReportWorkerHeartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	s.scheduler.WorkerHeartbeat(emberql.WorkerID(req.WorkerID))
	return &HeartbeatResponse{}, nil
}

func (s *SchedulerServer) ReportTaskStatus(ctx context.Context, req *TaskStatusRequest) (*TaskStatusResponse, error) {
	s.scheduler.UpdateTask(emberql.TaskStatus{
		TaskID:   emberql.TaskID(req.TaskID),
		Attempt:  req.Attempt,
		State:    taskStateFromWire(req.State),
		Message:  req.Message,
		Cause:    causeFromWire(req.Cause),
		Sequence: req.Sequence,
	})
	return &TaskStatusResponse{}, nil
}

// taskStateFromWire/causeFromWire translate embworker's own small
// TaskState/Cause enums (its wire representation, carried as plain int32s
// so embworker never imports the root package) into the root package's
// larger state machine and taxonomy. The two enums are deliberately
// numbered differently — embworker only ever reports Running/Succeeded/
// Failed, never Created/Pending/Scheduled — so this is an explicit
// translation table, never a raw cast.
func taskStateFromWire(w int32) emberql.TaskState {
	switch embworker.TaskState(w) {
	case embworker.TaskRunning:
		return emberql.TaskRunning
	case embworker.TaskSucceeded:
		return emberql.TaskSucceeded
	case embworker.TaskFailed:
		return emberql.TaskFailed
	default:
		return emberql.TaskFailed
	}
}

func causeFromWire(w int32) emberql.Code {
	switch embworker.Cause(w) {
	case embworker.CauseInvalidPlan:
		return emberql.InvalidPlan
	case embworker.CauseUpstreamLost:
		return emberql.UpstreamLost
	case embworker.CauseCanceled:
		return emberql.Canceled
	default:
		return emberql.Internal
	}
}

package embcontrol

import (
	"context"

	"github.com/emberql/emberql/internal/pkg/embworker"
)

// StatusClient adapts a DriverControlClient to embworker.StatusReporter,
// the worker-process-local wiring for spec.md §6 ReportTaskStatus.
type StatusClient struct {
	client DriverControlClient
}

func NewStatusClient(client DriverControlClient) *StatusClient {
	return &StatusClient{client: client}
}

func (c *StatusClient) Report(status embworker.TaskStatus) error {
	_, err := c.client.ReportTaskStatus(context.Background(), &TaskStatusRequest{
		TaskID:   status.TaskID,
		Attempt:  status.Attempt,
		State:    int32(status.State),
		Message:  status.Message,
		Cause:    int32(status.Cause),
		Sequence: status.Sequence,
	})
	return err
}

// HeartbeatClient adapts a DriverControlClient to embworker.HeartbeatSink.
type HeartbeatClient struct {
	client DriverControlClient
}

func NewHeartbeatClient(client DriverControlClient) *HeartbeatClient {
	return &HeartbeatClient{client: client}
}

func (c *HeartbeatClient) ReportHeartbeat(ctx context.Context, workerID uint64) error {
	_, err := c.client.ReportWorkerHeartbeat(ctx, &HeartbeatRequest{WorkerID: workerID})
	return err
}

package embcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embworker"
	"github.com/emberql/emberql/plan"
)

func TestTaskStateFromWire(t *testing.T) {
	cases := []struct {
		in   embworker.TaskState
		want emberql.TaskState
	}{
		{embworker.TaskRunning, emberql.TaskRunning},
		{embworker.TaskSucceeded, emberql.TaskSucceeded},
		{embworker.TaskFailed, emberql.TaskFailed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, taskStateFromWire(int32(c.in)))
	}
}

func TestCauseFromWire(t *testing.T) {
	cases := []struct {
		in   embworker.Cause
		want emberql.Code
	}{
		{embworker.CauseInvalidPlan, emberql.InvalidPlan},
		{embworker.CauseUpstreamLost, emberql.UpstreamLost},
		{embworker.CauseCanceled, emberql.Canceled},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, causeFromWire(int32(c.in)))
	}
}

func TestCauseFromWire_UnknownFallsBackToInternal(t *testing.T) {
	assert.Equal(t, emberql.Internal, causeFromWire(int32(embworker.CauseNone)))
}

// fleetNoop/dispatcherNoop satisfy emberql's Scheduler dependencies with
// no-ops, enough to exercise RegisterWorker/heartbeat/status plumbing
// without a real gRPC client or fleet provider.
type fleetNoop struct{}

func (fleetNoop) ScaleUp(minWorkers int) error { return nil }
func (fleetNoop) Stop(workerID uint64) error   { return nil }

type dispatcherNoop struct{}

func (dispatcherNoop) RunTask(w *emberql.Worker, t *emberql.Task, planBytes []byte, inputs []emberql.ShuffleSource, numPartitions int, consumption plan.ConsumptionMode) error {
	return nil
}
func (dispatcherNoop) StopTask(w *emberql.Worker, t *emberql.Task) error    { return nil }
func (dispatcherNoop) RemoveStream(w *emberql.Worker, channel string) error { return nil }
func (dispatcherNoop) StopWorker(w *emberql.Worker) error                  { return nil }

func TestSchedulerServer_RegisterWorkerAndReportStatus(t *testing.T) {
	cfg := &emberql.Config{
		WorkerInitialCount:  1,
		WorkerMaxCount:      4,
		WorkerTaskSlots:     4,
		WorkerLossThreshold: time.Hour,
		WorkerIdleThreshold: time.Hour,
		MaxTaskAttempts:     2,
	}
	scheduler := emberql.NewScheduler(cfg, dispatcherNoop{}, fleetNoop{})
	go scheduler.Run()
	defer scheduler.Stop()

	srv := NewSchedulerServer(scheduler)

	_, err := srv.RegisterWorker(context.Background(), &RegisterWorkerRequest{WorkerID: 1, Host: "h", Port: 1})
	require.NoError(t, err)

	_, err = srv.ReportWorkerHeartbeat(context.Background(), &HeartbeatRequest{WorkerID: 1})
	require.NoError(t, err)

	_, err = srv.ReportTaskStatus(context.Background(), &TaskStatusRequest{
		TaskID: 999, Attempt: 0, State: int32(embworker.TaskRunning), Sequence: 1,
	})
	require.NoError(t, err)
}

package embworker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/internal/pkg/embshuffle"
	"github.com/emberql/emberql/internal/pkg/embtransport"
	"github.com/emberql/emberql/plan"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "k", Type: arrow.BinaryTypes.String}}, nil)
}

// recordingReporter captures every TaskStatus in arrival order, guarded by
// a mutex since reports come from the runtime's own goroutine.
type recordingReporter struct {
	mu       sync.Mutex
	reports  []TaskStatus
	received chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{received: make(chan struct{}, 64)}
}

func (r *recordingReporter) Report(status TaskStatus) error {
	r.mu.Lock()
	r.reports = append(r.reports, status)
	r.mu.Unlock()
	r.received <- struct{}{}
	return nil
}

func (r *recordingReporter) waitFor(n int, t *testing.T) []TaskStatus {
	for i := 0; i < n; i++ {
		select {
		case <-r.received:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for report %d/%d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskStatus, len(r.reports))
	copy(out, r.reports)
	return out
}

func TestRunTask_EmptyScanSucceeds(t *testing.T) {
	store := embshuffle.NewMemoryStore(8)
	reporter := newRecordingReporter()
	rt := NewRuntime(2, store, NopScanner{}, embtransport.NewFetcher(8), reporter)

	schema := testSchema()
	root := &plan.ScanNode{Paths: []string{"s3://b/a"}, NumPartitions: 1, OutputSchema: schema}
	planBytes, err := plan.Encode(root)
	require.NoError(t, err)

	err = rt.RunTask(RunTaskRequest{
		TaskID:        1,
		Attempt:       0,
		PlanBytes:     planBytes,
		Partition:     0,
		OutputChannel: "job-1/stage-0/task-1/attempt-0",
		Consumption:   plan.SingleConsumerMode,
	})
	require.NoError(t, err)

	reports := reporter.waitFor(2, t)
	assert.Equal(t, TaskRunning, reports[0].State)
	assert.Equal(t, TaskSucceeded, reports[1].State)
	assert.Less(t, reports[0].Sequence, reports[1].Sequence)

	reader, err := store.Subscribe("job-1/stage-0/task-1/attempt-0")
	require.NoError(t, err)
	defer reader.Close()
	_, err = reader.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunTask_InvalidPlanBytesReportsInvalidPlanCause(t *testing.T) {
	store := embshuffle.NewMemoryStore(8)
	reporter := newRecordingReporter()
	rt := NewRuntime(2, store, NopScanner{}, embtransport.NewFetcher(8), reporter)

	err := rt.RunTask(RunTaskRequest{
		TaskID:        2,
		Attempt:       0,
		PlanBytes:     []byte("not a gob stream"),
		OutputChannel: "job-1/stage-0/task-2/attempt-0",
	})
	require.NoError(t, err)

	reports := reporter.waitFor(2, t)
	assert.Equal(t, TaskRunning, reports[0].State)
	assert.Equal(t, TaskFailed, reports[1].State)
	assert.Equal(t, CauseInvalidPlan, reports[1].Cause)
}

func TestRunTask_UnsupportedNodeReportsInternalCause(t *testing.T) {
	store := embshuffle.NewMemoryStore(8)
	reporter := newRecordingReporter()
	rt := NewRuntime(2, store, NopScanner{}, embtransport.NewFetcher(8), reporter)

	root := &plan.CoalesceNode{Child: &plan.ScanNode{NumPartitions: 1, OutputSchema: testSchema()}}
	planBytes, err := plan.Encode(root)
	require.NoError(t, err)

	err = rt.RunTask(RunTaskRequest{
		TaskID:        3,
		Attempt:       0,
		PlanBytes:     planBytes,
		OutputChannel: "job-1/stage-0/task-3/attempt-0",
	})
	require.NoError(t, err)

	reports := reporter.waitFor(2, t)
	assert.Equal(t, TaskFailed, reports[1].State)
	assert.Equal(t, CauseInternal, reports[1].Cause)
}

func TestStopTask_CancelsBeforeSlotAcquired(t *testing.T) {
	store := embshuffle.NewMemoryStore(8)
	reporter := newRecordingReporter()
	rt := NewRuntime(1, store, NopScanner{}, embtransport.NewFetcher(8), reporter)

	// occupy the only slot so the next RunTask blocks waiting for one.
	rt.slots <- struct{}{}
	defer func() { <-rt.slots }()

	root := &plan.ScanNode{NumPartitions: 1, OutputSchema: testSchema()}
	planBytes, err := plan.Encode(root)
	require.NoError(t, err)

	err = rt.RunTask(RunTaskRequest{
		TaskID:        4,
		Attempt:       0,
		PlanBytes:     planBytes,
		OutputChannel: "job-1/stage-0/task-4/attempt-0",
	})
	require.NoError(t, err)

	require.NoError(t, rt.StopTask(4, 0))

	reports := reporter.waitFor(1, t)
	assert.Equal(t, TaskFailed, reports[0].State)
	assert.Equal(t, CauseCanceled, reports[0].Cause)
}

func TestRemoveStream_IdempotentOnMissingChannel(t *testing.T) {
	store := embshuffle.NewMemoryStore(8)
	rt := NewRuntime(1, store, NopScanner{}, embtransport.NewFetcher(8), nil)
	assert.NoError(t, rt.RemoveStream("never-opened"))
	assert.NoError(t, rt.RemoveStream("never-opened"))
}

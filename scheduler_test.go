package emberql

import (
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/plan"
)

// fakeDispatcher records RunTask calls and lets a test drive fake status
// updates back through the scheduler, in place of a real embcontrol client.
type fakeDispatcher struct {
	mu   sync.Mutex
	runs []*Task
}

func (f *fakeDispatcher) RunTask(w *Worker, t *Task, planBytes []byte, inputs []ShuffleSource, numPartitions int, consumption plan.ConsumptionMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, t)
	return nil
}
func (f *fakeDispatcher) StopTask(w *Worker, t *Task) error       { return nil }
func (f *fakeDispatcher) RemoveStream(w *Worker, channel string) error { return nil }
func (f *fakeDispatcher) StopWorker(w *Worker) error              { return nil }

func (f *fakeDispatcher) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeFleet struct {
	mu       sync.Mutex
	scaleUps []int
}

func (f *fakeFleet) ScaleUp(minWorkers int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleUps = append(f.scaleUps, minWorkers)
	return nil
}
func (f *fakeFleet) Stop(workerID uint64) error { return nil }

func testConfig() *Config {
	return &Config{
		WorkerInitialCount:  1,
		WorkerMaxCount:      4,
		WorkerTaskSlots:     4,
		WorkerLossThreshold: time.Hour,
		WorkerIdleThreshold: time.Hour,
		MaxTaskAttempts:     2,
	}
}

func testScanPlan(numPartitions int) plan.Node {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	return &plan.ScanNode{Paths: []string{"x"}, NumPartitions: numPartitions, OutputSchema: schema}
}

func newTestScheduler() (*Scheduler, *fakeDispatcher, *fakeFleet) {
	disp := &fakeDispatcher{}
	fleet := &fakeFleet{}
	s := NewScheduler(testConfig(), disp, fleet)
	go s.Run()
	return s, disp, fleet
}

func TestScheduler_SubmitJobSchedulesOntoRegisteredWorker(t *testing.T) {
	s, disp, fleet := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))

	sink := make(chan []ResultPartition, 1)
	jobID, err := s.SubmitJob(testScanPlan(2), sink)
	require.NoError(t, err)
	assert.NotZero(t, jobID)

	require.Eventually(t, func() bool { return disp.runCount() == 2 }, time.Second, time.Millisecond)
	assert.NotEmpty(t, fleet.scaleUps)
}

func TestScheduler_JobStatusUnknownJob(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	_, _, found := s.JobStatus(999)
	assert.False(t, found)
}

func TestScheduler_JobCompletesAfterAllTasksSucceed(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))

	sink := make(chan []ResultPartition, 1)
	jobID, err := s.SubmitJob(testScanPlan(1), sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, _, found := s.JobStatus(jobID)
		return found && state == JobRunning
	}, time.Second, time.Millisecond)

	// Drive the single task through Running (which publishes the result
	// partitions since it is also the final stage) then Succeeded.
	s.UpdateTask(TaskStatus{TaskID: 1, Attempt: 0, State: TaskRunning, Sequence: 1})
	select {
	case parts := <-sink:
		require.Len(t, parts, 1)
		assert.Equal(t, "127.0.0.1:9000", parts[0].WorkerAddr)
	case <-time.After(time.Second):
		t.Fatal("result sink never received partitions")
	}

	s.UpdateTask(TaskStatus{TaskID: 1, Attempt: 0, State: TaskSucceeded, Sequence: 2})

	require.Eventually(t, func() bool {
		state, _, found := s.JobStatus(jobID)
		return found && state == JobSucceeded
	}, time.Second, time.Millisecond)
}

func TestScheduler_TaskFailureRetriesUnderBudget(t *testing.T) {
	s, disp, _ := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))

	sink := make(chan []ResultPartition, 1)
	jobID, err := s.SubmitJob(testScanPlan(1), sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return disp.runCount() == 1 }, time.Second, time.Millisecond)

	s.UpdateTask(TaskStatus{TaskID: 1, Attempt: 0, State: TaskFailed, Cause: Unavailable, Sequence: 1})

	// Retried: rescheduleTask bumps the attempt and re-enqueues, so a
	// second RunTask call follows once the schedule cycle re-runs.
	require.Eventually(t, func() bool { return disp.runCount() == 2 }, time.Second, time.Millisecond)

	state, _, found := s.JobStatus(jobID)
	require.True(t, found)
	assert.Equal(t, JobRunning, state)
}

func TestScheduler_TaskFailureWithDeterministicCauseFailsJob(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))

	sink := make(chan []ResultPartition, 1)
	jobID, err := s.SubmitJob(testScanPlan(1), sink)
	require.NoError(t, err)

	s.UpdateTask(TaskStatus{TaskID: 1, Attempt: 0, State: TaskFailed, Cause: InvalidPlan, Sequence: 1})

	require.Eventually(t, func() bool {
		state, _, found := s.JobStatus(jobID)
		return found && state == JobFailed
	}, time.Second, time.Millisecond)

	_, ok := <-sink
	assert.False(t, ok, "result sink should be closed on job failure")
}

func TestScheduler_CancelJobUnknownJobErrors(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	err := s.CancelJob(42)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, NotFound, e.Code)
}

func TestScheduler_CancelJobClosesResultSink(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))

	sink := make(chan []ResultPartition, 1)
	jobID, err := s.SubmitJob(testScanPlan(1), sink)
	require.NoError(t, err)

	require.NoError(t, s.CancelJob(jobID))

	state, _, found := s.JobStatus(jobID)
	require.True(t, found)
	assert.Equal(t, JobCanceled, state)

	_, ok := <-sink
	assert.False(t, ok)
}

func TestScheduler_RegisterWorkerTwiceWhileRunningErrors(t *testing.T) {
	s, _, _ := newTestScheduler()
	defer s.Stop()

	require.NoError(t, s.RegisterWorker(1, "127.0.0.1", 9000))
	err := s.RegisterWorker(1, "127.0.0.1", 9001)
	require.Error(t, err)
}

// Package embworker is the C3 worker runtime (spec.md §4.3): it owns a
// bounded task-slot pool, executes the operator pipeline a plan fragment
// describes, and reports every state transition back to the driver.
//
// Adapted from the teacher's executor.go + function.go + task.go: where
// localExecutor.RunMapper/RunReducer ran one MapReduce phase synchronously
// and reported a single taskResult at the end, Runtime.execute runs an
// arbitrary operator pipeline and reports intermediate Running/terminal
// Succeeded|Failed transitions as they happen, matching spec.md §3's task
// state machine rather than the teacher's fire-and-collect shape.
package embworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/emberql/emberql/internal/pkg/embshuffle"
	"github.com/emberql/emberql/internal/pkg/embtransport"
	"github.com/emberql/emberql/plan"
)

// TaskState mirrors the driver-side task state machine (spec.md §3) for the
// subset a worker ever reports. Kept as its own type, not an import of the
// root emberql package, so embworker never depends back on the driver
// package — the same decoupling embfleet uses.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskSucceeded
	TaskFailed
)

// Cause classifies a TaskFailed report (spec.md §7's taxonomy, the slice of
// it a worker can itself diagnose).
type Cause int

const (
	CauseNone Cause = iota
	CauseInternal
	CauseInvalidPlan
	CauseUpstreamLost
	CauseCanceled
)

// ShuffleInput names one upstream producer channel a task's shuffle-read
// step must fetch from (resolved by the driver at dispatch time; see
// emberql.ShuffleSource).
type ShuffleInput struct {
	WorkerAddr string
	Channel    string
}

// RunTaskRequest is everything the worker needs to execute one task
// attempt, the worker-local counterpart of spec.md §6's RunTask RPC.
type RunTaskRequest struct {
	TaskID        uint64
	Attempt       int
	PlanBytes     []byte
	Partition     int
	NumPartitions int
	Consumption   plan.ConsumptionMode
	OutputChannel string
	Inputs        []ShuffleInput
}

// TaskStatus is the report a Runtime sends on every transition (spec.md
// §4.3 "Status reporting"); Sequence is this worker's strictly increasing
// counter, the out-of-order defense spec.md §9 describes.
type TaskStatus struct {
	TaskID   uint64
	Attempt  int
	State    TaskState
	Message  string
	Cause    Cause
	Sequence uint64
}

// StatusReporter delivers a TaskStatus to the driver (spec.md §6
// ReportTaskStatus); a concrete client lives in internal/pkg/embcontrol.
type StatusReporter interface {
	Report(status TaskStatus) error
}

// Scanner executes a ScanNode for one partition. Storage-format readers are
// explicitly out of scope (spec.md §1 non-goals name them); Runtime depends
// on this interface rather than any concrete format so a caller can plug
// one in without touching the pipeline. NopScanner is the zero-data default.
type Scanner interface {
	Scan(ctx context.Context, n *plan.ScanNode, partition int) (recordSource, error)
}

// recordSource is a pull iterator over record batches: Next-shaped, not
// channel-shaped, so the pipeline composes purely by function call with no
// extra goroutines per operator (spec.md §9 "operators are cheap to
// compose"; the one goroutine per task is the task itself, spawned by
// RunTask).
type recordSource func() (arrow.Record, error)

type taskKey struct {
	taskID  uint64
	attempt int
}

// Runtime is the C3 actor-free worker core: concurrency here is just "one
// goroutine per running task, bounded by a semaphore", the direct
// generalization of the teacher's MaxConcurrency-bounded executor pool
// (driver.go) down to the single worker process.
type Runtime struct {
	slots    chan struct{}
	store    embshuffle.Store
	scanner  Scanner
	fetcher  *embtransport.Fetcher
	reporter StatusReporter

	seq uint64

	mu      sync.Mutex
	cancels map[taskKey]context.CancelFunc

	connsMu sync.Mutex
	conns   map[string]*grpc.ClientConn
}

func NewRuntime(slots int, store embshuffle.Store, scanner Scanner, fetcher *embtransport.Fetcher, reporter StatusReporter) *Runtime {
	if slots <= 0 {
		slots = 1
	}
	if scanner == nil {
		scanner = NopScanner{}
	}
	return &Runtime{
		slots:    make(chan struct{}, slots),
		store:    store,
		scanner:  scanner,
		fetcher:  fetcher,
		reporter: reporter,
		cancels:  make(map[taskKey]context.CancelFunc),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// RunTask accepts a task attempt and runs it on its own goroutine,
// returning as soon as it's been accepted (spec.md §4.3: "run_task
// acknowledges acceptance, execution proceeds asynchronously").
func (rt *Runtime) RunTask(req RunTaskRequest) error {
	ctx, cancel := context.WithCancel(context.Background())
	key := taskKey{req.TaskID, req.Attempt}
	rt.mu.Lock()
	rt.cancels[key] = cancel
	rt.mu.Unlock()
	go rt.execute(ctx, req)
	return nil
}

// StopTask cancels a running task attempt. Idempotent: stopping an attempt
// that already finished or was never started is a no-op (spec.md §6
// StopTask "idempotent").
func (rt *Runtime) StopTask(taskID uint64, attempt int) error {
	key := taskKey{taskID, attempt}
	rt.mu.Lock()
	cancel, ok := rt.cancels[key]
	rt.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// RemoveStream releases a locally-hosted shuffle channel (spec.md §6
// RemoveStream), idempotent because embshuffle.Store.Release is.
func (rt *Runtime) RemoveStream(channel string) error {
	return rt.store.Release(channel)
}

// StopWorker cancels every in-flight task and tears down cached peer
// connections, the worker-side half of spec.md §6 StopWorker.
func (rt *Runtime) StopWorker() error {
	rt.mu.Lock()
	for _, cancel := range rt.cancels {
		cancel()
	}
	rt.mu.Unlock()

	rt.connsMu.Lock()
	for addr, cc := range rt.conns {
		if err := cc.Close(); err != nil {
			log.Warnf("embworker: closing peer conn %s: %v", addr, err)
		}
	}
	rt.conns = make(map[string]*grpc.ClientConn)
	rt.connsMu.Unlock()
	return nil
}

func (rt *Runtime) execute(ctx context.Context, req RunTaskRequest) {
	key := taskKey{req.TaskID, req.Attempt}
	defer func() {
		rt.mu.Lock()
		delete(rt.cancels, key)
		rt.mu.Unlock()
	}()

	select {
	case rt.slots <- struct{}{}:
		defer func() { <-rt.slots }()
	case <-ctx.Done():
		rt.report(req, TaskFailed, "canceled before a slot was available", CauseCanceled)
		return
	}

	rt.report(req, TaskRunning, "", CauseNone)

	root, err := plan.Decode(req.PlanBytes)
	if err != nil {
		rt.report(req, TaskFailed, err.Error(), CauseInvalidPlan)
		return
	}

	if err := rt.runPipeline(ctx, root, req); err != nil {
		if ctx.Err() != nil {
			rt.report(req, TaskFailed, err.Error(), CauseCanceled)
			return
		}
		rt.report(req, TaskFailed, err.Error(), classifyFailure(err))
		return
	}
	rt.report(req, TaskSucceeded, "", CauseNone)
}

// classifyFailure maps a pipeline error to spec.md §7's taxonomy: a failure
// surfaced by the fetch/dial path is UpstreamLost, anything else this
// runtime raises on its own is Internal.
func classifyFailure(err error) Cause {
	if errors.Is(err, embtransport.ErrUnavailable) || errors.Is(err, embtransport.ErrNotFound) || errors.Is(err, errDial) {
		return CauseUpstreamLost
	}
	return CauseInternal
}

var errDial = errors.New("embworker: dial failed")

func (rt *Runtime) report(req RunTaskRequest, state TaskState, message string, cause Cause) {
	if rt.reporter == nil {
		return
	}
	seq := atomic.AddUint64(&rt.seq, 1)
	if err := rt.reporter.Report(TaskStatus{
		TaskID:   req.TaskID,
		Attempt:  req.Attempt,
		State:    state,
		Message:  message,
		Cause:    cause,
		Sequence: seq,
	}); err != nil {
		log.Warnf("embworker: status report for task %d/%d failed: %v", req.TaskID, req.Attempt, err)
	}
}

func (rt *Runtime) getConn(addr string) (*grpc.ClientConn, error) {
	rt.connsMu.Lock()
	defer rt.connsMu.Unlock()
	if cc, ok := rt.conns[addr]; ok {
		return cc, nil
	}
	cc, err := embtransport.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errDial, addr, err)
	}
	rt.conns[addr] = cc
	return cc, nil
}

// NopScanner is the default Scanner: every scan partition is empty. A real
// storage-format reader is a caller-supplied extension (spec.md §1 places
// storage format readers out of scope for this engine itself).
type NopScanner struct{}

func (NopScanner) Scan(ctx context.Context, n *plan.ScanNode, partition int) (recordSource, error) {
	return func() (arrow.Record, error) { return nil, io.EOF }, nil
}

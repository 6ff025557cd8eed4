package emberql

// TaskID identifies one (stage, partition) unit of work, unique within the
// scheduler (spec.md §3).
type TaskID uint64

// WorkerID identifies a registered worker, unique within the scheduler.
type WorkerID uint64

// TaskMode distinguishes a task that must run to completion before its
// output is visible (Blocking, e.g. a shuffle-write producer) from one
// that streams output as it is produced (Pipelined, e.g. the final
// stage's channel the dispatcher reads live).
type TaskMode int

const (
	TaskBlocking TaskMode = iota
	TaskPipelined
)

// TaskState is exactly spec.md §3's task state machine:
// Created → Pending → Scheduled(worker) → Running(worker) → Succeeded(worker) | Failed(worker).
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskPending
	TaskScheduled
	TaskRunning
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskScheduled:
		return "Scheduled"
	case TaskRunning:
		return "Running"
	case TaskSucceeded:
		return "Succeeded"
	case TaskFailed:
		return "Failed"
	default:
		return "Created"
	}
}

// Terminal reports whether s is one from which a task never transitions
// again without a fresh attempt (a new Task value, per spec.md §3 "each
// new attempt gets a fresh channel name" — modeled here as resetting the
// same Task's Attempt/State rather than allocating a new struct, since the
// scheduler's task map is keyed by TaskID across attempts).
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task is one partition of one stage (spec.md §3).
type Task struct {
	ID      TaskID
	JobID   JobID
	Stage   int // ordinal into Job.Stages
	Partition int

	Attempt int
	Mode    TaskMode
	State   TaskState
	Worker  WorkerID

	// Channel is the output channel name for this attempt, set for every
	// task (intermediate stages shuffle-write to it; the final stage's
	// tasks additionally surface it as the job's result channel — spec.md
	// §3 invariant 4 still holds: only final-stage Channel values are read
	// by the driver as job output).
	Channel string

	// IsFinalStage marks whether Channel is the job's result channel
	// (spec.md §3 "a final-stage task has exactly one channel name").
	IsFinalStage bool

	// retryable is cleared when a failure cause fails the job. The retry
	// decision itself is made by decideRetry from the reported cause;
	// nothing reads this field.
	retryable bool

	// Err carries the last failure cause, if any.
	Err error
}

func newTask(id TaskID, jobID JobID, stage, partition int, mode TaskMode, finalStage bool) *Task {
	return &Task{
		ID:           id,
		JobID:        jobID,
		Stage:        stage,
		Partition:    partition,
		Mode:         mode,
		State:        TaskCreated,
		IsFinalStage: finalStage,
	}
}

// TaskStatus is the (task, attempt, status) report a worker sends the
// driver on every state transition (spec.md §4.3 "Status reporting",
// §6 `ReportTaskStatus`). Sequence is the worker-global monotonic counter
// spec.md §9 calls "the only defense against out-of-order status updates".
type TaskStatus struct {
	TaskID   TaskID
	Attempt  int
	State    TaskState
	Message  string
	Cause    Code
	Sequence uint64
}

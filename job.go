package emberql

import (
	"sync"
)

// JobID identifies a submitted query within the scheduler (spec.md §3).
type JobID uint64

// JobState is the terminal-state machine for a Job.
type JobState int

const (
	JobRunning JobState = iota
	JobSucceeded
	JobFailed
	JobCanceled
)

func (s JobState) String() string {
	switch s {
	case JobSucceeded:
		return "Succeeded"
	case JobFailed:
		return "Failed"
	case JobCanceled:
		return "Canceled"
	default:
		return "Running"
	}
}

func (s JobState) Terminal() bool {
	return s != JobRunning
}

// JobOutputState tracks how far the final stage's output has progressed
// toward the dispatcher, the generalization of the teacher's
// `activationLog chan taskResult` single-shot handoff (job.go) from "one
// activation result" to "one result batch stream."
type JobOutputState int

const (
	JobOutputPending JobOutputState = iota
	JobOutputStreaming
	JobOutputDone
)

// ResultPartition names one final-stage task's output channel: the unit
// the dispatcher (C8) fetches via embtransport.Fetcher once a job's
// output starts streaming (spec.md §4.5 "Fetching the actual channel
// contents is the dispatcher's job").
type ResultPartition struct {
	WorkerAddr string
	Channel    string
}

// JobOutput is the result_sink entry for a job (spec.md §4.5's
// `job_outputs: Map<JobId, JobOutput>`). ResultSink is a single-shot
// channel that receives at most one send, the Go-channel equivalent of the
// teacher's `activationLog chan taskResult` — here carrying the set of
// result partitions to fetch rather than a single stream, since a job's
// final stage may have more than one partition. It is closed after that
// send, or closed with no send when the job fails or is canceled first.
type JobOutput struct {
	State      JobOutputState
	ResultSink chan<- []ResultPartition
}

// Job is the logical container for one submitted query plan (spec.md §3).
// Where the teacher's Job orchestrated a fixed Map/Reduce phase pair, Job
// here owns an ordered list of planner-produced Stages of arbitrary depth.
type Job struct {
	mu sync.Mutex

	ID     JobID
	Stages []*Stage
	State  JobState

	// Err carries the failure cause once State == JobFailed.
	Err error
}

func newJob(id JobID, stages []*Stage) *Job {
	return &Job{ID: id, Stages: stages, State: JobRunning}
}

// allTasksTerminal reports whether every task of every stage has reached a
// terminal state, the precondition for spec.md §4.5 "Job completion".
func (j *Job) allTasksTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, stage := range j.Stages {
		for _, t := range stage.Tasks {
			if !t.State.Terminal() {
				return false
			}
		}
	}
	return true
}

func (j *Job) finalStage() *Stage {
	if len(j.Stages) == 0 {
		return nil
	}
	return j.Stages[len(j.Stages)-1]
}

func (j *Job) setState(s JobState, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.State.Terminal() {
		return
	}
	j.State = s
	j.Err = err
}

func (j *Job) getState() (JobState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State, j.Err
}

// allChannels collects every channel name a task of this job may have
// opened, so CancelJob/job-completion can release them all (spec.md §4.5
// "release remaining shuffle channels it produced").
func (j *Job) allChannels() []string {
	var channels []string
	for _, stage := range j.Stages {
		for _, t := range stage.Tasks {
			if t.Channel != "" {
				channels = append(channels, t.Channel)
			}
		}
	}
	return channels
}

package emberql

import (
	"container/list"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/emberql/emberql/plan"
	"github.com/emberql/emberql/planner"
)

// WorkerDispatcher sends control-plane directives to a registered worker.
// Concrete implementations live in internal/pkg/embcontrol (gRPC client
// stubs); the scheduler only depends on this interface, mirroring how the
// teacher's Driver depends on the `executor` interface rather than a
// concrete Lambda/Whisk client (driver.go).
type WorkerDispatcher interface {
	RunTask(w *Worker, t *Task, planBytes []byte, inputs []ShuffleSource, numPartitions int, consumption plan.ConsumptionMode) error
	StopTask(w *Worker, t *Task) error
	RemoveStream(w *Worker, channel string) error
	StopWorker(w *Worker) error
}

// FleetProvider is the C6 contract (spec.md §4.6), scoped down to the two
// operations the scheduler needs; WorkerID is passed as a plain uint64 to
// keep internal/pkg/embfleet free of a dependency back on the root
// package.
type FleetProvider interface {
	ScaleUp(minWorkers int) error
	Stop(workerID uint64) error
}

// Scheduler is the C5 actor: a single-owner event loop over authoritative
// worker/job/task state, adapted from the teacher's Driver (driver.go) —
// where Driver.run() drove two fixed phases directly, Scheduler reacts to
// messages on an inbox and reschedules continuously as tasks/workers
// change state.
type Scheduler struct {
	cfg        *Config
	dispatcher WorkerDispatcher
	fleet      FleetProvider

	inbox chan interface{}
	done  chan struct{}

	workers       map[WorkerID]*Worker
	jobs          map[JobID]*Job
	tasks         map[TaskID]*Task
	taskQueue     *list.List // of TaskID
	taskSequences map[TaskID]uint64
	jobOutputs    map[JobID]*JobOutput

	nextJobID  JobID
	nextTaskID TaskID
	rrCursor   int
}

func NewScheduler(cfg *Config, dispatcher WorkerDispatcher, fleet FleetProvider) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		dispatcher:    dispatcher,
		fleet:         fleet,
		inbox:         make(chan interface{}, 256),
		done:          make(chan struct{}),
		workers:       make(map[WorkerID]*Worker),
		jobs:          make(map[JobID]*Job),
		tasks:         make(map[TaskID]*Task),
		taskQueue:     list.New(),
		taskSequences: make(map[TaskID]uint64),
		jobOutputs:    make(map[JobID]*JobOutput),
	}
}

// Run is the actor's event loop. It owns every field above; no other
// goroutine touches them. Call it from its own goroutine.
func (s *Scheduler) Run() {
	lossTicker := time.NewTicker(tickerInterval(s.cfg.WorkerLossThreshold))
	defer lossTicker.Stop()
	defer close(s.done)

	for {
		select {
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			s.handle(msg)
		case <-lossTicker.C:
			s.probeWorkers()
		}
	}
}

func tickerInterval(threshold time.Duration) time.Duration {
	d := threshold / 4
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Stop closes the inbox; Run drains pending messages' replies are not
// guaranteed once this is called, matching the teacher's fire-and-forget
// shutdown (Driver has no explicit Stop at all — this is new ambient
// cleanup, kept simple).
func (s *Scheduler) Stop() {
	close(s.inbox)
	<-s.done
}

func (s *Scheduler) handle(msg interface{}) {
	switch m := msg.(type) {
	case *submitJobMsg:
		s.handleSubmitJob(m)
	case *registerWorkerMsg:
		s.handleRegisterWorker(m)
	case *workerHeartbeatMsg:
		s.handleWorkerHeartbeat(m)
	case *updateTaskMsg:
		s.handleUpdateTask(m)
	case *cancelJobMsg:
		s.handleCancelJob(m)
	case *jobStatusMsg:
		s.handleJobStatus(m)
	default:
		log.Warnf("scheduler: unknown message type %T", msg)
	}
}

// --- public API: each call sends a message and blocks on a one-shot reply,
// the same request/reply-channel shape spec.md §9 describes for actors.

type submitJobMsg struct {
	root       plan.Node
	resultSink chan<- []ResultPartition
	reply      chan<- submitJobReply
}

type submitJobReply struct {
	jobID JobID
	err   error
}

// SubmitJob plans root into stages, creates the job and its tasks, and
// kicks off a schedule cycle (spec.md §4.5 "Submit job").
func (s *Scheduler) SubmitJob(root plan.Node, resultSink chan<- []ResultPartition) (JobID, error) {
	reply := make(chan submitJobReply, 1)
	s.inbox <- &submitJobMsg{root: root, resultSink: resultSink, reply: reply}
	r := <-reply
	return r.jobID, r.err
}

type registerWorkerMsg struct {
	workerID WorkerID
	host     string
	port     int
	reply    chan<- error
}

func (s *Scheduler) RegisterWorker(workerID WorkerID, host string, port int) error {
	reply := make(chan error, 1)
	s.inbox <- &registerWorkerMsg{workerID: workerID, host: host, port: port, reply: reply}
	return <-reply
}

type workerHeartbeatMsg struct {
	workerID WorkerID
}

func (s *Scheduler) WorkerHeartbeat(workerID WorkerID) {
	s.inbox <- &workerHeartbeatMsg{workerID: workerID}
}

type updateTaskMsg struct {
	status TaskStatus
}

func (s *Scheduler) UpdateTask(status TaskStatus) {
	s.inbox <- &updateTaskMsg{status: status}
}

type cancelJobMsg struct {
	jobID JobID
	reply chan<- error
}

func (s *Scheduler) CancelJob(jobID JobID) error {
	reply := make(chan error, 1)
	s.inbox <- &cancelJobMsg{jobID: jobID, reply: reply}
	return <-reply
}

type jobStatusMsg struct {
	jobID JobID
	reply chan<- jobStatusReply
}

type jobStatusReply struct {
	state JobState
	err   error
	found bool
}

// JobStatus reports a job's terminal state and failure cause, if any — the
// dispatcher's way of learning why a ResultSink closed without delivering
// partitions (spec.md §4.8 "surface the job's failure as the operation's
// error").
func (s *Scheduler) JobStatus(jobID JobID) (JobState, error, bool) {
	reply := make(chan jobStatusReply, 1)
	s.inbox <- &jobStatusMsg{jobID: jobID, reply: reply}
	r := <-reply
	return r.state, r.err, r.found
}

// --- handlers, run exclusively on the actor goroutine.

func (s *Scheduler) handleSubmitJob(m *submitJobMsg) {
	stages, err := planner.Plan(m.root)
	if err != nil {
		m.reply <- submitJobReply{err: wrapError(InvalidPlan, err, "stage planning failed")}
		return
	}

	s.nextJobID++
	jobID := s.nextJobID

	jobStages := make([]*Stage, len(stages))
	for i, ps := range stages {
		isFinal := i == len(stages)-1
		jobStages[i] = newStageFromPlan(ps, jobID, isFinal, s.allocTaskID)
		for _, t := range jobStages[i].Tasks {
			t.Channel = channelName(jobID, t.Stage, t.ID, t.Attempt)
			s.tasks[t.ID] = t
			s.taskQueue.PushBack(t.ID)
		}
	}

	job := newJob(jobID, jobStages)
	s.jobs[jobID] = job
	s.jobOutputs[jobID] = &JobOutput{State: JobOutputPending, ResultSink: m.resultSink}

	if err := s.fleet.ScaleUp(s.cfg.WorkerInitialCount); err != nil {
		log.Warnf("scheduler: scale_up failed: %+v", err)
	}

	s.runScheduleCycle()
	m.reply <- submitJobReply{jobID: jobID}
}

func (s *Scheduler) allocTaskID() TaskID {
	s.nextTaskID++
	return s.nextTaskID
}

func (s *Scheduler) handleRegisterWorker(m *registerWorkerMsg) {
	w, exists := s.workers[m.workerID]
	if !exists {
		w = newWorker(m.workerID, s.cfg.WorkerTaskSlots)
		s.workers[m.workerID] = w
	}
	if w.State != WorkerPending {
		m.reply <- newError(InvalidArgument, "worker %d is not Pending", m.workerID)
		return
	}
	w.State = WorkerRunning
	w.Host = m.host
	w.Port = m.port
	now := time.Now()
	w.LastHeartbeat = now
	w.LastUpdate = now
	m.reply <- nil
	s.runScheduleCycle()
}

func (s *Scheduler) handleWorkerHeartbeat(m *workerHeartbeatMsg) {
	if w, ok := s.workers[m.workerID]; ok {
		w.LastHeartbeat = time.Now()
	}
}

func (s *Scheduler) handleUpdateTask(m *updateTaskMsg) {
	st := m.status
	if st.Sequence <= s.taskSequences[st.TaskID] {
		return // stale, spec.md §3 invariant 5 / §8 I3
	}
	s.taskSequences[st.TaskID] = st.Sequence

	t, ok := s.tasks[st.TaskID]
	if !ok || t.Attempt != st.Attempt {
		return
	}
	t.State = st.State
	t.Err = nil

	switch st.State {
	case TaskRunning:
		if w, ok := s.workers[t.Worker]; ok {
			w.LastUpdate = time.Now()
		}
		if t.IsFinalStage {
			s.beginStreamingOutput(t)
		}
	case TaskSucceeded:
		if w, ok := s.workers[t.Worker]; ok {
			w.release(t.ID)
			w.LastUpdate = time.Now()
		}
		s.checkJobCompletion(t.JobID)
		s.runScheduleCycle()
	case TaskFailed:
		if w, ok := s.workers[t.Worker]; ok {
			w.release(t.ID)
			w.LastUpdate = time.Now()
		}
		t.Err = &Error{Code: st.Cause, Message: st.Message}
		s.handleTaskFailure(t, st.Cause)
		s.runScheduleCycle()
	}
}

// beginStreamingOutput transitions JobOutput::Pending → Streaming the
// first time any final-stage task goes Running (spec.md §4.5), and hands
// the dispatcher every final-stage task's (worker address, channel) pair
// in one shot over ResultSink — the Go-channel equivalent of the teacher's
// `activationLog chan taskResult` single-shot handoff, generalized from
// "one activation result" to "one set of result partitions to fetch".
// Fetching the actual channel contents from there is the dispatcher's job
// (C8); the scheduler's part ends at naming where to fetch them from.
func (s *Scheduler) beginStreamingOutput(t *Task) {
	out, ok := s.jobOutputs[t.JobID]
	if !ok || out.State != JobOutputPending {
		return
	}
	out.State = JobOutputStreaming

	job, ok := s.jobs[t.JobID]
	if !ok {
		return
	}
	final := job.finalStage()
	if final == nil {
		return
	}
	partitions := make([]ResultPartition, 0, len(final.Tasks))
	for _, ft := range final.Tasks {
		w, ok := s.workers[ft.Worker]
		if !ok || ft.Channel == "" {
			continue
		}
		partitions = append(partitions, ResultPartition{
			WorkerAddr: fmt.Sprintf("%s:%d", w.Host, w.Port),
			Channel:    ft.Channel,
		})
	}
	if out.ResultSink != nil {
		out.ResultSink <- partitions
		close(out.ResultSink)
	}
}

func (s *Scheduler) handleTaskFailure(t *Task, cause Code) {
	job, ok := s.jobs[t.JobID]
	if !ok {
		return
	}
	switch decideRetry(cause, t.Attempt, s.cfg.MaxTaskAttempts) {
	case retryTask:
		s.rescheduleTask(t)
	case failJob:
		t.retryable = false
		job.setState(JobFailed, t.Err)
		s.failJobOutput(t.JobID, t.Err)
		s.releaseJobChannels(job)
	}
}

// rescheduleTask is spec.md §4.5/§7's reschedule_task: bump the attempt,
// go back to Created with a fresh channel name, and push to the back of
// the queue.
func (s *Scheduler) rescheduleTask(t *Task) {
	t.Attempt++
	t.State = TaskCreated
	t.Worker = 0
	t.Channel = channelName(t.JobID, t.Stage, t.ID, t.Attempt)
	s.taskQueue.PushBack(t.ID)
}

func (s *Scheduler) failJobOutput(jobID JobID, cause error) {
	out, ok := s.jobOutputs[jobID]
	if !ok {
		return
	}
	out.State = JobOutputDone
	if out.ResultSink != nil {
		close(out.ResultSink)
	}
}

func (s *Scheduler) releaseJobChannels(job *Job) {
	for _, ch := range job.allChannels() {
		for _, w := range s.workers {
			_ = s.dispatcher.RemoveStream(w, ch)
		}
	}
}

func (s *Scheduler) checkJobCompletion(jobID JobID) {
	job, ok := s.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	if !job.allTasksTerminal() {
		return
	}
	job.setState(JobSucceeded, nil)
	if out, ok := s.jobOutputs[jobID]; ok {
		out.State = JobOutputDone
	}
	s.releaseJobChannels(job)
}

func (s *Scheduler) handleJobStatus(m *jobStatusMsg) {
	job, ok := s.jobs[m.jobID]
	if !ok {
		m.reply <- jobStatusReply{found: false}
		return
	}
	state, err := job.getState()
	m.reply <- jobStatusReply{state: state, err: err, found: true}
}

func (s *Scheduler) handleCancelJob(m *cancelJobMsg) {
	job, ok := s.jobs[m.jobID]
	if !ok {
		m.reply <- newError(NotFound, "job %d not found", m.jobID)
		return
	}
	job.setState(JobCanceled, nil)
	for _, stage := range job.Stages {
		for _, t := range stage.Tasks {
			if t.State == TaskRunning || t.State == TaskScheduled {
				if w, ok := s.workers[t.Worker]; ok {
					_ = s.dispatcher.StopTask(w, t)
				}
			}
		}
	}
	s.releaseJobChannels(job)
	s.failJobOutput(m.jobID, newError(Canceled, "job %d canceled", m.jobID))
	m.reply <- nil
}

// --- schedule cycle, worker loss, idle reclamation (spec.md §4.5)

func (s *Scheduler) runScheduleCycle() {
	skipped := list.New()

	for s.taskQueue.Len() > 0 {
		front := s.taskQueue.Front()
		tid := s.taskQueue.Remove(front).(TaskID)
		t, ok := s.tasks[tid]
		if !ok {
			continue
		}

		if !s.canSchedule(t) {
			skipped.PushBack(tid)
			continue
		}
		if t.State == TaskCreated {
			t.State = TaskPending
		}

		w := s.nextFreeWorker()
		if w == nil {
			skipped.PushBack(tid)
			break
		}

		stage := s.stageFor(t)
		planBytes, err := stage.encodedPlan()
		if err != nil {
			t.State = TaskFailed
			t.Err = wrapError(InvalidPlan, err, "stage plan serialization failed")
			s.handleTaskFailure(t, InvalidPlan)
			continue
		}

		if err := s.dispatcher.RunTask(w, t, planBytes, s.shuffleSourcesFor(t), stage.NumPartitions, stage.Consumption); err != nil {
			log.Warnf("scheduler: run_task dispatch to worker %d failed: %+v", w.ID, err)
			skipped.PushBack(tid)
			continue
		}

		t.State = TaskScheduled
		t.Worker = w.ID
		w.occupy(t.ID)
	}

	merged := list.New()
	merged.PushBackList(skipped)
	merged.PushBackList(s.taskQueue)
	s.taskQueue = merged
}

func (s *Scheduler) stageFor(t *Task) *Stage {
	return s.jobs[t.JobID].Stages[t.Stage]
}

// canSchedule is spec.md §4.5's `can_schedule`: every task in every
// predecessor stage must be Running or Succeeded; stage 0 is always
// schedulable.
func (s *Scheduler) canSchedule(t *Task) bool {
	job, ok := s.jobs[t.JobID]
	if !ok || job.State.Terminal() {
		return false
	}
	for s2 := 0; s2 < t.Stage; s2++ {
		if !job.Stages[s2].allRunningOrSucceeded() {
			return false
		}
	}
	return true
}

// nextFreeWorker selects the next worker with a free slot, round-robin
// over Running workers sorted by id for determinism (spec.md §4.5
// "Worker selection: round-robin over workers with free slots").
func (s *Scheduler) nextFreeWorker() *Worker {
	ids := make([]WorkerID, 0, len(s.workers))
	for id, w := range s.workers {
		if w.State == WorkerRunning && w.freeSlots() > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.rrCursor = s.rrCursor % len(ids)
	w := s.workers[ids[s.rrCursor]]
	s.rrCursor++
	return w
}

// probeWorkers runs worker-loss detection and idle reclamation once per
// tick (spec.md §4.5). It re-enters the actor's own loop rather than
// blocking on I/O directly, per §5/§9's "actors never block on external
// I/O" rule: ScaleUp/Stop calls below are expected to be fire-and-forget
// or quick local bookkeeping in the fleet provider.
func (s *Scheduler) probeWorkers() {
	now := time.Now()
	for id, w := range s.workers {
		if w.State != WorkerRunning {
			continue
		}
		if now.Sub(w.LastHeartbeat) > s.cfg.WorkerLossThreshold {
			s.failWorker(w, "lost")
			continue
		}
		if w.idle() && now.Sub(w.LastUpdate) > s.cfg.WorkerIdleThreshold {
			if err := s.fleet.Stop(uint64(id)); err != nil {
				log.Warnf("scheduler: idle worker %d stop failed: %+v", id, err)
			} else {
				w.State = WorkerStopped
			}
		}
	}
	s.runScheduleCycle()
}

func (s *Scheduler) failWorker(w *Worker, message string) {
	w.State = WorkerFailed
	w.FailMessage = message
	for tid := range w.Occupied {
		t, ok := s.tasks[tid]
		if !ok {
			continue
		}
		s.handleTaskFailure(t, workerLossCause)
	}
	w.Occupied = make(map[TaskID]struct{})
}

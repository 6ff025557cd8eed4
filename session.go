package emberql

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/emberql/emberql/plan"
)

// SessionKey is the (user_id, session_id) pair a Session is keyed by
// (spec.md §3 "Session").
type SessionKey struct {
	UserID    string
	SessionID string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.SessionID)
}

// JobRunner is a Session's handle to job execution, local (an in-process
// Scheduler) or cluster (a client of a standing driver). Generalizes the
// teacher's single in-process Driver into something a Session can own per
// spec.md §4.7's "assemble the job runner based on configured execution
// mode."
type JobRunner interface {
	SubmitJob(root plan.Node, resultSink chan<- []ResultPartition) (JobID, error)
	CancelJob(jobID JobID) error
	JobStatus(jobID JobID) (JobState, error, bool)
	Stop()
}

type localJobRunner struct {
	scheduler *Scheduler
}

func (r *localJobRunner) SubmitJob(root plan.Node, sink chan<- []ResultPartition) (JobID, error) {
	return r.scheduler.SubmitJob(root, sink)
}

func (r *localJobRunner) CancelJob(jobID JobID) error {
	return r.scheduler.CancelJob(jobID)
}

func (r *localJobRunner) JobStatus(jobID JobID) (JobState, error, bool) {
	return r.scheduler.JobStatus(jobID)
}

func (r *localJobRunner) Stop() {
	r.scheduler.Stop()
}

// NewLocalJobRunner wraps an already-running Scheduler as a JobRunner, the
// binding cmd/ember-driver uses for every session when the scheduler lives
// in the same process (spec.md §4.7 "assemble the job runner based on
// configured execution mode" — the local-mode half of that assembly).
func NewLocalJobRunner(scheduler *Scheduler) JobRunner {
	return &localJobRunner{scheduler: scheduler}
}

// Session is a per-(user, session) execution context (spec.md §3/§4.7): a
// catalog view, a job runner, a config snapshot, an activity timestamp,
// and the set of its live operation ids.
type Session struct {
	Key SessionKey

	Catalog    Catalog
	Extensions ExtensionRegistry
	Runner     JobRunner
	Config     *Config

	mu       sync.Mutex
	activeAt time.Time
	liveOps  map[string]struct{}
}

func (s *Session) TrackActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.After(s.activeAt) {
		s.activeAt = now // §3 invariant 7: active_at is monotonically non-decreasing
	}
}

func (s *Session) ActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAt
}

func (s *Session) AddOperation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveOps[id] = struct{}{}
}

func (s *Session) RemoveOperation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.liveOps, id)
}

// SessionManager is the C7 actor: owns a map of SessionKey → *Session
// behind a single inbox, so concurrent get_or_create calls for the same
// key collapse to one construction (spec.md §4.7).
type SessionManager struct {
	cfg     *Config
	newRunner func(*Config) JobRunner

	inbox chan interface{}
	done  chan struct{}

	sessions map[SessionKey]*Session
	pending  map[SessionKey][]chan *Session
}

func NewSessionManager(cfg *Config, newRunner func(*Config) JobRunner) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		newRunner: newRunner,
		inbox:     make(chan interface{}, 256),
		done:      make(chan struct{}),
		sessions:  make(map[SessionKey]*Session),
		pending:   make(map[SessionKey][]chan *Session),
	}
}

func (m *SessionManager) Run() {
	defer close(m.done)
	for msg := range m.inbox {
		m.handle(msg)
	}
}

func (m *SessionManager) Stop() {
	close(m.inbox)
	<-m.done
}

type getOrCreateMsg struct {
	key   SessionKey
	reply chan *Session
}

type trackActivityMsg struct {
	key SessionKey
}

type idleProbeMsg struct {
	key          SessionKey
	probedAt     time.Time
	recordedActive time.Time
}

type releaseSessionMsg struct {
	key   SessionKey
	reply chan struct{}
}

// GetOrCreate returns the Session for key, constructing it at most once
// even under concurrent callers (spec.md §4.7 "get_or_create").
func (m *SessionManager) GetOrCreate(key SessionKey) *Session {
	reply := make(chan *Session, 1)
	m.inbox <- &getOrCreateMsg{key: key, reply: reply}
	return <-reply
}

func (m *SessionManager) TrackActivity(key SessionKey) {
	m.inbox <- &trackActivityMsg{key: key}
}

// ReleaseSession explicitly terminates a session (spec.md §4.8
// ReleaseSession), idempotent like the other teardown operations.
func (m *SessionManager) ReleaseSession(key SessionKey) {
	reply := make(chan struct{}, 1)
	m.inbox <- &releaseSessionMsg{key: key, reply: reply}
	<-reply
}

func (m *SessionManager) handle(msg interface{}) {
	switch v := msg.(type) {
	case *getOrCreateMsg:
		m.handleGetOrCreate(v)
	case *trackActivityMsg:
		m.handleTrackActivity(v)
	case *idleProbeMsg:
		m.handleIdleProbe(v)
	case *releaseSessionMsg:
		m.handleReleaseSession(v)
	}
}

func (m *SessionManager) handleGetOrCreate(msg *getOrCreateMsg) {
	if s, ok := m.sessions[msg.key]; ok {
		msg.reply <- s
		return
	}
	if waiters, constructing := m.pending[msg.key]; constructing {
		m.pending[msg.key] = append(waiters, msg.reply)
		return
	}
	m.pending[msg.key] = []chan *Session{msg.reply}

	now := time.Now()
	s := &Session{
		Key:        msg.key,
		Catalog:    emptyCatalog{},
		Extensions: emptyExtensionRegistry{},
		Runner:     m.newRunner(m.cfg),
		Config:     m.cfg,
		activeAt:   now,
		liveOps:    make(map[string]struct{}),
	}
	m.sessions[msg.key] = s
	m.scheduleIdleProbe(msg.key, now)

	for _, waiter := range m.pending[msg.key] {
		waiter <- s
	}
	delete(m.pending, msg.key)
}

func (m *SessionManager) handleTrackActivity(msg *trackActivityMsg) {
	s, ok := m.sessions[msg.key]
	if !ok {
		return
	}
	s.TrackActivity()
	m.scheduleIdleProbe(msg.key, s.ActiveAt())
}

// scheduleIdleProbe arms a delayed check that re-enters the actor's inbox,
// the Go shape of spec.md §4.7's "schedule a delayed check... when fired,
// if active_at ≤ recorded_instant, evict."
func (m *SessionManager) scheduleIdleProbe(key SessionKey, recordedActive time.Time) {
	timeout := m.cfg.SessionIdleTimeout
	time.AfterFunc(timeout, func() {
		defer func() { recover() }() // inbox may already be closed at shutdown
		m.inbox <- &idleProbeMsg{key: key, probedAt: time.Now(), recordedActive: recordedActive}
	})
}

func (m *SessionManager) handleIdleProbe(msg *idleProbeMsg) {
	s, ok := m.sessions[msg.key]
	if !ok {
		return
	}
	if s.ActiveAt().After(msg.recordedActive) {
		return // activity refreshed since this probe was scheduled
	}
	log.Debugf("session %s idle since %s, evicting", msg.key, s.ActiveAt())
	s.Runner.Stop()
	delete(m.sessions, msg.key)
}

func (m *SessionManager) handleReleaseSession(msg *releaseSessionMsg) {
	if s, ok := m.sessions[msg.key]; ok {
		s.Runner.Stop()
		delete(m.sessions, msg.key)
	}
	msg.reply <- struct{}{}
}

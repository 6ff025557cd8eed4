package emberql

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/plan"
)

type fakeJobRunner struct {
	mu      sync.Mutex
	stopped bool
}

func (r *fakeJobRunner) SubmitJob(root plan.Node, sink chan<- []ResultPartition) (JobID, error) {
	return 1, nil
}
func (r *fakeJobRunner) CancelJob(jobID JobID) error { return nil }
func (r *fakeJobRunner) JobStatus(jobID JobID) (JobState, error, bool) {
	return JobRunning, nil, true
}
func (r *fakeJobRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}
func (r *fakeJobRunner) wasStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func testSessionConfig(idleTimeout time.Duration) *Config {
	return &Config{SessionIdleTimeout: idleTimeout}
}

func TestSessionManager_GetOrCreateIsIdempotent(t *testing.T) {
	var runners []*fakeJobRunner
	var mu sync.Mutex
	m := NewSessionManager(testSessionConfig(time.Hour), func(*Config) JobRunner {
		mu.Lock()
		defer mu.Unlock()
		r := &fakeJobRunner{}
		runners = append(runners, r)
		return r
	})
	go m.Run()
	defer m.Stop()

	key := SessionKey{UserID: "u1", SessionID: "s1"}
	s1 := m.GetOrCreate(key)
	s2 := m.GetOrCreate(key)

	assert.Same(t, s1, s2)
	mu.Lock()
	assert.Len(t, runners, 1)
	mu.Unlock()
}

func TestSessionManager_GetOrCreateConcurrentCallersCollapseToOneConstruction(t *testing.T) {
	var count int
	var mu sync.Mutex
	m := NewSessionManager(testSessionConfig(time.Hour), func(*Config) JobRunner {
		mu.Lock()
		count++
		mu.Unlock()
		return &fakeJobRunner{}
	})
	go m.Run()
	defer m.Stop()

	key := SessionKey{UserID: "u1", SessionID: "s1"}
	var wg sync.WaitGroup
	results := make([]*Session, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetOrCreate(key)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestSessionManager_ReleaseSessionStopsRunner(t *testing.T) {
	runner := &fakeJobRunner{}
	m := NewSessionManager(testSessionConfig(time.Hour), func(*Config) JobRunner { return runner })
	go m.Run()
	defer m.Stop()

	key := SessionKey{UserID: "u1", SessionID: "s1"}
	m.GetOrCreate(key)
	m.ReleaseSession(key)

	assert.True(t, runner.wasStopped())

	// A subsequent GetOrCreate for the same key must construct a fresh
	// session rather than resurrecting the released one.
	fresh := m.GetOrCreate(key)
	require.NotNil(t, fresh)
}

func TestSessionManager_IdleSessionIsEvicted(t *testing.T) {
	runner := &fakeJobRunner{}
	m := NewSessionManager(testSessionConfig(20*time.Millisecond), func(*Config) JobRunner { return runner })
	go m.Run()
	defer m.Stop()

	key := SessionKey{UserID: "u1", SessionID: "s1"}
	m.GetOrCreate(key)

	require.Eventually(t, runner.wasStopped, time.Second, time.Millisecond)
}

func TestSessionManager_TrackActivityDefersIdleEviction(t *testing.T) {
	runner := &fakeJobRunner{}
	m := NewSessionManager(testSessionConfig(60*time.Millisecond), func(*Config) JobRunner { return runner })
	go m.Run()
	defer m.Stop()

	key := SessionKey{UserID: "u1", SessionID: "s1"}
	m.GetOrCreate(key)

	time.Sleep(30 * time.Millisecond)
	m.TrackActivity(key)

	time.Sleep(40 * time.Millisecond)
	assert.False(t, runner.wasStopped(), "activity tracked mid-timeout should have deferred eviction")

	require.Eventually(t, runner.wasStopped, time.Second, time.Millisecond)
}

func TestSession_AddRemoveOperation(t *testing.T) {
	s := &Session{liveOps: make(map[string]struct{})}
	s.AddOperation("op1")
	s.AddOperation("op2")
	s.RemoveOperation("op1")

	assert.NotContains(t, s.liveOps, "op1")
	assert.Contains(t, s.liveOps, "op2")
}

func TestSession_TrackActivityIsMonotonic(t *testing.T) {
	s := &Session{activeAt: time.Now()}
	before := s.ActiveAt()

	s.TrackActivity()
	assert.True(t, !s.ActiveAt().Before(before))
}

package emberql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_StringAndTerminal(t *testing.T) {
	cases := []struct {
		state    JobState
		str      string
		terminal bool
	}{
		{JobRunning, "Running", false},
		{JobSucceeded, "Succeeded", true},
		{JobFailed, "Failed", true},
		{JobCanceled, "Canceled", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.str, c.state.String())
		assert.Equal(t, c.terminal, c.state.Terminal())
	}
}

func TestJob_AllTasksTerminal(t *testing.T) {
	stage := &Stage{Tasks: []*Task{
		newTask(1, 1, 0, 0, TaskBlocking, false),
		newTask(2, 1, 0, 1, TaskBlocking, false),
	}}
	j := newJob(1, []*Stage{stage})
	assert.False(t, j.allTasksTerminal())

	stage.Tasks[0].State = TaskSucceeded
	assert.False(t, j.allTasksTerminal())

	stage.Tasks[1].State = TaskFailed
	assert.True(t, j.allTasksTerminal())
}

func TestJob_FinalStage(t *testing.T) {
	j := newJob(1, nil)
	assert.Nil(t, j.finalStage())

	s1 := &Stage{Ordinal: 0}
	s2 := &Stage{Ordinal: 1}
	j = newJob(1, []*Stage{s1, s2})
	assert.Same(t, s2, j.finalStage())
}

func TestJob_SetStateIsStickyOnceTerminal(t *testing.T) {
	j := newJob(1, nil)
	j.setState(JobFailed, errors.New("boom"))

	state, err := j.getState()
	require.Equal(t, JobFailed, state)
	require.EqualError(t, err, "boom")

	// A second transition after terminal must be ignored.
	j.setState(JobSucceeded, nil)
	state, err = j.getState()
	assert.Equal(t, JobFailed, state)
	assert.EqualError(t, err, "boom")
}

func TestJob_AllChannels(t *testing.T) {
	stage1 := &Stage{Tasks: []*Task{
		{Channel: "job-1/stage-0/task-1/attempt-0"},
		{Channel: ""},
	}}
	stage2 := &Stage{Tasks: []*Task{
		{Channel: "job-1/stage-1/task-2/attempt-0"},
	}}
	j := newJob(1, []*Stage{stage1, stage2})

	assert.Equal(t, []string{
		"job-1/stage-0/task-1/attempt-0",
		"job-1/stage-1/task-2/attempt-0",
	}, j.allChannels())
}

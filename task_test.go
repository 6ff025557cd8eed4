package emberql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskState_StringAndTerminal(t *testing.T) {
	cases := []struct {
		state    TaskState
		str      string
		terminal bool
	}{
		{TaskCreated, "Created", false},
		{TaskPending, "Pending", false},
		{TaskScheduled, "Scheduled", false},
		{TaskRunning, "Running", false},
		{TaskSucceeded, "Succeeded", true},
		{TaskFailed, "Failed", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.str, c.state.String())
		assert.Equal(t, c.terminal, c.state.Terminal())
	}
}

func TestNewTask_FieldsAndDefaults(t *testing.T) {
	tk := newTask(7, 3, 2, 1, TaskPipelined, true)
	assert.Equal(t, TaskID(7), tk.ID)
	assert.Equal(t, JobID(3), tk.JobID)
	assert.Equal(t, 2, tk.Stage)
	assert.Equal(t, 1, tk.Partition)
	assert.Equal(t, TaskPipelined, tk.Mode)
	assert.Equal(t, TaskCreated, tk.State)
	assert.True(t, tk.IsFinalStage)
	assert.Equal(t, "", tk.Channel)
}

package emberql

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/plan"
	"github.com/emberql/emberql/planner"
)

func testScanStage(ordinal, numPartitions int) *planner.Stage {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	return &planner.Stage{
		Ordinal:       ordinal,
		Root:          &plan.ScanNode{Paths: []string{"x"}, NumPartitions: numPartitions, OutputSchema: schema},
		NumPartitions: numPartitions,
		Consumption:   plan.SingleConsumerMode,
	}
}

func TestNewStageFromPlan_IntermediateStageTasksAreBlocking(t *testing.T) {
	var nextID TaskID
	alloc := func() TaskID { nextID++; return nextID }

	s := newStageFromPlan(testScanStage(0, 3), 1, false, alloc)
	require.Len(t, s.Tasks, 3)
	for i, tk := range s.Tasks {
		assert.Equal(t, TaskBlocking, tk.Mode)
		assert.False(t, tk.IsFinalStage)
		assert.Equal(t, i, tk.Partition)
		assert.Equal(t, JobID(1), tk.JobID)
	}
}

func TestNewStageFromPlan_FinalStageTasksArePipelined(t *testing.T) {
	var nextID TaskID
	alloc := func() TaskID { nextID++; return nextID }

	s := newStageFromPlan(testScanStage(1, 2), 1, true, alloc)
	require.Len(t, s.Tasks, 2)
	for _, tk := range s.Tasks {
		assert.Equal(t, TaskPipelined, tk.Mode)
		assert.True(t, tk.IsFinalStage)
	}
}

func TestStage_AllRunningOrSucceeded(t *testing.T) {
	s := &Stage{Tasks: []*Task{
		{State: TaskRunning},
		{State: TaskSucceeded},
	}}
	assert.True(t, s.allRunningOrSucceeded())

	s.Tasks = append(s.Tasks, &Task{State: TaskPending})
	assert.False(t, s.allRunningOrSucceeded())
}

func TestStage_EncodedPlanCachesResult(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	s := &Stage{Root: &plan.ScanNode{Paths: []string{"x"}, NumPartitions: 1, OutputSchema: schema}}

	b1, err := s.encodedPlan()
	require.NoError(t, err)
	require.NotEmpty(t, b1)
	require.NotNil(t, s.planBytes)

	// Mutate the cache directly to prove the second call reads the cache
	// rather than re-encoding.
	s.planBytes = append([]byte(nil), b1...)
	s.planBytes = append(s.planBytes, 0xFF)
	b2, err := s.encodedPlan()
	require.NoError(t, err)
	assert.Equal(t, s.planBytes, b2)
}

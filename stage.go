package emberql

import (
	"github.com/emberql/emberql/plan"
	"github.com/emberql/emberql/planner"
)

// Stage wraps one planner.Stage with the scheduler-owned bookkeeping the
// planner itself doesn't know about: which Tasks were created for its
// output partitions, each of which records its JobID (spec.md §3 "Stage").
type Stage struct {
	Ordinal       int
	Root          plan.Node
	NumPartitions int
	Consumption   plan.ConsumptionMode

	Tasks []*Task

	planBytes []byte
}

// encodedPlan serializes Root once and caches the result; every task of
// this stage shares the same plan fragment (spec.md §9 "plan
// serialization... not in-place mutation").
func (s *Stage) encodedPlan() ([]byte, error) {
	if s.planBytes != nil {
		return s.planBytes, nil
	}
	b, err := plan.Encode(s.Root)
	if err != nil {
		return nil, err
	}
	s.planBytes = b
	return b, nil
}

func newStageFromPlan(ps *planner.Stage, jobID JobID, isFinal bool, nextID func() TaskID) *Stage {
	s := &Stage{
		Ordinal:       ps.Ordinal,
		Root:          ps.Root,
		NumPartitions: ps.NumPartitions,
		Consumption:   ps.Consumption,
		Tasks:         make([]*Task, ps.NumPartitions),
	}
	for p := 0; p < ps.NumPartitions; p++ {
		id := nextID()
		s.Tasks[p] = newTask(id, jobID, ps.Ordinal, p, TaskBlocking, isFinal)
	}
	if isFinal {
		for _, t := range s.Tasks {
			t.Mode = TaskPipelined
		}
	}
	return s
}

// allRunningOrSucceeded reports whether every task of this stage has
// reached at least Running, the readiness condition spec.md §3 invariant 3
// and §4.5 `can_schedule` both require of predecessor stages.
func (s *Stage) allRunningOrSucceeded() bool {
	for _, t := range s.Tasks {
		if t.State != TaskRunning && t.State != TaskSucceeded {
			return false
		}
	}
	return true
}

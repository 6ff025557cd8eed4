package emberql

import (
	"fmt"

	"github.com/emberql/emberql/plan"
)

// ShuffleSource tells a worker where one upstream producer task's output
// channel lives, so the worker's shuffle-read step (internal/pkg/embworker)
// can dial the right peer and Fetch it (spec.md §4.3/§4.8 "Fetch"). The
// abstract RunTask(plan_bytes) of spec.md §6 carries no address information
// by itself — a plan fragment only names the producer StageID — so the
// scheduler resolves addresses at dispatch time, same as it resolves a
// Worker's Host/Port before ever speaking to it.
type ShuffleSource struct {
	WorkerAddr string
	Channel    string
}

// shuffleSourcesFor resolves the producer addresses the ShuffleReadNode in a
// task's stage needs, if it has one. A stage's operators form a chain (each
// has at most one child), so the search follows that chain down from the
// stage root; a stage with no ShuffleReadNode (stage 0) has no sources to
// resolve.
func (s *Scheduler) shuffleSourcesFor(t *Task) []ShuffleSource {
	job, ok := s.jobs[t.JobID]
	if !ok {
		return nil
	}
	stage := job.Stages[t.Stage]
	var rn *plan.ShuffleReadNode
	for n := stage.Root; n != nil; {
		if r, ok := n.(*plan.ShuffleReadNode); ok {
			rn = r
			break
		}
		children := n.Children()
		if len(children) == 0 {
			break
		}
		n = children[0]
	}
	if rn == nil {
		return nil
	}
	producer := job.Stages[rn.StageID]
	sources := make([]ShuffleSource, 0, len(producer.Tasks))
	for _, pt := range producer.Tasks {
		w, ok := s.workers[pt.Worker]
		if !ok {
			continue
		}
		sources = append(sources, ShuffleSource{
			WorkerAddr: fmt.Sprintf("%s:%d", w.Host, w.Port),
			Channel:    pt.Channel,
		})
	}
	return sources
}

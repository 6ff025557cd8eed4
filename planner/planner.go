// Package planner implements the stage planner (spec.md §4.4, component
// C4): it walks a physical plan tree and splits it into a DAG of Stages
// wherever a shuffle boundary is required.
package planner

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/emberql/emberql/plan"
)

// Stage is a pipelined plan fragment with a single logical output
// partitioning (spec.md §3 "Stage").
type Stage struct {
	Ordinal         int
	Root            plan.Node
	NumPartitions   int
	Consumption     plan.ConsumptionMode
	Schema          *arrow.Schema
}

// Plan walks root post-order (spec.md §4.4 step 1) and returns the ordered
// stage list [S0, S1, ..., Sn] where Sn is the final stage. The algorithm
// never reorders stages; nested shuffle boundaries yield a linear chain.
func Plan(root plan.Node) ([]*Stage, error) {
	b := &builder{}
	rewritten := b.walk(root)
	b.stages = append(b.stages, &Stage{
		Root:        rewritten,
		Consumption: plan.SingleConsumerMode,
		Schema:      rewritten.Schema(),
	})
	for i, s := range b.stages {
		s.Ordinal = i
		s.NumPartitions = outputPartitions(s.Root)
	}
	return b.stages, nil
}

type builder struct {
	stages []*Stage
}

// walk performs the post-order rewrite described in spec.md §4.4 step 2:
// a repartition node with Hash/Range partitioning, or a coalesce-to-one
// node, splits the tree at that point. The node is replaced in the outer
// tree by a ShuffleReadNode; the subtree below it (excluding the node
// itself in both cases, since the shuffle write carries the node's
// partitioning, SingleConsumer for coalesce) becomes the root of a new
// earlier stage.
func (b *builder) walk(n plan.Node) plan.Node {
	children := n.Children()
	rewrittenChildren := make([]plan.Node, len(children))
	for i, c := range children {
		rewrittenChildren[i] = b.walk(c)
	}
	n = withChildren(n, rewrittenChildren)

	switch v := n.(type) {
	case *plan.RepartitionNode:
		switch v.Partitioning.Kind() {
		case plan.KindHash, plan.KindRange:
			return b.splitShuffle(v.Child, v.Partitioning, plan.SingleConsumerMode)
		default:
			// RoundRobin/Unknown: no shuffle boundary (spec.md §4.4).
			return n
		}
	case *plan.CoalesceNode:
		return b.splitShuffle(v.Child, plan.SingleConsumer{}, plan.MultiConsumerMode)
	default:
		return n
	}
}

// splitShuffle pushes child as the root of a new stage behind a
// ShuffleWriteNode, and returns a ShuffleReadNode standing in for it in the
// tree being built above.
func (b *builder) splitShuffle(child plan.Node, partitioning plan.Partitioning, consumption plan.ConsumptionMode) plan.Node {
	stageID := len(b.stages)
	write := &plan.ShuffleWriteNode{Child: child, StageID: stageID, Partitioning: partitioning}
	b.stages = append(b.stages, &Stage{
		Root:        write,
		Consumption: consumption,
		Schema:      child.Schema(),
	})
	return &plan.ShuffleReadNode{
		StageID:      stageID,
		Partitioning: partitioning,
		Consumption:  consumption,
		InputSchema:  child.Schema(),
	}
}

// withChildren rebuilds n with its (possibly rewritten) children, since
// plan.Node has no generic "replace children" operation — each concrete
// type owns exactly its own child slots (spec.md §9: the planner rewrites
// by tree transformation, not in-place mutation).
func withChildren(n plan.Node, children []plan.Node) plan.Node {
	switch v := n.(type) {
	case *plan.ScanNode:
		return v
	case *plan.FilterNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.ProjectNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.AggregateNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.RepartitionNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.CoalesceNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.ShuffleWriteNode:
		cp := *v
		cp.Child = children[0]
		return &cp
	case *plan.ShuffleReadNode:
		return v
	default:
		return n
	}
}

// outputPartitions returns a stage's task count. For every node kind this
// is the node's own declared output partitioning, EXCEPT a ShuffleWriteNode:
// its stage must run one producer task per upstream input partition (spec.md
// §4.4: "a ShuffleWrite node ... produces N output partitions per producer
// task"), not one task per downstream target bucket. A write node's own
// Partitioning names the *target* bucket count, which can differ from the
// number of tasks needed to scan and redistribute its input.
func outputPartitions(n plan.Node) int {
	if w, ok := n.(*plan.ShuffleWriteNode); ok {
		return outputPartitions(w.Child)
	}
	p := n.OutputPartitioning()
	if p.NumPartitions() <= 0 {
		return 1
	}
	return p.NumPartitions()
}

package plan

import "github.com/apache/arrow-go/v18/arrow"

// ShuffleWriteNode is a planner-injected extension marking the root of a
// stage that must redistribute its output. It is opaque to every other
// operator kind: nothing outside the planner and the worker's shuffle
// dispatch ever type-switches on it beyond Kind() (spec.md §9).
type ShuffleWriteNode struct {
	Child        Node
	StageID      int
	Partitioning Partitioning
}

func (n *ShuffleWriteNode) Kind() NodeKind               { return KindShuffleWrite }
func (n *ShuffleWriteNode) Children() []Node             { return []Node{n.Child} }
func (n *ShuffleWriteNode) OutputPartitioning() Partitioning { return n.Partitioning }
func (n *ShuffleWriteNode) Schema() *arrow.Schema        { return n.Child.Schema() }

// ShuffleReadNode is the planner-injected counterpart consumed at the root
// of the downstream stage. It has no children of its own in the plan tree
// it lives in — its "input" is the shuffle store, addressed by StageID at
// execution time, not a plan-tree edge.
type ShuffleReadNode struct {
	StageID      int
	Partitioning Partitioning
	Consumption  ConsumptionMode
	InputSchema  *arrow.Schema
}

func (n *ShuffleReadNode) Kind() NodeKind               { return KindShuffleRead }
func (n *ShuffleReadNode) Children() []Node             { return nil }
func (n *ShuffleReadNode) OutputPartitioning() Partitioning { return n.Partitioning }
func (n *ShuffleReadNode) Schema() *arrow.Schema        { return n.InputSchema }

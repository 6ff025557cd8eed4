// Package plan defines the physical plan tree the stage planner walks.
// A node exposes its children, its output partitioning, its schema and its
// operator kind (spec.md §4.4) — nothing more; the planner never inspects
// operator-specific fields of a node it doesn't own.
package plan

import "github.com/apache/arrow-go/v18/arrow"

// NodeKind identifies an operator's taxonomy entry. ShuffleWrite/ShuffleRead
// are planner-injected and opaque to every other operator (spec.md §9).
type NodeKind int

const (
	KindScan NodeKind = iota
	KindFilter
	KindProject
	KindAggregate
	KindRepartition
	KindCoalesce
	KindShuffleWrite
	KindShuffleRead
)

func (k NodeKind) String() string {
	switch k {
	case KindScan:
		return "Scan"
	case KindFilter:
		return "Filter"
	case KindProject:
		return "Project"
	case KindAggregate:
		return "Aggregate"
	case KindRepartition:
		return "Repartition"
	case KindCoalesce:
		return "Coalesce"
	case KindShuffleWrite:
		return "ShuffleWrite"
	case KindShuffleRead:
		return "ShuffleRead"
	default:
		return "Unknown"
	}
}

// Node is one operator in the physical plan tree.
type Node interface {
	Kind() NodeKind
	Children() []Node
	OutputPartitioning() Partitioning
	Schema() *arrow.Schema
}

// ScanNode is a zero-child source. It is always a leaf of whatever stage
// contains it (spec.md §4.4 edge case: a node with zero children is always
// within a stage).
type ScanNode struct {
	Paths          []string
	NumPartitions  int
	OutputSchema   *arrow.Schema
}

func (n *ScanNode) Kind() NodeKind               { return KindScan }
func (n *ScanNode) Children() []Node             { return nil }
func (n *ScanNode) OutputPartitioning() Partitioning { return RoundRobin{N: n.NumPartitions} }
func (n *ScanNode) Schema() *arrow.Schema        { return n.OutputSchema }

// FilterNode keeps its child's partitioning and schema; a predicate over
// rows never changes either.
type FilterNode struct {
	Child     Node
	Predicate string
}

func (n *FilterNode) Kind() NodeKind               { return KindFilter }
func (n *FilterNode) Children() []Node             { return []Node{n.Child} }
func (n *FilterNode) OutputPartitioning() Partitioning { return n.Child.OutputPartitioning() }
func (n *FilterNode) Schema() *arrow.Schema        { return n.Child.Schema() }

// ProjectNode narrows/renames columns; partitioning is preserved, schema
// changes to OutSchema.
type ProjectNode struct {
	Child     Node
	Exprs     []string
	OutSchema *arrow.Schema
}

func (n *ProjectNode) Kind() NodeKind               { return KindProject }
func (n *ProjectNode) Children() []Node             { return []Node{n.Child} }
func (n *ProjectNode) OutputPartitioning() Partitioning { return n.Child.OutputPartitioning() }
func (n *ProjectNode) Schema() *arrow.Schema        { return n.OutSchema }

// AggregateNode computes grouped aggregates. Partial=true is the pre-shuffle
// half of a two-phase aggregate (spec.md §8 scenario 2); Partial=false is
// the post-shuffle final aggregate, whose partitioning collapses to
// whatever its (post-shuffle-read) child reports.
type AggregateNode struct {
	Child      Node
	GroupBy    []string
	Aggregates []string
	Partial    bool
	OutSchema  *arrow.Schema
}

func (n *AggregateNode) Kind() NodeKind               { return KindAggregate }
func (n *AggregateNode) Children() []Node             { return []Node{n.Child} }
func (n *AggregateNode) OutputPartitioning() Partitioning { return n.Child.OutputPartitioning() }
func (n *AggregateNode) Schema() *arrow.Schema        { return n.OutSchema }

// RepartitionNode requests a new output partitioning over its child. The
// planner splits on this node whenever Partitioning is Hash or Range
// (spec.md §4.4 step 2); RoundRobin/Unknown partitionings pass through
// without a shuffle boundary.
type RepartitionNode struct {
	Child        Node
	Partitioning Partitioning
}

func (n *RepartitionNode) Kind() NodeKind               { return KindRepartition }
func (n *RepartitionNode) Children() []Node             { return []Node{n.Child} }
func (n *RepartitionNode) OutputPartitioning() Partitioning { return n.Partitioning }
func (n *RepartitionNode) Schema() *arrow.Schema        { return n.Child.Schema() }

// CoalesceNode collapses every partition of its child into a single
// downstream partition (spec.md §4.4 "coalesce-to-one"); the planner always
// splits on it with consumption mode MultiConsumer.
type CoalesceNode struct {
	Child Node
}

func (n *CoalesceNode) Kind() NodeKind               { return KindCoalesce }
func (n *CoalesceNode) Children() []Node             { return []Node{n.Child} }
func (n *CoalesceNode) OutputPartitioning() Partitioning { return SingleConsumer{} }
func (n *CoalesceNode) Schema() *arrow.Schema        { return n.Child.Schema() }

package planner

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/emberql/emberql/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
}

func TestPlan_NoShuffle(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	filtered := &plan.FilterNode{Child: scan, Predicate: "v > 0"}

	stages, err := Plan(filtered)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 4, stages[0].NumPartitions)
	assert.Equal(t, 0, stages[0].Ordinal)
}

func TestPlan_TwoStageHashAggregate(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	partial := &plan.AggregateNode{Child: scan, GroupBy: []string{"k"}, Partial: true, OutSchema: schema()}
	repart := &plan.RepartitionNode{Child: partial, Partitioning: plan.Hash{Expr: "k", N: 2}}
	final := &plan.AggregateNode{Child: repart, GroupBy: []string{"k"}, Partial: false, OutSchema: schema()}

	stages, err := Plan(final)
	require.NoError(t, err)
	require.Len(t, stages, 2)

	assert.Equal(t, plan.KindShuffleWrite, stages[0].Root.Kind())
	// The write stage must run one producer task per upstream scan
	// partition (4), not per downstream hash bucket (2) — spec.md §4.4's
	// worked example is explicit that these differ.
	assert.Equal(t, 4, stages[0].NumPartitions)

	final1, ok := stages[1].Root.(*plan.AggregateNode)
	require.True(t, ok)
	read, ok := final1.Child.(*plan.ShuffleReadNode)
	require.True(t, ok)
	assert.Equal(t, 0, read.StageID)
	assert.Equal(t, 2, stages[1].NumPartitions)
}

func TestPlan_ShuffleWriteTaskCountComesFromUpstreamNotTargetBuckets(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	partial := &plan.AggregateNode{Child: scan, GroupBy: []string{"k"}, Partial: true, OutSchema: schema()}
	repart := &plan.RepartitionNode{Child: partial, Partitioning: plan.Hash{Expr: "k", N: 2}}
	final := &plan.AggregateNode{Child: repart, GroupBy: []string{"k"}, Partial: false, OutSchema: schema()}

	stages, err := Plan(final)
	require.NoError(t, err)
	require.Len(t, stages, 2)

	write, ok := stages[0].Root.(*plan.ShuffleWriteNode)
	require.True(t, ok)
	assert.Equal(t, 2, write.Partitioning.NumPartitions())
	assert.Equal(t, 4, stages[0].NumPartitions)
}

func TestPlan_CoalesceIsMultiConsumer(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	coalesced := &plan.CoalesceNode{Child: scan}

	stages, err := Plan(coalesced)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, plan.MultiConsumerMode, stages[0].Consumption)
	assert.Equal(t, 1, stages[1].NumPartitions)
}

func TestPlan_NestedShufflesAreLinear(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	r1 := &plan.RepartitionNode{Child: scan, Partitioning: plan.Hash{Expr: "k", N: 3}}
	r2 := &plan.RepartitionNode{Child: r1, Partitioning: plan.Range{Expr: "k", N: 2}}

	stages, err := Plan(r2)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	for i, s := range stages {
		assert.Equal(t, i, s.Ordinal)
	}
}

func TestPlan_RoundRobinDoesNotSplit(t *testing.T) {
	scan := &plan.ScanNode{Paths: []string{"a"}, NumPartitions: 4, OutputSchema: schema()}
	repart := &plan.RepartitionNode{Child: scan, Partitioning: plan.RoundRobin{N: 8}}

	stages, err := Plan(repart)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 8, stages[0].NumPartitions)
}

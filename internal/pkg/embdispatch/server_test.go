package embdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/plan"
)

func TestOperationState_PublishAssignsSequentialIDs(t *testing.T) {
	st := newOperationState(8)
	st.publish(RespBatch, []byte("a"), 0, "")
	st.publish(RespBatch, []byte("b"), 0, "")
	st.publish(RespDone, nil, 0, "")

	require.Len(t, st.buf, 3)
	assert.Equal(t, uint64(1), st.buf[0].ResponseID)
	assert.Equal(t, uint64(2), st.buf[1].ResponseID)
	assert.Equal(t, uint64(3), st.buf[2].ResponseID)
	assert.True(t, st.closed)
}

func TestOperationState_PublishAfterCloseIsNoop(t *testing.T) {
	st := newOperationState(8)
	st.publish(RespDone, nil, 0, "")
	st.publish(RespBatch, []byte("late"), 0, "")

	assert.Len(t, st.buf, 1)
}

func TestOperationState_TrimRespectsCapacity(t *testing.T) {
	st := newOperationState(2)
	st.publish(RespBatch, []byte("a"), 0, "")
	st.publish(RespBatch, []byte("b"), 0, "")
	st.publish(RespBatch, []byte("c"), 0, "")

	require.Len(t, st.buf, 2)
	assert.Equal(t, uint64(2), st.buf[0].ResponseID)
	assert.Equal(t, uint64(3), st.buf[1].ResponseID)
}

func TestOperationState_SubscribeReplaysFromCursor(t *testing.T) {
	st := newOperationState(8)
	st.publish(RespBatch, []byte("a"), 0, "")
	st.publish(RespBatch, []byte("b"), 0, "")
	st.publish(RespDone, nil, 0, "")

	var got []uint64
	err := st.subscribe(context.Background(), 1, func(r *ExecutePlanResponse) error {
		got = append(got, r.ResponseID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, got)
}

func TestOperationState_SubscribeBlocksUntilPublish(t *testing.T) {
	st := newOperationState(8)

	received := make(chan uint64, 1)
	go func() {
		_ = st.subscribe(context.Background(), 0, func(r *ExecutePlanResponse) error {
			received <- r.ResponseID
			return nil
		})
	}()

	select {
	case <-received:
		t.Fatal("subscribe should not have delivered anything yet")
	case <-time.After(20 * time.Millisecond):
	}

	st.publish(RespBatch, []byte("x"), 0, "")
	select {
	case id := <-received:
		assert.Equal(t, uint64(1), id)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not wake on publish")
	}
}

func TestOperationState_SubscribeErrorsOnEvictedCursor(t *testing.T) {
	st := newOperationState(1)
	st.publish(RespBatch, []byte("a"), 0, "")
	st.publish(RespBatch, []byte("b"), 0, "")

	err := st.subscribe(context.Background(), 0, func(r *ExecutePlanResponse) error { return nil })
	require.Error(t, err)
}

func TestOperationState_TrimUntilDropsOldEntries(t *testing.T) {
	st := newOperationState(8)
	st.publish(RespBatch, []byte("a"), 0, "")
	st.publish(RespBatch, []byte("b"), 0, "")

	st.trimUntil(1)
	require.Len(t, st.buf, 1)
	assert.Equal(t, uint64(2), st.buf[0].ResponseID)
}

func TestExplain_IndentsByDepth(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	scan := &plan.ScanNode{Paths: []string{"data.parquet"}, NumPartitions: 4, OutputSchema: schema}
	root := &plan.FilterNode{Child: scan, Predicate: "id > 0"}

	out := explain(root)
	assert.Equal(t, "Filter\n  Scan\n", out)

	fields := fieldDescriptors(root)
	require.Len(t, fields, 2)
	assert.Equal(t, FieldDescriptorDTO{Name: "id", Type: "int64", Nullable: false}, fields[0])
	assert.Equal(t, FieldDescriptorDTO{Name: "name", Type: "utf8", Nullable: true}, fields[1])
}

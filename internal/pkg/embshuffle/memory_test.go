package embshuffle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/plan"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "v", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func testRecord(schema *arrow.Schema, v int64) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(v)
	return b.NewRecord()
}

func TestMemoryStore_OpenTwiceFails(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()

	_, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)

	_, err = s.Open("c1", schema, plan.MultiConsumerMode)
	assert.ErrorIs(t, err, ErrChannelExists)
}

func TestMemoryStore_SubscribeMissingChannel(t *testing.T) {
	s := NewMemoryStore(4)
	_, err := s.Subscribe("nope")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestMemoryStore_WriteThenReadInOrder(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()

	w, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Append(testRecord(schema, i)))
	}
	require.NoError(t, w.Close())

	r, err := s.Subscribe("c1")
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(0); i < 3; i++ {
		rec, err := r.Next(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, i, rec.Column(0).(*array.Int64).Value(0))
	}
	_, err = r.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestMemoryStore_MultiConsumerIndependentCursors(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()

	w, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord(schema, 42)))
	require.NoError(t, w.Close())

	r1, err := s.Subscribe("c1")
	require.NoError(t, err)
	r2, err := s.Subscribe("c1")
	require.NoError(t, err)

	ctx := context.Background()
	rec1, err := r1.Next(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, rec1.Column(0).(*array.Int64).Value(0))

	rec2, err := r2.Next(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, rec2.Column(0).(*array.Int64).Value(0))
}

func TestMemoryStore_SingleConsumerAutoReleasesOnDrain(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()

	w, err := s.Open("c1", schema, plan.SingleConsumerMode)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord(schema, 1)))
	require.NoError(t, w.Close())

	r, err := s.Subscribe("c1")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = r.Next(ctx)
	require.NoError(t, err)
	_, err = r.Next(ctx)
	assert.Equal(t, io.EOF, err)

	_, err = s.Subscribe("c1")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestMemoryStore_AppendBlocksUntilCapacityFrees(t *testing.T) {
	s := NewMemoryStore(1)
	schema := testSchema()

	w, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord(schema, 1)))

	blocked := make(chan struct{})
	go func() {
		_ = w.Append(testRecord(schema, 2))
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("Append should have blocked at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	r, err := s.Subscribe("c1")
	require.NoError(t, err)
	_, err = r.Next(context.Background())
	require.NoError(t, err)

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("Append did not unblock after drain")
	}
}

func TestMemoryStore_ReleaseWakesReaders(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()

	_, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	r, err := s.Subscribe("c1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Release("c1"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReleased)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe release")
	}
}

func TestMemoryStore_NextRespectsContextCancellation(t *testing.T) {
	s := NewMemoryStore(4)
	schema := testSchema()
	_, err := s.Open("c1", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	r, err := s.Subscribe("c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = r.Next(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

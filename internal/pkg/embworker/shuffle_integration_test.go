package embworker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/emberql/emberql/internal/pkg/embshuffle"
	"github.com/emberql/emberql/internal/pkg/embtransport"
	"github.com/emberql/emberql/plan"
)

func testRecord(schema *arrow.Schema, v string) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append(v)
	return b.NewRecord()
}

// startDataPlane spins up a real gRPC server over a TCP listener so
// Runtime's shuffle-read fan-in exercises the actual wire path (embrpc's
// ServiceDesc + embtransport's ipc framing), not a mock.
func startDataPlane(t *testing.T, store embshuffle.Store) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	embtransport.RegisterDataPlaneServer(srv, NewDataPlaneServer(store))
	go srv.Serve(lis)
	return lis.Addr().String(), srv.Stop
}

func TestRuntime_ShuffleReadFansInAllProducers(t *testing.T) {
	schema := testSchema()

	producerStore := embshuffle.NewMemoryStore(8)
	addr, stop := startDataPlane(t, producerStore)
	defer stop()

	// two producer channels, each with one batch, as two Stage-0 tasks
	// would leave behind for a single-partition coalesce read.
	w1, err := producerStore.Open("job-1/stage-0/task-1/attempt-0", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	require.NoError(t, w1.Append(testRecord(schema, "a")))
	require.NoError(t, w1.Close())

	w2, err := producerStore.Open("job-1/stage-0/task-2/attempt-0", schema, plan.MultiConsumerMode)
	require.NoError(t, err)
	require.NoError(t, w2.Append(testRecord(schema, "b")))
	require.NoError(t, w2.Close())

	consumerStore := embshuffle.NewMemoryStore(8)
	reporter := newRecordingReporter()
	rt := NewRuntime(2, consumerStore, NopScanner{}, embtransport.NewFetcher(8), reporter)

	root := &plan.ShuffleReadNode{
		StageID:      0,
		Partitioning: plan.SingleConsumer{},
		Consumption:  plan.SingleConsumerMode,
		InputSchema:  schema,
	}
	planBytes, err := plan.Encode(root)
	require.NoError(t, err)

	err = rt.RunTask(RunTaskRequest{
		TaskID:        10,
		Attempt:       0,
		PlanBytes:     planBytes,
		Partition:     0,
		OutputChannel: "job-1/stage-1/task-10/attempt-0",
		Consumption:   plan.SingleConsumerMode,
		Inputs: []ShuffleInput{
			{WorkerAddr: addr, Channel: "job-1/stage-0/task-1/attempt-0"},
			{WorkerAddr: addr, Channel: "job-1/stage-0/task-2/attempt-0"},
		},
	})
	require.NoError(t, err)

	reports := reporter.waitFor(2, t)
	require.Equal(t, TaskSucceeded, reports[len(reports)-1].State)

	reader, err := consumerStore.Subscribe("job-1/stage-1/task-10/attempt-0")
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var seen []string
	for {
		rec, err := reader.Next(ctx)
		if err != nil {
			break
		}
		col := rec.Column(0).(*array.String)
		seen = append(seen, col.Value(0))
		rec.Release()
	}
	require.ElementsMatch(t, []string{"a", "b"}, seen)
}

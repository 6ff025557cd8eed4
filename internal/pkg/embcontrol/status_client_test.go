package embcontrol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/emberql/emberql/internal/pkg/embworker"
)

// fakeDriverControlClient records the last request of each kind it saw,
// standing in for a real gRPC client connection.
type fakeDriverControlClient struct {
	lastStatus    *TaskStatusRequest
	lastHeartbeat *HeartbeatRequest
}

func (c *fakeDriverControlClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return &RegisterWorkerResponse{}, nil
}

func (c *fakeDriverControlClient) ReportWorkerHeartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	c.lastHeartbeat = in
	return &HeartbeatResponse{}, nil
}

func (c *fakeDriverControlClient) ReportTaskStatus(ctx context.Context, in *TaskStatusRequest, opts ...grpc.CallOption) (*TaskStatusResponse, error) {
	c.lastStatus = in
	return &TaskStatusResponse{}, nil
}

func TestStatusClient_ReportTranslatesFields(t *testing.T) {
	fake := &fakeDriverControlClient{}
	c := NewStatusClient(fake)

	err := c.Report(embworker.TaskStatus{
		TaskID:   5,
		Attempt:  2,
		State:    embworker.TaskFailed,
		Message:  "boom",
		Cause:    embworker.CauseUpstreamLost,
		Sequence: 9,
	})
	require.NoError(t, err)

	require.NotNil(t, fake.lastStatus)
	assert.Equal(t, uint64(5), fake.lastStatus.TaskID)
	assert.Equal(t, 2, fake.lastStatus.Attempt)
	assert.Equal(t, int32(embworker.TaskFailed), fake.lastStatus.State)
	assert.Equal(t, "boom", fake.lastStatus.Message)
	assert.Equal(t, int32(embworker.CauseUpstreamLost), fake.lastStatus.Cause)
	assert.Equal(t, uint64(9), fake.lastStatus.Sequence)
}

func TestHeartbeatClient_ReportHeartbeat(t *testing.T) {
	fake := &fakeDriverControlClient{}
	c := NewHeartbeatClient(fake)

	require.NoError(t, c.ReportHeartbeat(context.Background(), 42))
	require.NotNil(t, fake.lastHeartbeat)
	assert.Equal(t, uint64(42), fake.lastHeartbeat.WorkerID)
}

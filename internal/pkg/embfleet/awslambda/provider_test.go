package awslambda

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberql/emberql/internal/pkg/corlambda"
)

// fakeLambdaAPI embeds lambdaiface.LambdaAPI so only Invoke needs a real
// implementation; every other method panics if ever called, the same
// narrow-mock shape the teacher used for its own executor tests.
type fakeLambdaAPI struct {
	lambdaiface.LambdaAPI

	mu          sync.Mutex
	invocations int
	inFlight    int32
	maxInFlight int32
	invokeErr   error
}

func (f *fakeLambdaAPI) Invoke(in *lambda.InvokeInput) (*lambda.InvokeOutput, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.invocations++
	f.mu.Unlock()

	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return &lambda.InvokeOutput{Payload: []byte("{}"), StatusCode: aws.Int64(200)}, nil
}

func newTestProvider(fake *fakeLambdaAPI, concurrency int64) *Provider {
	return &Provider{
		lambda:       &corlambda.LambdaClient{Client: fake},
		functionName: "emberql-worker",
		concurrency:  concurrency,
	}
}

func TestProvider_LaunchInvokesOncePerWorker(t *testing.T) {
	fake := &fakeLambdaAPI{}
	p := newTestProvider(fake, 4)

	require.NoError(t, p.Launch("127.0.0.1:9000", 5))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 5, fake.invocations)
}

func TestProvider_LaunchBoundsConcurrency(t *testing.T) {
	fake := &fakeLambdaAPI{}
	p := newTestProvider(fake, 2)

	require.NoError(t, p.Launch("127.0.0.1:9000", 20))
	assert.LessOrEqual(t, atomic.LoadInt32(&fake.maxInFlight), int32(2))
}

func TestProvider_LaunchSurfacesFirstError(t *testing.T) {
	fake := &fakeLambdaAPI{invokeErr: assert.AnError}
	p := newTestProvider(fake, 4)

	err := p.Launch("127.0.0.1:9000", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

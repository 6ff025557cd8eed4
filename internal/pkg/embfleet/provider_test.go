package embfleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	launched  []int
	terminated []uint64
	launchErr error
}

func (f *fakeProvider) Launch(driverAddr string, count int) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launched = append(f.launched, count)
	return nil
}

func (f *fakeProvider) Terminate(workerID uint64) error {
	f.terminated = append(f.terminated, workerID)
	return nil
}

func TestBoundedProvider_ScaleUpRespectsMax(t *testing.T) {
	fp := &fakeProvider{}
	bp := NewBoundedProvider(fp, "127.0.0.1:15001", 1, 3)

	err := bp.ScaleUp(5)
	require.Error(t, err)
	assert.Equal(t, []int{3}, fp.launched)
}

func TestBoundedProvider_ScaleUpIsIncremental(t *testing.T) {
	fp := &fakeProvider{}
	bp := NewBoundedProvider(fp, "127.0.0.1:15001", 1, 8)

	require.NoError(t, bp.ScaleUp(2))
	require.NoError(t, bp.ScaleUp(3))
	assert.Equal(t, []int{2, 1}, fp.launched)

	require.NoError(t, bp.ScaleUp(1))
	assert.Equal(t, []int{2, 1}, fp.launched, "already above the requested minimum, no new launches")
}

func TestBoundedProvider_StopRefusesBelowMin(t *testing.T) {
	fp := &fakeProvider{}
	bp := NewBoundedProvider(fp, "127.0.0.1:15001", 2, 8)
	require.NoError(t, bp.ScaleUp(2))

	require.NoError(t, bp.Stop(1))
	assert.Empty(t, fp.terminated, "at worker_min_count, Stop must be a no-op")
}

func TestBoundedProvider_StopAboveMin(t *testing.T) {
	fp := &fakeProvider{}
	bp := NewBoundedProvider(fp, "127.0.0.1:15001", 1, 8)
	require.NoError(t, bp.ScaleUp(3))

	require.NoError(t, bp.Stop(42))
	assert.Equal(t, []uint64{42}, fp.terminated)
}

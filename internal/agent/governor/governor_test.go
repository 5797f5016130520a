package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOPermitsBound(t *testing.T) {
	g := New(Config{IOPermits: 1})
	ctx := context.Background()

	release, err := g.AcquireIO(ctx)
	require.NoError(t, err)

	// A second acquire must block until release.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = g.AcquireIO(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := g.AcquireIO(ctx)
	require.NoError(t, err)
	release2()
}

func TestAcquireRespectsCancellation(t *testing.T) {
	g := New(Config{NetPermits: 1})
	release, err := g.AcquireNet(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.AcquireNet(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCPUWorkersDefaultCapped(t *testing.T) {
	g := New(Config{})
	assert.LessOrEqual(t, g.CPUWorkers(), 4)
	assert.GreaterOrEqual(t, g.CPUWorkers(), 1)

	g = New(Config{CPUWorkers: 2})
	assert.Equal(t, 2, g.CPUWorkers())
}

func TestWaitUploadUnlimitedReturnsImmediately(t *testing.T) {
	g := New(Config{})
	start := time.Now()
	require.NoError(t, g.WaitUpload(context.Background(), 64<<20))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitUploadLimitsRate(t *testing.T) {
	g := New(Config{BandwidthLimit: 1024})

	// 2 KiB at 1 KiB/s: the burst covers the first KiB, the second
	// has to wait. Expect at least ~900ms.
	start := time.Now()
	require.NoError(t, g.WaitUpload(context.Background(), 2048))
	assert.Greater(t, time.Since(start), 800*time.Millisecond)
}

func TestWaitUploadHonorsCancellation(t *testing.T) {
	g := New(Config{BandwidthLimit: 16})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := g.WaitUpload(ctx, 1024)
	require.Error(t, err)
}

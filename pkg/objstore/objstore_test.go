package objstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey("node-uuid", "site-uuid", "shop_20260301_020000.tar.zst")
	assert.Equal(t, "node-uuid/site-uuid/shop_20260301_020000.tar.zst", key)
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(&types.NoSuchKey{}))
	assert.True(t, isNotFoundError(&types.NotFound{}))
	assert.True(t, isNotFoundError(errors.New("operation error S3: HeadObject, https response error StatusCode: 404")))
	assert.False(t, isNotFoundError(errors.New("AccessDenied: forbidden")))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(context.DeadlineExceeded))
	assert.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, isRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, isRetryableError(errors.New("AccessDenied")))
}

func TestRetryBackoffIsCappedAndCancellable(t *testing.T) {
	r := newRetryConfig(3)
	assert.Equal(t, 3, r.maxRetries)

	// Attempt 0 never sleeps.
	start := time.Now()
	assert.NoError(t, r.wait(context.Background(), 0))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// A cancelled context aborts the backoff sleep.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.wait(ctx, 2), context.Canceled)
}

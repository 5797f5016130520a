package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/wpfleet/wpfleet/internal/logger"
)

// PartSize is the multipart chunk size for bundle uploads. 64 MiB keeps
// the part count low for multi-gigabyte archives while bounding the
// re-upload cost of a failed part.
const PartSize = 64 << 20

// multipartThreshold is the size below which a single PutObject is used.
const multipartThreshold = PartSize

// UploadProgressFunc is called after each part with cumulative bytes sent.
type UploadProgressFunc func(bytesSent, bytesTotal int64)

// UploadFile streams a local file to the given key. Files larger than
// one part go through the multipart API; the in-flight upload is aborted
// on error or context cancellation so no orphaned parts accrue charges.
func (c *Client) UploadFile(ctx context.Context, key, path string, onProgress UploadProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat bundle: %w", err)
	}
	size := info.Size()

	if size < multipartThreshold {
		return c.putObject(ctx, key, f, size, onProgress)
	}
	return c.multipartUpload(ctx, key, f, size, onProgress)
}

func (c *Client) putObject(ctx context.Context, key string, r io.ReadSeeker, size int64, onProgress UploadProgressFunc) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.retry.wait(ctx, attempt); err != nil {
			return err
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := c.waitThrottle(ctx, int(size)); err != nil {
			return err
		}

		_, lastErr = c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          r,
			ContentLength: aws.Int64(size),
		})
		if lastErr == nil {
			if onProgress != nil {
				onProgress(size, size)
			}
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
		logger.Debug("Upload: transient error", "key", key, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("s3 put object: %w", lastErr)
}

func (c *Client) multipartUpload(ctx context.Context, key string, f *os.File, size int64, onProgress UploadProgressFunc) error {
	create, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := create.UploadId

	abort := func() {
		// Abort with a fresh context: the original may already be
		// cancelled, and leaking parts is worse than a slow return.
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, abortErr := c.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			logger.Warn("Failed to abort multipart upload", "key", key, "error", abortErr)
		}
	}

	buf := make([]byte, PartSize)
	var completed []types.CompletedPart
	var sent int64

	for partNumber := int32(1); sent < size; partNumber++ {
		if err := ctx.Err(); err != nil {
			abort()
			return err
		}

		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			abort()
			return fmt.Errorf("read bundle part %d: %w", partNumber, readErr)
		}
		part := buf[:n]

		etag, err := c.uploadPart(ctx, key, uploadID, partNumber, part)
		if err != nil {
			abort()
			return err
		}

		completed = append(completed, types.CompletedPart{
			ETag:       etag,
			PartNumber: aws.Int32(partNumber),
		})
		sent += int64(n)
		if onProgress != nil {
			onProgress(sent, size)
		}
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		abort()
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

func (c *Client) uploadPart(ctx context.Context, key string, uploadID *string, partNumber int32, part []byte) (*string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.retry.wait(ctx, attempt); err != nil {
			return nil, err
		}
		if err := c.waitThrottle(ctx, len(part)); err != nil {
			return nil, err
		}

		out, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(part),
			ContentLength: aws.Int64(int64(len(part))),
		})
		if err == nil {
			return out.ETag, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
		logger.Debug("UploadPart: transient error", "key", key, "part", partNumber, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("upload part %d: %w", partNumber, lastErr)
}

// waitThrottle blocks on the configured bandwidth throttle, if any.
func (c *Client) waitThrottle(ctx context.Context, n int) error {
	if c.throttle == nil {
		return nil
	}
	return c.throttle(ctx, n)
}

// retryConfig drives exponential backoff for transient S3 failures.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func newRetryConfig(maxRetries int) retryConfig {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return retryConfig{
		maxRetries:        maxRetries,
		initialBackoff:    500 * time.Millisecond,
		maxBackoff:        30 * time.Second,
		backoffMultiplier: 2.0,
	}
}

// wait sleeps the backoff for the given attempt (no-op for attempt 0)
// and honors context cancellation.
func (r retryConfig) wait(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return ctx.Err()
	}
	backoff := float64(r.initialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= r.backoffMultiplier
	}
	if backoff > float64(r.maxBackoff) {
		backoff = float64(r.maxBackoff)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(backoff)):
		return nil
	}
}

// isRetryableError returns true if the error is transient and the operation should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

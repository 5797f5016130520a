// Package objstore talks to the S3-compatible archive storage where
// backup bundles live. Objects are keyed {node_uuid}/{site_uuid}/{filename}
// so a provider bucket can be reconciled per site by prefix listing.
package objstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wpfleet/wpfleet/internal/seal"
	"github.com/wpfleet/wpfleet/pkg/models"
)

// PresignTTL is how long a download link stays valid.
const PresignTTL = 3600 * time.Second

// Config holds connection settings for one storage provider.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty the SDK
	// default chain is used.
	AccessKey string
	SecretKey string

	// ForcePathStyle forces path-style addressing (required for MinIO and
	// most self-hosted S3 implementations).
	ForcePathStyle bool

	// MaxRetries is the maximum number of retry attempts for transient errors.
	MaxRetries int

	// Throttle, when set, is called before each upload part with the
	// part size. Blocking in it rate-limits the upload.
	Throttle func(ctx context.Context, n int) error
}

// Client wraps an S3 client bound to one provider's bucket.
type Client struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	retry    retryConfig
	throttle func(ctx context.Context, n int) error
}

// New creates a client from explicit connection settings.
func New(ctx context.Context, config Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Client{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   config.Bucket,
		retry:    newRetryConfig(config.MaxRetries),
		throttle: config.Throttle,
	}, nil
}

// NewForProvider creates a client for a stored provider record, unsealing
// its credentials with the given sealer.
func NewForProvider(ctx context.Context, p *models.StorageProvider, sealer *seal.Sealer) (*Client, error) {
	accessKey, err := sealer.Unseal(p.AccessKeySealed)
	if err != nil {
		return nil, fmt.Errorf("unseal access key for provider %s: %w", p.Name, err)
	}
	secretKey, err := sealer.Unseal(p.SecretKeySealed)
	if err != nil {
		return nil, fmt.Errorf("unseal secret key for provider %s: %w", p.Name, err)
	}

	return New(ctx, Config{
		Bucket:         p.Bucket,
		Region:         p.Region,
		Endpoint:       p.Endpoint,
		AccessKey:      accessKey,
		SecretKey:      secretKey,
		ForcePathStyle: p.ForcePathStyle,
	})
}

// ObjectKey builds the canonical key for a backup bundle.
func ObjectKey(nodeUUID, siteUUID, filename string) string {
	return nodeUUID + "/" + siteUUID + "/" + filename
}

// Bucket returns the bucket this client is bound to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Exists checks whether an object is present without downloading it.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.retry.wait(ctx, attempt); err != nil {
			return false, err
		}

		_, lastErr = c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil {
			return true, nil
		}
		if isNotFoundError(lastErr) {
			return false, nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return false, fmt.Errorf("failed to check object existence: %w", lastErr)
}

// StatObject returns an object's size and modification time, for
// verifying an upload landed intact.
func (c *Client) StatObject(ctx context.Context, key string) (*ObjectInfo, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.retry.wait(ctx, attempt); err != nil {
			return nil, err
		}

		out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return &ObjectInfo{
				Key:          key,
				SizeBytes:    aws.ToInt64(out.ContentLength),
				LastModified: aws.ToTime(out.LastModified),
			}, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return nil, fmt.Errorf("s3 head object: %w", lastErr)
}

// Delete removes an object. Deleting a missing object is not an error;
// S3 delete is idempotent and so is the retention worker built on it.
func (c *Client) Delete(ctx context.Context, key string) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.retry.wait(ctx, attempt); err != nil {
			return err
		}

		_, lastErr = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return fmt.Errorf("s3 delete object: %w", lastErr)
}

// PresignGet returns a time-limited download URL for an object.
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignTTL))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return req.URL, nil
}

// ObjectInfo describes one stored bundle.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ListPrefix returns all objects under a key prefix.
func (c *Client) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.SizeBytes = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// ListCommonPrefixes returns the immediate child "directories" under a
// prefix, using "/" as delimiter. With an empty prefix this yields the
// node-uuid level of the bucket.
func (c *Client) ListCommonPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var prefixes []string

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list prefixes: %w", err)
		}
		for _, p := range page.CommonPrefixes {
			prefixes = append(prefixes, strings.TrimSuffix(aws.ToString(p.Prefix), "/"))
		}
	}
	return prefixes, nil
}

// HealthCheck verifies the bucket is reachable with the provider's
// credentials. Used when an operator adds or edits a provider.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JonMunkholm/csvsink/internal/ingest"
)

const defaultRegion = "us-east-1"

// S3Options configures the S3 client.
type S3Options struct {
	Region         string
	EndpointURL    string
	ForcePathStyle bool
	AccessKey      string
	SecretKey      string
	SessionToken   string
	MaxAttempts    int
}

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads objects from Amazon S3 or an S3-compatible endpoint.
type S3Store struct {
	opts S3Options

	mu     sync.Mutex
	client s3API
}

// NewS3 returns a store whose client is built on first Open.
func NewS3(opts S3Options) *S3Store {
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	return &S3Store{opts: opts}
}

// getClient builds the client once. A failed build is retried on the next
// call rather than cached.
func (s *S3Store) getClient(ctx context.Context) (s3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if s.opts.AccessKey != "" && s.opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.opts.AccessKey, s.opts.SecretKey, s.opts.SessionToken)))
	}
	loadOpts = append(loadOpts, awsconfig.WithRegion(s.opts.Region))
	if s.opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(s.opts.MaxAttempts))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %w", err)
	}

	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s.opts.EndpointURL)
		}
		o.UsePathStyle = s.opts.ForcePathStyle
	})
	slog.Debug("initialized S3 client", "region", s.opts.Region, "endpoint", s.opts.EndpointURL)
	return s.client, nil
}

// Open streams bucket/key. The caller closes the returned body.
func (s *S3Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(bucket, key, err)
	}
	if out.Body == nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ingest.ErrEmptyBody)
	}
	return out.Body, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error { return nil }

// mapS3Error translates SDK errors into ingest sentinels where possible.
func mapS3Error(bucket, key string, err error) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return fmt.Errorf("s3://%s/%s: %w: %v", bucket, key, ingest.ErrObjectNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("s3://%s/%s: %w: %v", bucket, key, ingest.ErrObjectNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("s3://%s/%s: %w: %v", bucket, key, ingest.ErrAccessDenied, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("s3://%s/%s: %w: %v", bucket, key, ingest.ErrObjectNotFound, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("s3://%s/%s: %w: %v", bucket, key, ingest.ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("s3://%s/%s: get object: %w", bucket, key, err)
}

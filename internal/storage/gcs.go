package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// GCSStore reads objects from Google Cloud Storage.
type GCSStore struct {
	credentialsFile string

	mu     sync.Mutex
	client *storage.Client
}

// NewGCS returns a store using credentialsFile, or Application Default
// Credentials when it is empty.
func NewGCS(credentialsFile string) *GCSStore {
	return &GCSStore{credentialsFile: credentialsFile}
}

func (s *GCSStore) getClient(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var opts []option.ClientOption
	if s.credentialsFile != "" {
		path, err := expandHome(s.credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(path))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client, %w", err)
	}
	s.client = client
	return client, nil
}

// Open streams gs://bucket/key.
func (s *GCSStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(bucket, key, err)
	}
	return reader, nil
}

// Close releases the client if it was created.
func (s *GCSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func mapGCSError(bucket, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("gs://%s/%s: %w: %v", bucket, key, ingest.ErrObjectNotFound, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("gs://%s/%s: %w: %v", bucket, key, ingest.ErrObjectNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("gs://%s/%s: %w: %v", bucket, key, ingest.ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("gs://%s/%s: new reader: %w", bucket, key, err)
}

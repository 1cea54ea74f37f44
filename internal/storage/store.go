// Package storage provides the object stores the ingest pipeline reads from:
// Amazon S3, Google Cloud Storage and a local directory tree.
//
// Every store maps its backend's "missing" and "forbidden" responses onto
// ingest.ErrObjectNotFound and ingest.ErrAccessDenied so the pipeline can
// classify failures without knowing which backend produced them.
package storage

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/JonMunkholm/csvsink/internal/config"
	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// Store is an ingest.ObjectStore that holds client resources.
type Store interface {
	ingest.ObjectStore
	Close() error
}

// New returns the store selected by cfg.Backend. Cloud clients are created
// on first use, so New never touches the network.
func New(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3", "":
		return NewS3(S3Options{
			Region:         cfg.Region,
			EndpointURL:    cfg.EndpointURL,
			ForcePathStyle: cfg.ForcePathStyle,
			AccessKey:      cfg.AccessKey,
			SecretKey:      cfg.SecretKey,
			SessionToken:   cfg.SessionToken,
			MaxAttempts:    cfg.MaxAttempts,
		}), nil
	case "gcs":
		return NewGCS(cfg.GCSCredentialsFile), nil
	case "local":
		return NewLocal(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// expandHome resolves a leading "~" so paths copied from a shell or .env
// file work as typed.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	return homedir.Expand(path)
}

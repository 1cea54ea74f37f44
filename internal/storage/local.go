package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// LocalStore serves <root>/<bucket>/<key> from the filesystem.
type LocalStore struct {
	root string
}

// NewLocal returns a store rooted at root.
func NewLocal(root string) (*LocalStore, error) {
	if root == "" {
		root = "."
	}
	expanded, err := expandHome(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", root, err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *LocalStore) Root() string { return s.root }

// Path resolves bucket/key to a file path inside the root. Keys that would
// escape the bucket directory are rejected.
func (s *LocalStore) Path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("%w: bucket %q", ingest.ErrAccessDenied, bucket)
	}
	dir := filepath.Join(s.root, bucket)
	p := filepath.Join(dir, filepath.FromSlash(key))

	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes bucket", ingest.ErrAccessDenied, key)
	}
	return p, nil
}

// Ref maps a file path under the root back to its bucket and key.
func (s *LocalStore) Ref(path string) (ingest.ObjectRef, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ingest.ObjectRef{}, err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ingest.ObjectRef{}, fmt.Errorf("%s is outside %s", path, s.root)
	}
	bucket, key, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok || key == "" {
		return ingest.ObjectRef{}, fmt.Errorf("%s is not inside a bucket directory", path)
	}
	return ingest.ObjectRef{Bucket: bucket, Key: key}, nil
}

// Open opens the file for bucket/key.
func (s *LocalStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := s.Path(bucket, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", p, ingest.ErrObjectNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%s: %w", p, ingest.ErrAccessDenied)
	case err != nil:
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory: %w", p, ingest.ErrObjectNotFound)
	}
	return f, nil
}

// Close is a no-op.
func (s *LocalStore) Close() error { return nil }

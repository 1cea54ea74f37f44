package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mitchellh/go-homedir"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/JonMunkholm/csvsink/internal/config"
	"github.com/JonMunkholm/csvsink/internal/ingest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalStore_Open(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "uploads", "path", "to", "file.csv"), "a,b\n1,2\n")

	store, err := NewLocal(root)
	require.NoError(t, err)

	body, err := store.Open(context.Background(), "uploads", "path/to/file.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestLocalStore_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "uploads", "dir", "x.csv"), "a\n")
	writeFile(t, filepath.Join(root, "secret.csv"), "a\n")

	store, err := NewLocal(root)
	require.NoError(t, err)

	tests := []struct {
		name   string
		bucket string
		key    string
		want   error
	}{
		{"missing key", "uploads", "nope.csv", ingest.ErrObjectNotFound},
		{"missing bucket", "other", "x.csv", ingest.ErrObjectNotFound},
		{"directory", "uploads", "dir", ingest.ErrObjectNotFound},
		{"traversal", "uploads", "../secret.csv", ingest.ErrAccessDenied},
		{"bucket traversal", "..", "secret.csv", ingest.ErrAccessDenied},
		{"bucket with slash", "a/b", "x.csv", ingest.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Open(context.Background(), tt.bucket, tt.key)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLocalStore_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	store, err := NewLocal("~/drops")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "drops"), store.Root())
}

func TestLocalStore_Ref(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	ref, err := store.Ref(filepath.Join(root, "uploads", "a", "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, ingest.ObjectRef{Bucket: "uploads", Key: "a/b.csv"}, ref)

	_, err = store.Ref(filepath.Join(root, "loose.csv"))
	assert.Error(t, err)

	_, err = store.Ref(filepath.Join(filepath.Dir(root), "elsewhere.csv"))
	assert.Error(t, err)
}

type fakeS3 struct {
	body io.ReadCloser
	err  error
	in   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: f.body}, nil
}

func httpError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("http error"),
		},
	}
}

func TestS3Store_Open(t *testing.T) {
	fake := &fakeS3{body: io.NopCloser(strings.NewReader("a\n1\n"))}
	store := &S3Store{client: fake}

	body, err := store.Open(context.Background(), "uploads", "path/to/file.csv")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "uploads", *fake.in.Bucket)
	assert.Equal(t, "path/to/file.csv", *fake.in.Key)
}

func TestS3Store_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		code string
	}{
		{"no such key", &types.NoSuchKey{}, ingest.ErrObjectNotFound, "OBJ001"},
		{"no such bucket", &types.NoSuchBucket{}, ingest.ErrObjectNotFound, "OBJ001"},
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDenied"}, ingest.ErrAccessDenied, "OBJ002"},
		{"http 404", httpError(http.StatusNotFound), ingest.ErrObjectNotFound, "OBJ001"},
		{"http 403", httpError(http.StatusForbidden), ingest.ErrAccessDenied, "OBJ002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &S3Store{client: &fakeS3{err: tt.err}}
			_, err := store.Open(context.Background(), "b", "k")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.code, ingest.Classify(err).Code)
		})
	}
}

func TestS3Store_TransientErrorIsRetryable(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	store := &S3Store{client: &fakeS3{err: netErr}}

	_, err := store.Open(context.Background(), "b", "k")
	require.Error(t, err)
	assert.True(t, ingest.IsRetryable(err))
}

func TestS3Store_EmptyBody(t *testing.T) {
	store := &S3Store{client: &fakeS3{}}
	_, err := store.Open(context.Background(), "b", "k")
	assert.ErrorIs(t, err, ingest.ErrEmptyBody)
}

func TestGCSErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"object missing", storage.ErrObjectNotExist, ingest.ErrObjectNotFound},
		{"bucket missing", storage.ErrBucketNotExist, ingest.ErrObjectNotFound},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, ingest.ErrAccessDenied},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, ingest.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapGCSError("b", "k", tt.err), tt.want)
		})
	}
}

func TestNew(t *testing.T) {
	for _, backend := range []string{"s3", "gcs", "local"} {
		store, err := New(config.StorageConfig{Backend: backend, LocalRoot: t.TempDir()})
		require.NoError(t, err, backend)
		assert.NoError(t, store.Close())
	}

	_, err := New(config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/notify"
	"github.com/JonMunkholm/csvsink/internal/storage"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	refs []ingest.ObjectRef
	ids  []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msgs []notify.Message) (*notify.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range msgs {
		env, err := notify.Parse(m.Body)
		if err != nil {
			return nil, err
		}
		for _, ref := range env.Refs {
			key, err := ingest.NormalizeKey(ref.Key)
			if err != nil {
				return nil, err
			}
			d.refs = append(d.refs, ingest.ObjectRef{Bucket: ref.Bucket, Key: key})
		}
		d.ids = append(d.ids, m.ID)
	}
	return &notify.Report{Messages: len(msgs)}, nil
}

func (d *recordingDispatcher) seen() []ingest.ObjectRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ingest.ObjectRef(nil), d.refs...)
}

// startWatcher runs a watcher over a fresh root with one bucket directory.
func startWatcher(t *testing.T) (string, *recordingDispatcher) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0o755))

	store, err := storage.NewLocal(root)
	require.NoError(t, err)

	d := &recordingDispatcher{}
	w := New(d, store, Options{SettleDelay: 20 * time.Millisecond})
	w.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-w.started:
	case err := <-done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return root, d
}

func TestWatcher_AnnouncesSettledFile(t *testing.T) {
	root, d := startWatcher(t)

	path := filepath.Join(root, "uploads", "q1 sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nalice\n"), 0o644))

	require.Eventually(t, func() bool { return len(d.seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ingest.ObjectRef{Bucket: "uploads", Key: "q1 sales.csv"}, d.seen()[0])
	assert.Len(t, d.ids[0], 36, "message ids are uuids")
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root, d := startWatcher(t)

	dir := filepath.Join(root, "uploads", "2024", "05")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Give the watcher a moment to register the new directories.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.CSV"), []byte("a\n1\n"), 0o644))

	require.Eventually(t, func() bool { return len(d.seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "2024/05/rows.CSV", d.seen()[0].Key)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root, d := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.csv"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, d.seen())
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root, d := startWatcher(t)

	path := filepath.Join(root, "uploads", "big.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.WriteString("a,b\n")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(d.seen()) >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, d.seen(), 1)
}

// Package watch turns files dropped under a local storage root into
// notifications, so the pipeline can be exercised without cloud storage.
//
// The root is laid out like the local object store: <root>/<bucket>/<key>.
// A file is announced once it has been quiet for the settle delay, which
// keeps half-written copies out of the sink.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/logging"
	"github.com/JonMunkholm/csvsink/internal/notify"
)

// DefaultSettleDelay is used when Options.SettleDelay is zero.
const DefaultSettleDelay = 500 * time.Millisecond

// Dispatcher processes notifications. *notify.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []notify.Message) (*notify.Report, error)
}

// Resolver maps file paths to object references. *storage.LocalStore
// implements it.
type Resolver interface {
	Root() string
	Ref(path string) (ingest.ObjectRef, error)
}

// Options configures a Watcher.
type Options struct {
	SettleDelay time.Duration
	// Suffixes limits which files are announced, matched case-insensitively.
	// Empty means ".csv".
	Suffixes []string
}

// Watcher announces settled files to a Dispatcher one at a time.
type Watcher struct {
	dispatcher Dispatcher
	store      Resolver
	opts       Options

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string

	started chan struct{} // closed once watches are in place; tests only
}

// New returns a watcher over store's root.
func New(d Dispatcher, store Resolver, opts Options) *Watcher {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = []string{".csv"}
	}
	return &Watcher{
		dispatcher: d,
		store:      store,
		opts:       opts,
		timers:     make(map[string]*time.Timer),
		ready:      make(chan string, 64),
	}
}

// Run watches until ctx is done. Bucket directories created while running
// are picked up automatically.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	defer w.stopTimers()

	if err := addTree(fw, w.store.Root()); err != nil {
		return err
	}
	logger.Info("watching for files", "root", w.store.Root(), "settle_delay", w.opts.SettleDelay)
	if w.started != nil {
		close(w.started)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)

		case path := <-w.ready:
			w.announce(ctx, path)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := addTree(fw, event.Name); err != nil {
				logging.FromContext(ctx).Warn("cannot watch new directory", "path", event.Name, "error", err)
			}
		}
		return
	}
	if !w.matches(event.Name) {
		return
	}
	w.schedule(ctx, event.Name)
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// announce dispatches a synthetic S3 event for path.
func (w *Watcher) announce(ctx context.Context, path string) {
	ref, err := w.store.Ref(path)
	if err != nil {
		logging.FromContext(ctx).Warn("ignoring file outside a bucket", "path", path, "error", err)
		return
	}

	body, err := notify.NewEvent(time.Now(), ref)
	if err != nil {
		logging.FromContext(ctx).Error("build notification", "path", path, "error", err)
		return
	}

	msg := notify.Message{ID: uuid.NewString(), Body: body}
	ctx, logger := logging.WithFields(ctx, "message_id", msg.ID)

	report, err := w.dispatcher.Dispatch(ctx, []notify.Message{msg})
	if err != nil {
		logger.Error("file not ingested", "bucket", ref.Bucket, "key", ref.Key, "error", err)
		return
	}
	logger.Info("file ingested", "bucket", ref.Bucket, "key", ref.Key, "rows", report.Rows)
}

func (w *Watcher) matches(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range w.opts.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// addTree watches root and every directory below it. fsnotify does not
// recurse on its own.
func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/logging"
)

// Message is one delivered notification.
type Message struct {
	ID   string
	Body []byte
}

// Processor loads one object. *ingest.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, bucket, key string) (ingest.Result, error)
}

// Options controls failure policy and parallelism.
type Options struct {
	// ThrowOnError stops at the first failure and returns it.
	ThrowOnError bool
	// Concurrency > 1 processes objects in parallel, each in its own
	// transaction.
	Concurrency int
	// ObjectTimeout bounds each object; zero means no deadline.
	ObjectTimeout time.Duration
}

// Failure is one notification or object that could not be processed.
type Failure struct {
	MessageID string `json:"message_id"`
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
	Code      string `json:"code"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
	Error     string `json:"error"`
}

// Report summarises one Dispatch call.
type Report struct {
	Messages int       `json:"messages"`
	Objects  int       `json:"objects"`
	Rows     int       `json:"rows"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`

	mu sync.Mutex
	// pending counts the uncommitted objects of every parsed message.
	pending map[string]int
}

// ObjectError is returned in fail-fast mode when an object fails.
type ObjectError struct {
	MessageID string
	Ref       ingest.ObjectRef
	Err       error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("message %s: object %s: %v", e.MessageID, e.Ref, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

// Classify extends ingest.Classify with notification errors.
func Classify(err error) ingest.ErrorInfo {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ingest.ErrorInfo{Code: "NTF001", Kind: "malformed_notification", Retryable: false}
	}
	return ingest.Classify(err)
}

type job struct {
	messageID string
	ref       ingest.ObjectRef
}

// Dispatcher walks notifications and hands each object to a Processor.
type Dispatcher struct {
	proc Processor
	opts Options
}

// NewDispatcher returns a dispatcher over proc.
func NewDispatcher(proc Processor, opts Options) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Dispatcher{proc: proc, opts: opts}
}

// Dispatch processes msgs in delivery order. The Report is always
// returned; the error is non-nil only in fail-fast mode.
//
// With Concurrency > 1 every message is parsed before any object is
// processed, so a malformed message in fail-fast mode aborts the
// invocation without touching the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) (*Report, error) {
	report := &Report{}

	if d.opts.Concurrency == 1 {
		for _, msg := range msgs {
			jobs, err := d.expand(ctx, msg, report)
			if err != nil {
				return report, err
			}
			for _, j := range jobs {
				if err := d.run(ctx, j, report); err != nil && d.opts.ThrowOnError {
					return report, err
				}
			}
		}
		return report, nil
	}

	var jobs []job
	for _, msg := range msgs {
		js, err := d.expand(ctx, msg, report)
		if err != nil {
			return report, err
		}
		jobs = append(jobs, js...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if d.opts.ThrowOnError && gctx.Err() != nil {
				return nil
			}
			err := d.run(gctx, j, report)
			if d.opts.ThrowOnError {
				return err
			}
			return nil
		})
	}
	return report, g.Wait()
}

// expand parses one message into jobs, logging and counting what it skips.
// It returns an error only for a malformed body in fail-fast mode.
func (d *Dispatcher) expand(ctx context.Context, msg Message, report *Report) ([]job, error) {
	_, logger := logging.WithFields(ctx, "message_id", msg.ID)

	report.mu.Lock()
	report.Messages++
	report.mu.Unlock()

	env, err := Parse(msg.Body)
	if err != nil {
		parseErr := &ParseError{MessageID: msg.ID, Err: err}
		report.fail(Failure{MessageID: msg.ID}, parseErr)
		logger.Error("notification parse failed", "error", err, "throw_on_error", d.opts.ThrowOnError)
		if d.opts.ThrowOnError {
			return nil, parseErr
		}
		return nil, nil
	}

	switch {
	case env.Kind == KindTestEvent:
		logger.Info("ignoring storage test event")
		report.parsed(msg.ID, 0)
		return nil, nil
	case len(env.Refs) == 0:
		logger.Warn("notification has no object references", "kind", env.Kind.String())
		report.skip()
		report.parsed(msg.ID, 0)
		return nil, nil
	}

	jobs := make([]job, 0, len(env.Refs))
	for i, ref := range env.Refs {
		if ref.Bucket == "" || ref.Key == "" {
			missing := &MissingFieldsError{MessageID: msg.ID, Index: i, Ref: ref}
			logger.Warn("skipping object reference", "error", missing.Error())
			report.skip()
			continue
		}
		jobs = append(jobs, job{messageID: msg.ID, ref: ref})
	}
	report.parsed(msg.ID, len(jobs))
	return jobs, nil
}

// run processes one object and records its outcome.
func (d *Dispatcher) run(ctx context.Context, j job, report *Report) error {
	ctx, logger := logging.WithFields(ctx, "message_id", j.messageID)

	if d.opts.ObjectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.ObjectTimeout)
		defer cancel()
	}

	res, err := d.proc.Process(ctx, j.ref.Bucket, j.ref.Key)
	if err != nil {
		info := Classify(err)
		logger.Error("object failed",
			"bucket", j.ref.Bucket,
			"key", j.ref.Key,
			"error", err,
			"code", info.Code,
			"retryable", info.Retryable,
		)
		report.fail(Failure{MessageID: j.messageID, Bucket: j.ref.Bucket, Key: j.ref.Key}, err)
		return &ObjectError{MessageID: j.messageID, Ref: j.ref, Err: err}
	}

	report.mu.Lock()
	report.Objects++
	report.Rows += res.Rows
	report.pending[j.messageID]--
	report.mu.Unlock()
	return nil
}

func (r *Report) parsed(messageID string, jobs int) {
	r.mu.Lock()
	if r.pending == nil {
		r.pending = make(map[string]int)
	}
	r.pending[messageID] += jobs
	r.mu.Unlock()
}

func (r *Report) skip() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

func (r *Report) fail(f Failure, err error) {
	info := Classify(err)
	f.Code = info.Code
	f.Kind = info.Kind
	f.Retryable = info.Retryable
	f.Error = err.Error()

	r.mu.Lock()
	r.Failures = append(r.Failures, f)
	r.mu.Unlock()
}

// FailedMessages returns the ids of messages with at least one failure,
// in first-failure order. With retryableOnly, messages whose failures are
// all permanent are left out.
func (r *Report) FailedMessages(retryableOnly bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	var ids []string
	for _, f := range r.Failures {
		if retryableOnly && !f.Retryable {
			continue
		}
		if !seen[f.MessageID] {
			seen[f.MessageID] = true
			ids = append(ids, f.MessageID)
		}
	}
	return ids
}

// Unsettled returns, in the order given, the ids that are not known to be
// fully loaded: messages never parsed, messages with a failure, and
// messages with objects that were skipped or still uncommitted when the
// dispatch stopped. A message is safe to delete from its queue only if it
// is not in the result.
func (r *Report) Unsettled(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := make(map[string]bool, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.MessageID] = true
	}

	var out []string
	for _, id := range ids {
		left, ok := r.pending[id]
		if !ok || left > 0 || failed[id] {
			out = append(out, id)
		}
	}
	return out
}

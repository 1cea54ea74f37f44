package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/JonMunkholm/csvsink/internal/logging"
)

// DefaultRollbackTimeout bounds a rollback issued after the caller's
// context is already done.
const DefaultRollbackTimeout = 10 * time.Second

// BatchWriter is the sink side of the pipeline. *Writer implements it.
type BatchWriter interface {
	Table() string
	Write(ctx context.Context, tx Tx, src ObjectRef, batch []Row) (int, error)
	EnsureTable(ctx context.Context, tx Tx, header []string) error
	DeleteExisting(ctx context.Context, tx Tx, src ObjectRef) (int64, error)
}

// Options tunes a Pipeline.
type Options struct {
	BatchSize       int
	AutoCreate      bool
	ReplaceExisting bool
	RollbackTimeout time.Duration
}

// Result summarises one committed object.
type Result struct {
	Rows    int   `json:"rows"`
	Batches int   `json:"batches"`
	Skipped int   `json:"skipped"`
	Bytes   int64 `json:"bytes"`
	Deleted int64 `json:"deleted"`
}

// Pipeline loads one object into the sink inside one transaction.
// A Pipeline is safe for concurrent use; every Process call opens its own
// stream and transaction.
type Pipeline struct {
	store  ObjectStore
	db     TxBeginner
	writer BatchWriter
	opts   Options
}

// NewPipeline wires a store, a transaction source and a writer.
func NewPipeline(store ObjectStore, db TxBeginner, writer BatchWriter, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RollbackTimeout <= 0 {
		opts.RollbackTimeout = DefaultRollbackTimeout
	}
	return &Pipeline{store: store, db: db, writer: writer, opts: opts}
}

// NormalizeKey decodes a key as delivered in storage notifications:
// percent escapes are decoded and '+' becomes a space.
func NormalizeKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	return decoded, nil
}

// Process streams bucket/key into the sink. Either every row of the object
// is committed or none is. On failure the returned Result is zero.
func (p *Pipeline) Process(ctx context.Context, bucket, key string) (Result, error) {
	decoded, err := NormalizeKey(key)
	if err != nil {
		return Result{}, err
	}
	src := ObjectRef{Bucket: bucket, Key: decoded}

	ctx, logger := logging.WithFields(ctx, "bucket", src.Bucket, "key", src.Key)
	start := time.Now()

	body, err := p.store.Open(ctx, src.Bucket, src.Key)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", src, err)
	}
	if body == nil {
		return Result{}, fmt.Errorf("open %s: %w", src, ErrEmptyBody)
	}
	defer body.Close()

	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return Result{}, &SinkError{Op: "begin", Table: p.writer.Table(), Err: err}
	}

	res, err := p.load(ctx, tx, src, body)
	if err != nil {
		p.rollback(ctx, tx)
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, &SinkError{Op: "commit", Table: p.writer.Table(), Err: err}
	}

	logger.Info("object ingested",
		"rows", res.Rows,
		"batches", res.Batches,
		"skipped", res.Skipped,
		"deleted", res.Deleted,
		"bytes", res.Bytes,
		"duration", time.Since(start),
	)
	return res, nil
}

// load runs everything between begin and commit.
func (p *Pipeline) load(ctx context.Context, tx Tx, src ObjectRef, body io.Reader) (Result, error) {
	var res Result

	dec := NewDecoder(body)
	header, err := dec.Header()
	if err != nil {
		return res, err
	}

	if p.opts.AutoCreate {
		if err := p.writer.EnsureTable(ctx, tx, header); err != nil {
			return res, err
		}
	}
	if p.opts.ReplaceExisting {
		n, err := p.writer.DeleteExisting(ctx, tx, src)
		if err != nil {
			return res, err
		}
		res.Deleted = n
	}

	logger := logging.FromContext(ctx)
	batcher := NewBatcher(dec, p.opts.BatchSize)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := batcher.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		n, err := p.writer.Write(ctx, tx, src, batch)
		if err != nil {
			return res, err
		}
		res.Rows += n
		res.Batches++
		logger.Debug("batch written", "batch", res.Batches, "rows", n)
	}

	res.Skipped = dec.Skipped()
	res.Bytes = dec.BytesRead()
	return res, nil
}

// rollback runs on a context detached from ctx so that a cancelled
// invocation still releases its transaction. Its error is logged only;
// the caller returns the failure that caused it.
func (p *Pipeline) rollback(ctx context.Context, tx Tx) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.RollbackTimeout)
	defer cancel()

	if err := tx.Rollback(rctx); err != nil {
		logging.FromContext(ctx).Error("rollback failed", "error", err)
	}
}

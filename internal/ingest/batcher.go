package ingest

import "io"

// DefaultBatchSize is used when a non-positive batch size is configured.
const DefaultBatchSize = 100

// RowSource yields rows until io.EOF.
type RowSource interface {
	Next() (Row, error)
}

// Batcher groups rows from a RowSource into batches of a fixed size.
// Only the pending batch is held in memory; its backing array is reused,
// so a returned batch is valid until the next call to Next.
type Batcher struct {
	src  RowSource
	size int
	buf  []Row
	done bool
}

// NewBatcher returns a batcher emitting at most size rows per batch.
func NewBatcher(src RowSource, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{src: src, size: size, buf: make([]Row, 0, size)}
}

// Next returns the next non-empty batch, or io.EOF when the source is
// exhausted. Source errors are returned unchanged.
func (b *Batcher) Next() ([]Row, error) {
	if b.done {
		return nil, io.EOF
	}

	b.buf = b.buf[:0]
	for len(b.buf) < b.size {
		row, err := b.src.Next()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		b.buf = append(b.buf, row)
	}

	if len(b.buf) == 0 {
		return nil, io.EOF
	}
	return b.buf, nil
}

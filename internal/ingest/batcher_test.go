package ingest

import (
	"errors"
	"io"
	"testing"
)

// sliceSource yields n rows, then err (io.EOF when nil).
type sliceSource struct {
	n, i int
	err  error
}

func (s *sliceSource) Next() (Row, error) {
	if s.i >= s.n {
		if s.err != nil {
			return Row{}, s.err
		}
		return Row{}, io.EOF
	}
	s.i++
	return Row{Line: s.i + 1}, nil
}

func TestBatcher_Sizes(t *testing.T) {
	tests := []struct {
		rows  int
		size  int
		sizes []int
	}{
		{rows: 0, size: 2, sizes: nil},
		{rows: 1, size: 2, sizes: []int{1}},
		{rows: 3, size: 2, sizes: []int{2, 1}},
		{rows: 4, size: 2, sizes: []int{2, 2}},
		{rows: 250, size: 100, sizes: []int{100, 100, 50}},
		{rows: 5, size: 1, sizes: []int{1, 1, 1, 1, 1}},
	}

	for _, tt := range tests {
		b := NewBatcher(&sliceSource{n: tt.rows}, tt.size)

		var got []int
		total := 0
		for {
			batch, err := b.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("rows=%d size=%d: Next() error = %v", tt.rows, tt.size, err)
			}
			got = append(got, len(batch))
			total += len(batch)
		}

		if len(got) != len(tt.sizes) {
			t.Errorf("rows=%d size=%d: got %d batches %v, want %v", tt.rows, tt.size, len(got), got, tt.sizes)
			continue
		}
		for i := range got {
			if got[i] != tt.sizes[i] {
				t.Errorf("rows=%d size=%d: batch %d has %d rows, want %d", tt.rows, tt.size, i, got[i], tt.sizes[i])
			}
		}
		if total != tt.rows {
			t.Errorf("rows=%d size=%d: total = %d", tt.rows, tt.size, total)
		}
	}
}

func TestBatcher_PreservesOrder(t *testing.T) {
	b := NewBatcher(&sliceSource{n: 5}, 2)
	want := 2
	for {
		batch, err := b.Next()
		if err == io.EOF {
			break
		}
		for _, row := range batch {
			if row.Line != want {
				t.Fatalf("line = %d, want %d", row.Line, want)
			}
			want++
		}
	}
}

func TestBatcher_DefaultSize(t *testing.T) {
	b := NewBatcher(&sliceSource{n: 150}, 0)
	batch, err := b.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(batch) != DefaultBatchSize {
		t.Errorf("len(batch) = %d, want %d", len(batch), DefaultBatchSize)
	}
}

func TestBatcher_PropagatesSourceError(t *testing.T) {
	boom := &DecodeError{Line: 3, Err: errors.New("stream closed")}
	b := NewBatcher(&sliceSource{n: 3, err: boom}, 2)

	if _, err := b.Next(); err != nil {
		t.Fatalf("first batch error = %v", err)
	}
	_, err := b.Next()
	if err != boom {
		t.Errorf("Next() error = %v, want source error unchanged", err)
	}
}

func TestBatcher_EOFIsSticky(t *testing.T) {
	b := NewBatcher(&sliceSource{n: 1}, 5)
	if _, err := b.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := b.Next(); err != io.EOF {
			t.Errorf("call %d: err = %v, want io.EOF", i, err)
		}
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeStore serves objects from memory keyed by "bucket/key".
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string
	nilBody map[string]bool
	opened  []string
	bodies  []*fakeBody
}

func newFakeStore(objects map[string]string) *fakeStore {
	return &fakeStore{objects: objects, nilBody: map[string]bool{}}
}

func (s *fakeStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := bucket + "/" + key
	s.opened = append(s.opened, ref)
	if s.nilBody[ref] {
		return nil, nil
	}
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("fake store %s: %w", ref, ErrObjectNotFound)
	}
	body := &fakeBody{Reader: strings.NewReader(data)}
	s.bodies = append(s.bodies, body)
	return body, nil
}

func (s *fakeStore) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bodies {
		if !b.closed {
			return false
		}
	}
	return true
}

type fakeBody struct {
	io.Reader
	closed bool
}

func (b *fakeBody) Close() error {
	b.closed = true
	return nil
}

// fakeDB is an in-memory sink. Rows become durable only on Commit.
// Inserted rows are stored as flat argument chunks of width columns.
type fakeDB struct {
	mu    sync.Mutex
	width int
	rows  [][]any

	begun      int
	committed  int
	rolledBack int
	statements []string

	// failInsert makes the Nth INSERT of every transaction fail (1-based).
	failInsert int
	failErr    error
	beginErr   error

	// rollbackCtxErr records the context state seen by the last Rollback.
	rollbackCtxErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{width: 4}
}

func (db *fakeDB) BeginTx(context.Context) (Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	db.begun++
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) durable() [][]any {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([][]any(nil), db.rows...)
}

type fakeTx struct {
	db      *fakeDB
	pending [][]any
	deletes []ObjectRef
	inserts int
	done    bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	if tx.done {
		return 0, errors.New("tx closed")
	}
	db := tx.db
	db.mu.Lock()
	db.statements = append(db.statements, sql)
	db.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "INSERT"):
		tx.inserts++
		if tx.inserts == db.failInsert {
			if db.failErr != nil {
				return 0, db.failErr
			}
			return 0, errors.New("connection reset by peer")
		}
		for i := 0; i+db.width <= len(args); i += db.width {
			tx.pending = append(tx.pending, args[i:i+db.width])
		}
		return int64(len(args) / db.width), nil

	case strings.HasPrefix(sql, "DELETE"):
		ref := ObjectRef{Bucket: args[0].(string), Key: args[1].(string)}
		tx.deletes = append(tx.deletes, ref)
		var n int64
		for _, r := range db.durable() {
			if r[0] == ref.Bucket && r[1] == ref.Key {
				n++
			}
		}
		return n, nil
	}
	return 0, nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.done {
		return errors.New("tx closed")
	}
	tx.done = true

	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, ref := range tx.deletes {
		kept := db.rows[:0]
		for _, r := range db.rows {
			if r[0] != ref.Bucket || r[1] != ref.Key {
				kept = append(kept, r)
			}
		}
		db.rows = kept
	}
	db.rows = append(db.rows, tx.pending...)
	db.committed++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.done {
		return errors.New("tx closed")
	}
	tx.done = true

	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rolledBack++
	db.rollbackCtxErr = ctx.Err()
	return nil
}

// recordingTx captures statements for writer tests.
type recordingTx struct {
	sql    []string
	args   [][]any
	result int64
	err    error
}

func (tx *recordingTx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	tx.sql = append(tx.sql, sql)
	tx.args = append(tx.args, args)
	return tx.result, tx.err
}

func (tx *recordingTx) Commit(context.Context) error   { return nil }
func (tx *recordingTx) Rollback(context.Context) error { return nil }

// copyTx adds bulk-load support to recordingTx.
type copyTx struct {
	recordingTx
	table   []string
	columns []string
	rows    [][]any
}

func (tx *copyTx) CopyFrom(_ context.Context, table, columns []string, rows [][]any) (int64, error) {
	tx.table = table
	tx.columns = columns
	tx.rows = append(tx.rows, rows...)
	return int64(len(rows)), nil
}

// csvRows builds a CSV body with a name,age header and n data rows.
func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("name,age\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "user%d,%d\n", i, 20+i)
	}
	return b.String()
}

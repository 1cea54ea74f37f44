package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/jackc/pgx/v5/pgtype"
)

// ObjectRef identifies one object to fetch.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

// ObjectStore opens object byte streams.
// Implementations return errors wrapping ErrObjectNotFound or ErrAccessDenied
// when the store rejects the request.
type ObjectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Tx is a transactional handle on the sink.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Copier is implemented by transactions that support a bulk-load protocol.
type Copier interface {
	CopyFrom(ctx context.Context, table []string, columns []string, rows [][]any) (int64, error)
}

// TxBeginner starts transactions. Each transaction holds its own connection.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Row is one decoded data line. Columns is shared by every row of a file;
// Values[i] is invalid (NULL) when the line had fewer fields than the header.
type Row struct {
	Line    int
	Columns []string
	Values  []pgtype.Text
}

// Get returns the value of column col and whether it was present.
func (r Row) Get(col string) (string, bool) {
	for i, c := range r.Columns {
		if c == col {
			if i < len(r.Values) && r.Values[i].Valid {
				return r.Values[i].String, true
			}
			return "", false
		}
	}
	return "", false
}

// MarshalJSON encodes the row as a JSON object in header order.
// Absent values are encoded as null.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if i >= len(r.Values) || !r.Values[i].Valid {
			buf.WriteString("null")
			continue
		}
		v, err := json.Marshal(r.Values[i].String)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

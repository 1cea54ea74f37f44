package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects how a row is persisted.
type Mode string

const (
	// ModeJSON stores each row as one JSON object in the payload column.
	ModeJSON Mode = "json"
	// ModeColumns stores one text column per header field.
	ModeColumns Mode = "columns"
)

// Method selects the statement used to write one batch.
type Method string

const (
	// MethodInsert writes a batch with one multi-row INSERT.
	MethodInsert Method = "insert"
	// MethodCopy writes a batch with one COPY FROM STDIN (postgres only).
	MethodCopy Method = "copy"
)

// Source columns written in both modes.
const (
	ColumnSourceBucket = "_source_bucket"
	ColumnSourceKey    = "_source_key"
	ColumnSourceLine   = "_source_line"
	ColumnPayload      = "payload"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Table   string
	Mode    Mode
	Method  Method
	Dialect Dialect
}

// Writer persists batches. It holds no per-object state; every call takes
// the transaction it runs in.
type Writer struct {
	cfg    WriterConfig
	quoted string
}

// NewWriter validates cfg and returns a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("sink table is required")
	}
	if cfg.Dialect.Name == "" {
		cfg.Dialect = Postgres
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeJSON
	}
	if cfg.Method == "" {
		cfg.Method = MethodInsert
	}
	switch cfg.Mode {
	case ModeJSON, ModeColumns:
	default:
		return nil, fmt.Errorf("unknown sink mode %q", cfg.Mode)
	}
	switch cfg.Method {
	case MethodInsert:
	case MethodCopy:
		if cfg.Dialect.Name != "postgres" {
			return nil, fmt.Errorf("copy method requires postgres, not %s", cfg.Dialect.Name)
		}
	default:
		return nil, fmt.Errorf("unknown sink method %q", cfg.Method)
	}

	return &Writer{cfg: cfg, quoted: cfg.Dialect.QuoteTable(cfg.Table)}, nil
}

// Table returns the configured (unquoted) table name.
func (w *Writer) Table() string { return w.cfg.Table }

// Write persists batch with exactly one statement and returns the number of
// rows written. An empty batch is a no-op.
func (w *Writer) Write(ctx context.Context, tx Tx, src ObjectRef, batch []Row) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	columns := w.columns(batch[0].Columns)
	rows := make([][]any, len(batch))
	for i, row := range batch {
		values, err := w.values(src, row)
		if err != nil {
			return 0, &SinkError{Op: "encode", Table: w.cfg.Table, Err: err}
		}
		rows[i] = values
	}

	if w.cfg.Method == MethodCopy {
		copier, ok := tx.(Copier)
		if !ok {
			return 0, &SinkError{Op: "copy", Table: w.cfg.Table, Err: fmt.Errorf("transaction does not support COPY")}
		}
		n, err := copier.CopyFrom(ctx, SplitTable(w.cfg.Table), columns, rows)
		if err != nil {
			return 0, &SinkError{Op: "copy", Table: w.cfg.Table, Err: err}
		}
		return int(n), nil
	}

	if params := len(rows) * len(columns); params > w.cfg.Dialect.MaxParams {
		return 0, &SinkError{Op: "insert", Table: w.cfg.Table,
			Err: fmt.Errorf("%w: %d rows x %d columns > %d", ErrTooManyParams, len(rows), len(columns), w.cfg.Dialect.MaxParams)}
	}

	query, args := w.insertStatement(columns, rows)
	n, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, &SinkError{Op: "insert", Table: w.cfg.Table, Err: err}
	}
	return int(n), nil
}

// insertStatement builds one multi-row INSERT with positional parameters.
func (w *Writer) insertStatement(columns []string, rows [][]any) (string, []any) {
	d := w.cfg.Dialect

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(w.quoted)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for r, values := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c, v := range values {
			if c > 0 {
				b.WriteString(", ")
			}
			args = append(args, v)
			b.WriteString(d.Placeholder(len(args)))
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

func (w *Writer) columns(header []string) []string {
	var cols []string
	if w.cfg.Mode == ModeColumns {
		cols = make([]string, 0, len(header)+3)
		cols = append(cols, header...)
	}
	cols = append(cols, ColumnSourceBucket, ColumnSourceKey, ColumnSourceLine)
	if w.cfg.Mode == ModeJSON {
		cols = append(cols, ColumnPayload)
	}
	return cols
}

func (w *Writer) values(src ObjectRef, row Row) ([]any, error) {
	if w.cfg.Mode == ModeColumns {
		values := make([]any, 0, len(row.Columns)+3)
		for i := range row.Columns {
			if i < len(row.Values) {
				values = append(values, row.Values[i])
			} else {
				values = append(values, nil)
			}
		}
		return append(values, src.Bucket, src.Key, int64(row.Line)), nil
	}

	payload, err := row.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []any{src.Bucket, src.Key, int64(row.Line), string(payload)}, nil
}

// EnsureTable creates the target table if it does not exist. header is
// only used in ModeColumns.
func (w *Writer) EnsureTable(ctx context.Context, tx Tx, header []string) error {
	d := w.cfg.Dialect

	var defs []string
	if w.cfg.Mode == ModeColumns {
		for _, c := range header {
			defs = append(defs, d.QuoteIdent(c)+" "+d.textType)
		}
	}
	defs = append(defs,
		d.QuoteIdent(ColumnSourceBucket)+" "+d.textType+" NOT NULL",
		d.QuoteIdent(ColumnSourceKey)+" "+d.textType+" NOT NULL",
		d.QuoteIdent(ColumnSourceLine)+" "+d.intType+" NOT NULL",
	)
	if w.cfg.Mode == ModeJSON {
		defs = append(defs, d.QuoteIdent(ColumnPayload)+" "+d.jsonType+" NOT NULL")
	}

	query := d.createTable(w.cfg.Table, w.quoted, strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, query); err != nil {
		return &SinkError{Op: "create table", Table: w.cfg.Table, Err: err}
	}
	return nil
}

// DeleteExisting removes rows previously ingested from src.
func (w *Writer) DeleteExisting(ctx context.Context, tx Tx, src ObjectRef) (int64, error) {
	d := w.cfg.Dialect
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		w.quoted,
		d.QuoteIdent(ColumnSourceBucket), d.Placeholder(1),
		d.QuoteIdent(ColumnSourceKey), d.Placeholder(2),
	)
	n, err := tx.Exec(ctx, query, src.Bucket, src.Key)
	if err != nil {
		return 0, &SinkError{Op: "delete", Table: w.cfg.Table, Err: err}
	}
	return n, nil
}

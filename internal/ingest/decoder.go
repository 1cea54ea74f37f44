package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Decoder reads rows lazily from one delimited byte stream.
//
// The first record is the header. Every field and header name is trimmed.
// Lines whose fields are all blank are skipped. Short lines leave trailing
// columns NULL, long lines are truncated. Lines the CSV reader rejects are
// skipped and counted; only a failure of the stream itself is an error.
type Decoder struct {
	csv     *csv.Reader
	counter *countingReader
	columns []string
	header  bool
	err     error
	line    int
	skipped int
}

// NewDecoder returns a decoder over r. Nothing is read until Header or Next.
func NewDecoder(r io.Reader) *Decoder {
	sanitized, counter := sanitize(r)

	cr := csv.NewReader(sanitized)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	return &Decoder{csv: cr, counter: counter}
}

// Header consumes the header line if it has not been read yet and returns
// the column names. An empty stream has no columns and no error.
func (d *Decoder) Header() ([]string, error) {
	if d.header {
		return d.columns, d.err
	}
	d.header = true

	for {
		record, err := d.read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			d.err = err
			return nil, err
		}
		if record == nil || isBlankLine(record) {
			continue
		}
		d.columns = headerColumns(record)
		return d.columns, nil
	}
}

// Next returns the next data row, or io.EOF once the stream is exhausted.
// The returned Row does not alias decoder buffers.
func (d *Decoder) Next() (Row, error) {
	if _, err := d.Header(); err != nil {
		return Row{}, err
	}
	if d.columns == nil {
		return Row{}, io.EOF
	}

	for {
		record, err := d.read()
		if err != nil {
			return Row{}, err
		}
		if record == nil || isBlankLine(record) {
			continue
		}

		values := make([]pgtype.Text, len(d.columns))
		for i := range values {
			if i < len(record) {
				values[i] = pgtype.Text{String: strings.TrimSpace(record[i]), Valid: true}
			}
		}
		return Row{Line: d.line, Columns: d.columns, Values: values}, nil
	}
}

// read returns the next record. A nil record with nil error means the line
// was malformed and has been skipped.
func (d *Decoder) read() ([]string, error) {
	record, err := d.csv.Read()
	if err == nil {
		d.line, _ = d.csv.FieldPos(0)
		return record, nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) && isSyntaxError(parseErr.Err) {
		d.skipped++
		d.line = parseErr.Line
		slog.Debug("skipping malformed line", "line", parseErr.Line, "error", parseErr.Err)
		return nil, nil
	}

	return nil, &DecodeError{Line: d.line, Err: err}
}

// Skipped returns the number of malformed lines dropped so far.
func (d *Decoder) Skipped() int { return d.skipped }

// BytesRead returns the number of raw bytes consumed from the stream.
func (d *Decoder) BytesRead() int64 { return d.counter.n }

func isSyntaxError(err error) bool {
	return errors.Is(err, csv.ErrQuote) || errors.Is(err, csv.ErrBareQuote) || errors.Is(err, csv.ErrFieldCount)
}

// isBlankLine reports a whitespace-only line. encoding/csv already drops
// empty lines; a line with delimiters, such as " , ", is a row of empty
// values and is kept.
func isBlankLine(record []string) bool {
	return len(record) == 1 && strings.TrimSpace(record[0]) == ""
}

// headerColumns trims header names and makes them unique. Blank names
// become column_N (1-based position); repeats get a _2, _3... suffix.
func headerColumns(record []string) []string {
	columns := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, raw := range record {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name]++
		columns[i] = name
	}
	return columns
}

package ingest

// errors.go defines the failure taxonomy of the pipeline and maps every
// error to a stable code for logs and responses.
//
// # Object Errors (OBJ001-OBJ099)
//
//	OBJ001 - Object not found: the store has no such bucket or key
//	OBJ002 - Access denied: credentials may not read the object
//	OBJ003 - Empty body: the store returned no stream
//	OBJ004 - Invalid key: the key is not valid URL encoding
//	OBJ005 - Store unavailable: transient store failure (retryable)
//
// # Decode Errors (DEC001-DEC099)
//
//	DEC001 - Stream failure: the byte stream failed mid-read (retryable)
//
// # Sink Errors (SNK001-SNK099)
//
//	SNK001 - Constraint violation: duplicate, foreign key, check, not null
//	SNK002 - Connection lost: refused, reset, broken pipe (retryable)
//	SNK003 - Timeout: statement or lock timeout (retryable)
//	SNK004 - Deadlock or serialization failure (retryable)
//	SNK005 - Too many parameters: batch exceeds the bind limit
//	SNK099 - Other sink failure
//
// # Invocation Errors (INV001-INV099)
//
//	INV001 - Cancelled: context cancelled or deadline exceeded (retryable)
//	INV099 - Unknown error

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrObjectNotFound is returned when the store has no such bucket or key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied is returned when the store rejects the credentials.
	ErrAccessDenied = errors.New("access denied")

	// ErrEmptyBody is returned when the store succeeds without a stream.
	ErrEmptyBody = errors.New("empty object body")

	// ErrInvalidKey is returned when an object key is not valid URL encoding.
	ErrInvalidKey = errors.New("invalid object key encoding")

	// ErrTooManyParams is returned when a batch needs more bind parameters
	// than the dialect allows in one statement.
	ErrTooManyParams = errors.New("too many bind parameters for one statement")
)

// DecodeError reports a failure of the underlying byte stream.
// Malformed lines never produce a DecodeError.
type DecodeError struct {
	Line int // last line read successfully
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode after line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SinkError reports a failed write, commit, rollback or DDL statement.
type SinkError struct {
	Op    string // begin, insert, copy, delete, create table, commit, rollback
	Table string
	Err   error
}

func (e *SinkError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ErrorInfo is the classification of an error.
type ErrorInfo struct {
	Code      string
	Kind      string
	Retryable bool
}

type sinkPattern struct {
	pattern string
	info    ErrorInfo
}

// sinkPatterns classify driver errors that carry no structured code.
var sinkPatterns = []sinkPattern{
	{"duplicate", ErrorInfo{"SNK001", "constraint", false}},
	{"unique constraint", ErrorInfo{"SNK001", "constraint", false}},
	{"foreign key", ErrorInfo{"SNK001", "constraint", false}},
	{"violates", ErrorInfo{"SNK001", "constraint", false}},
	{"connection refused", ErrorInfo{"SNK002", "connection", true}},
	{"connection reset", ErrorInfo{"SNK002", "connection", true}},
	{"broken pipe", ErrorInfo{"SNK002", "connection", true}},
	{"bad connection", ErrorInfo{"SNK002", "connection", true}},
	{"timeout", ErrorInfo{"SNK003", "timeout", true}},
	{"deadlock", ErrorInfo{"SNK004", "conflict", true}},
	{"database is locked", ErrorInfo{"SNK004", "conflict", true}},
}

// Classify maps err to a stable code and decides whether retrying the whole
// object could succeed.
func Classify(err error) ErrorInfo {
	switch {
	case err == nil:
		return ErrorInfo{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{"INV001", "cancelled", true}
	case errors.Is(err, ErrObjectNotFound):
		return ErrorInfo{"OBJ001", "not_found", false}
	case errors.Is(err, ErrAccessDenied):
		return ErrorInfo{"OBJ002", "access_denied", false}
	case errors.Is(err, ErrEmptyBody):
		return ErrorInfo{"OBJ003", "empty_body", false}
	case errors.Is(err, ErrInvalidKey):
		return ErrorInfo{"OBJ004", "invalid_key", false}
	case errors.Is(err, ErrTooManyParams):
		return ErrorInfo{"SNK005", "too_many_params", false}
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return ErrorInfo{"DEC001", "decode", true}
	}

	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return classifySink(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorInfo{"OBJ005", "store_unavailable", true}
	}

	return ErrorInfo{"INV099", "unknown", false}
}

func classifySink(err error) ErrorInfo {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return ErrorInfo{"SNK001", "constraint", false}
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "53300", pgErr.Code == "57P01":
			return ErrorInfo{"SNK002", "connection", true}
		case pgErr.Code == "57014", pgErr.Code == "55P03":
			return ErrorInfo{"SNK003", "timeout", true}
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return ErrorInfo{"SNK004", "conflict", true}
		}
		return ErrorInfo{"SNK099", "sink", false}
	}

	if pgconn.Timeout(err) {
		return ErrorInfo{"SNK003", "timeout", true}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ErrorInfo{"SNK002", "connection", true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorInfo{"SNK002", "connection", true}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range sinkPatterns {
		if strings.Contains(msg, p.pattern) {
			return p.info
		}
	}
	return ErrorInfo{"SNK099", "sink", false}
}

// IsRetryable reports whether reprocessing the object may succeed.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

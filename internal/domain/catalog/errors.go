package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"syscall"
)

var (
	// ErrUnauthenticated is returned by a SessionProvider with no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrDuplicateKey means the store rejected the record on its unique
	// external identifier. Terminal.
	ErrDuplicateKey = errors.New("duplicate identifier")

	// ErrSequenceConflict means the store allocated a sequential identifier
	// that collided with a concurrent insert. The insert may be re-attempted.
	ErrSequenceConflict = errors.New("sequence identifier conflict")

	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformed        = errors.New("malformed record")

	// ErrNotAttempted marks records left over when a commit was cancelled
	// between batches.
	ErrNotAttempted = errors.New("not attempted")
)

// ParseError means the file could not be read at all. Row is 0 when the
// problem is not tied to a line.
type ParseError struct {
	Row     int
	Column  string
	Message string
	RawData string
	Err     error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Row > 0 {
		fmt.Fprintf(&b, " at row %d", e.Row)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, ", column %s", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MappingError lists required canonical fields without a source column and
// override entries that point at columns the file does not have.
type MappingError struct {
	Format         FormatID
	Unmapped       []string
	UnknownColumns map[string]string
	UnknownFields  []string
}

func (e *MappingError) Error() string {
	var parts []string
	if len(e.Unmapped) > 0 {
		parts = append(parts, "unmapped required fields: "+strings.Join(e.Unmapped, ", "))
	}
	if len(e.UnknownColumns) > 0 {
		fields := make([]string, 0, len(e.UnknownColumns))
		for f := range e.UnknownColumns {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		unknown := make([]string, 0, len(fields))
		for _, f := range fields {
			unknown = append(unknown, fmt.Sprintf("%s -> %q", f, e.UnknownColumns[f]))
		}
		parts = append(parts, "unknown source columns: "+strings.Join(unknown, ", "))
	}
	if len(e.UnknownFields) > 0 {
		parts = append(parts, "unknown canonical fields: "+strings.Join(e.UnknownFields, ", "))
	}
	return fmt.Sprintf("mapping for format %s: %s", e.Format, strings.Join(parts, "; "))
}

// AuthError aborts a commit before any record is attempted.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication required: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransientError wraps an error that is safe to retry (timeouts, dropped
// connections, lock contention).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything in its chain) may succeed on
// a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection reset by peer", "broken pipe", "i/o timeout", "too many connections"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// FailureReason renders a terminal or exhausted error as a user-facing reason.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateKey):
		return "conflict: a record with this identifier already exists (" + err.Error() + ")"
	case errors.Is(err, ErrSequenceConflict):
		return "could not allocate a unique sequence identifier (" + err.Error() + ")"
	case errors.Is(err, ErrPermissionDenied):
		return "permission denied: " + err.Error()
	case errors.Is(err, ErrMalformed):
		return "rejected as malformed: " + err.Error()
	case errors.Is(err, ErrNotAttempted):
		return "not attempted: commit was cancelled before this batch started"
	case IsTransient(err):
		return "gave up after retries: " + err.Error()
	default:
		return err.Error()
	}
}

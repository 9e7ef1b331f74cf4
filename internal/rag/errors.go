package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindExtraction    Kind = "extraction"
	KindEmbedding     Kind = "embedding"
	KindIndex         Kind = "index"
	KindGeneration    Kind = "generation"
)

var (
	ErrNoContent         = errors.New("no content")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrResetNotConfirmed = errors.New("reset requires explicit confirmation")
	ErrSchemaMismatch    = errors.New("index schema mismatch")
	ErrEmptyQuery        = errors.New("query is empty")
	ErrDuplicateSource   = errors.New("source repeated within one batch")
)

// Error is the typed failure carried through the pipeline.
type Error struct {
	Kind      Kind
	Op        string // e.g. "embed", "upsert", "extract"
	Source    string // source or path the failure belongs to, if any
	Transient bool   // retrying may succeed
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (%s)", e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigError reports an invalid setting or missing credential. It is fatal
// at startup.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: "configure", Err: fmt.Errorf(format, args...)}
}

// ExtractionErr reports an unreadable, corrupt or unsupported file.
func ExtractionErr(path string, err error) *Error {
	return &Error{Kind: KindExtraction, Op: "extract", Source: path, Err: err}
}

// EmbeddingErr reports an embedding provider failure.
func EmbeddingErr(op string, transient bool, err error) *Error {
	return &Error{Kind: KindEmbedding, Op: op, Transient: transient, Err: err}
}

// IndexErr reports a vector index failure.
func IndexErr(op string, transient bool, err error) *Error {
	return &Error{Kind: KindIndex, Op: op, Transient: transient, Err: err}
}

// GenerationErr reports an answer-generation failure.
func GenerationErr(op string, transient bool, err error) *Error {
	return &Error{Kind: KindGeneration, Op: op, Transient: transient, Err: err}
}

// IsKind reports whether err, or anything it wraps, is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == k
	}
	return false
}

// IsTransient reports whether err is worth retrying. Deadline overruns of a
// single attempt count as transient; cancellation of the caller does not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// TransientStatus reports whether an HTTP status is worth retrying: rate
// limiting and server-side failures.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsNetworkError reports whether err came from the transport rather than
// from the remote service.
func IsNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Package errors defines the error taxonomy shared by the index manager, the
// search providers and the search engine. Every failure carries a Kind so
// callers can switch on it exhaustively, and every Kind has a sentinel so
// errors.Is keeps working through fmt.Errorf wrapping.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error at a component boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidDocument
	KindDimensionMismatch
	KindPatternTooComplex
	KindInvalidPattern
	KindQueryTimeout
	KindIndexCorruption
	KindCommitConflict
	KindCollectionNotFound
	KindCollectionClosed
	KindMissingEmbedding
)

func (k Kind) String() string {
	switch k {
	case KindInvalidDocument:
		return "invalid_document"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindPatternTooComplex:
		return "pattern_too_complex"
	case KindInvalidPattern:
		return "invalid_pattern"
	case KindQueryTimeout:
		return "query_timeout"
	case KindIndexCorruption:
		return "index_corruption"
	case KindCommitConflict:
		return "commit_conflict"
	case KindCollectionNotFound:
		return "collection_not_found"
	case KindCollectionClosed:
		return "collection_closed"
	case KindMissingEmbedding:
		return "missing_embedding"
	default:
		return "internal"
	}
}

var (
	ErrInternal           = errors.New("internal error")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrPatternTooComplex  = errors.New("pattern too complex")
	ErrInvalidPattern     = errors.New("invalid pattern")
	ErrQueryTimeout       = errors.New("query timed out")
	ErrIndexCorruption    = errors.New("index corruption")
	ErrCommitConflict     = errors.New("commit conflict")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionClosed   = errors.New("collection closed")
	ErrMissingEmbedding   = errors.New("missing query embedding")
)

var sentinels = map[Kind]error{
	KindInternal:           ErrInternal,
	KindInvalidDocument:    ErrInvalidDocument,
	KindDimensionMismatch:  ErrDimensionMismatch,
	KindPatternTooComplex:  ErrPatternTooComplex,
	KindInvalidPattern:     ErrInvalidPattern,
	KindQueryTimeout:       ErrQueryTimeout,
	KindIndexCorruption:    ErrIndexCorruption,
	KindCommitConflict:     ErrCommitConflict,
	KindCollectionNotFound: ErrCollectionNotFound,
	KindCollectionClosed:   ErrCollectionClosed,
	KindMissingEmbedding:   ErrMissingEmbedding,
}

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Kind       Kind
	Op         string
	Collection string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Collection != "" {
		msg += " [" + e.Collection + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel for the Kind and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{sentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New creates an Error of the given kind.
func New(kind Kind, op string, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCollection returns a copy of e scoped to a collection.
func (e *Error) WithCollection(collection string) *Error {
	c := *e
	c.Collection = collection
	return &c
}

// KindOf reports the Kind of err. Errors that carry no Kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if kind != KindInternal && errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsCallerError reports whether err was caused by bad input rather than by
// the index itself. Caller errors are never retried.
func IsCallerError(err error) bool {
	switch KindOf(err) {
	case KindInvalidDocument, KindDimensionMismatch, KindInvalidPattern, KindPatternTooComplex, KindMissingEmbedding:
		return true
	default:
		return false
	}
}

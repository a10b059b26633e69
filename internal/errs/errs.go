// Package errs classifies failures so callers can map them to exit
// codes and HTTP statuses without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups errors by who has to act on them.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindValidation means the request itself was malformed.
	KindValidation
	// KindConnection means the device could not be reached or logged into.
	KindConnection
	// KindOperation means the device was reached but the operation failed.
	KindOperation
	// KindNotFound means the referenced object does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindOperation:
		return "operation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags an error with a kind. A nil error stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Validationf builds a new validation error.
func Validationf(format string, args ...any) error {
	return &kindError{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

// Connectionf builds a new connection error.
func Connectionf(format string, args ...any) error {
	return &kindError{kind: KindConnection, err: fmt.Errorf(format, args...)}
}

// Operationf builds a new operation error.
func Operationf(format string, args ...any) error {
	return &kindError{kind: KindOperation, err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind an error was tagged with, walking the wrap
// chain. Untagged errors report KindUnknown.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

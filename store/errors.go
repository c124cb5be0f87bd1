package store

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error classifications surfaced at component
// boundaries. Callers type-switch on Kind rather than matching error
// strings.
type Kind int

const (
	// KindInternal covers anything not otherwise classified.
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindLockTimeout
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	case KindLockTimeout:
		return "LOCK_TIMEOUT"
	case KindDependency:
		return "DEPENDENCY"
	default:
		return "INTERNAL"
	}
}

// Error is the sum-typed result wrapped at every component boundary in
// place of a bare error value.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *Error              { return newErr(KindNotFound, msg, nil) }
func Validation(msg string) *Error            { return newErr(KindValidation, msg, nil) }
func Conflict(msg string) *Error              { return newErr(KindConflict, msg, nil) }
func LockTimeout(msg string) *Error           { return newErr(KindLockTimeout, msg, nil) }
func Dependency(msg string, err error) *Error { return newErr(KindDependency, msg, err) }
func Internal(msg string, err error) *Error   { return newErr(KindInternal, msg, err) }

// KindOf extracts the Kind of any error produced by this package,
// defaulting to KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

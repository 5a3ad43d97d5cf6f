package common

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrTransient  = errors.New("transient provider error")
	ErrConflict   = errors.New("conflict")
)

// Error attaches a kind and the failing operation to an underlying error.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a retryable provider failure. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }

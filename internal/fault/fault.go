// Package fault defines the error kinds every fleet operation reports to its
// callers. Transports map each kind to a distinct signal (HTTP status, CLI
// exit code) so the kinds are never collapsed into one generic failure.
package fault

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks. An *Error matches the sentinel of its kind.
var (
	ErrValidation   = &Error{Kind: Validation, Msg: "validation failed"}
	ErrNotFound     = &Error{Kind: NotFound, Msg: "not found"}
	ErrConflict     = &Error{Kind: Conflict, Msg: "conflict"}
	ErrUnauthorized = &Error{Kind: Unauthorized, Msg: "unauthorized"}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == sentinel(e.Kind)
}

func sentinel(k Kind) *Error {
	switch k {
	case Validation:
		return ErrValidation
	case NotFound:
		return ErrNotFound
	case Conflict:
		return ErrConflict
	case Unauthorized:
		return ErrUnauthorized
	}
	return nil
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: Conflict, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) error {
	return &Error{Kind: Unauthorized, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err stays nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain.
// Anything unclassified is Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Package apperr defines the error kinds shared by the location and sync services.
//
// Every error returned from a public service operation carries exactly one Kind, so
// callers only need errors.Is against the sentinels below to decide how to react.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is the single error type surfaced by the service layer.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Sentinels match any *Error of the same kind.
var (
	ErrInternal      = &Error{Kind: KindInternal}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrTransient     = &Error{Kind: KindTransient}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return New(KindNotFound, op, format, args...)
}

func Unauthorized(op, format string, args ...any) error {
	return New(KindAuthorization, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return New(KindConflict, op, format, args...)
}

func Transient(op string, err error) error {
	return Wrap(KindTransient, op, err)
}

// KindOf reports the kind of err. Errors that carry no kind are internal,
// except for the connection-class failures recognised by IsTransient.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindInternal
}

// IsTransient reports whether err is a connection or timeout class failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Boundary passes classified errors through unchanged and folds anything else
// into a single internal error for the named operation.
func Boundary(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsTransient(err) {
		return Transient(op, err)
	}
	return Wrap(KindInternal, op, err)
}

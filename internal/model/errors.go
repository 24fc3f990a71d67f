package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind classifies pipeline failures.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota + 1
	KindPayloadTooLarge
	KindContractViolation
	KindTransport
	KindUpstreamStream
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindContractViolation:
		return "contract_violation"
	case KindTransport:
		return "transport"
	case KindUpstreamStream:
		return "upstream_stream"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is. Any *Error of the matching kind
// compares equal to its sentinel.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrContractViolation = &Error{Kind: KindContractViolation}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrUpstreamStream    = &Error{Kind: KindUpstreamStream}
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed
	Msg  string
	Err  error // underlying cause, may be nil
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTimeout reports whether err was caused by a deadline or an idle socket
// timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

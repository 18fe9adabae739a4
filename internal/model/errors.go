package model

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed set of error categories surfaced by the document,
// actor, watch and router layers. It is deliberately not a gRPC status
// code itself — internal/router owns that mapping — so that the core can
// stay free of any particular wire protocol (§7 of the spec).
type ErrorKind int

const (
	// KindUnavailable: node not ready, or the document actor is backlogged
	// past its concurrency limit. Retryable.
	KindUnavailable ErrorKind = iota
	// KindInvalidArgument: malformed request.
	KindInvalidArgument
	// KindNotFound: referenced lease does not exist at the operation's
	// causal frontier.
	KindNotFound
	// KindAlreadyExists: LeaseGrant with an explicit id that collides.
	KindAlreadyExists
	// KindDeadlineExceeded: per-request timeout expired.
	KindDeadlineExceeded
	// KindResourceExhausted: load shedder tripped.
	KindResourceExhausted
	// KindInternal: persister failure or invariant violation.
	KindInternal
	// KindFailedPrecondition: a txn compare failed. Surfaced as
	// succeeded=false by Txn, not normally returned as an Error, but kept
	// here so callers that want to treat it uniformly can.
	KindFailedPrecondition
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "Unavailable"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindDeadlineExceeded:
		return "DeadlineExceeded"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindInternal:
		return "Internal"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across the document/actor/watch/router
// boundary; it carries an ErrorKind so callers can branch on category
// without string matching.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds an *Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal for
// errors that didn't originate in this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

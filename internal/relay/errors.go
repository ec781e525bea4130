package relay

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the relays can report.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindUpstreamAuth
	KindUpstreamCompletion
	KindUpstreamUnavailable
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindUpstreamAuth:
		return "UpstreamAuthError"
	case KindUpstreamCompletion:
		return "UpstreamCompletionError"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailableError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the single error type returned by the relays.
// UpstreamStatus and Detail are set when an upstream service answered.
type Error struct {
	Kind           Kind
	Message        string
	UpstreamStatus int
	Detail         string
	Err            error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.UpstreamStatus != 0 {
		msg += fmt.Sprintf(" (upstream %d)", e.UpstreamStatus)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not a relay error.
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return 0
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

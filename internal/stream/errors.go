package stream

import (
	"fmt"
	"net/http"
)

type Kind int

const (
	ConnectionFailure Kind = iota + 1
	Timeout
	MalformedFrame
	BackendError
	UnexpectedEnd
	RequestRejected
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection failure"
	case Timeout:
		return "timeout"
	case MalformedFrame:
		return "malformed frame"
	case BackendError:
		return "backend error"
	case UnexpectedEnd:
		return "unexpected stream end"
	case RequestRejected:
		return "request rejected"
	default:
		return "unknown"
	}
}

// Error is the single failure type reported through Handlers.OnError.
// Status and Detail are set for RequestRejected; Detail carries the backend's
// message for BackendError.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "stream: " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d %s)", e.Status, http.StatusText(e.Status))
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

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrConnectionFailure = &Error{Kind: ConnectionFailure}
	ErrTimeout           = &Error{Kind: Timeout}
	ErrMalformedFrame    = &Error{Kind: MalformedFrame}
	ErrBackend           = &Error{Kind: BackendError}
	ErrUnexpectedEnd     = &Error{Kind: UnexpectedEnd}
	ErrRequestRejected   = &Error{Kind: RequestRejected}
)

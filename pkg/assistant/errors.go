package assistant

import (
	"errors"
	"fmt"
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindTransport covers unreachable backends and non-2xx statuses.
	KindTransport Kind = "transport"

	// KindTimeout means the request ran out of its wall-clock budget.
	KindTimeout Kind = "timeout"

	// KindFormat means a 2xx response that is not the JSON we expect.
	KindFormat Kind = "format"
)

var (
	ErrTransport = errors.New("request failed")
	ErrTimeout   = errors.New("timed out")
	ErrFormat    = errors.New("unexpected response format")
)

// Error is returned by every Client operation that fails for a reason other
// than caller cancellation.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		if e.Op == OpSend {
			return "timed out waiting for the reply (speech synthesis is slow), try again later"
		}
		return "timed out waiting for the response"
	case KindFormat:
		return fmt.Sprintf("unexpected response format: %v", e.Err)
	default:
		if e.Status != 0 {
			return fmt.Sprintf("request failed: %d: %v", e.Status, e.Err)
		}
		return fmt.Sprintf("request failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrFormat:
		return e.Kind == KindFormat
	default:
		return false
	}
}

const (
	OpSend       = "send"
	OpHistory    = "history"
	OpTranscribe = "transcribe"
)

func transportErr(op string, status int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Err: err}
}

func timeoutErr(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

func formatErr(op string, err error) *Error {
	return &Error{Kind: KindFormat, Op: op, Err: err}
}

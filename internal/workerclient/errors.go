package workerclient

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindTimeout means the worker did not answer within the request timeout.
	KindTimeout Kind = iota
	// KindUnreachable covers transport failures: refused, DNS, reset.
	KindUnreachable
	// KindInvalidResponse covers non-2xx statuses and payloads that fail validation.
	KindInvalidResponse
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a FetchError's kind.
var (
	ErrTimeout         = errors.New("timeout")
	ErrUnreachable     = errors.New("unreachable")
	ErrInvalidResponse = errors.New("invalid response")
)

// FetchError is the single failure signal returned by Client.Fetch.
type FetchError struct {
	Kind    Kind
	Worker  string
	Address string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying transport or decode error.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrInvalidResponse:
		return e.Kind == KindInvalidResponse
	}
	return false
}

// KindString lets the fleet store label records without importing this package.
func (e *FetchError) KindString() string {
	return e.Kind.String()
}

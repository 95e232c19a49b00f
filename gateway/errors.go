package gateway

import (
	"fmt"

	"github.com/yourusername/gpay-checkout/models"
)

type ErrorKind string

const (
	// ErrorUnavailable covers network failures, timeouts and 5xx answers.
	ErrorUnavailable ErrorKind = "unavailable"
	// ErrorRejected is a business refusal (4xx, declined).
	ErrorRejected ErrorKind = "rejected"
)

// Error is the failure result of every gateway network call.
type Error struct {
	Gateway    Kind
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s gateway %s", e.Gateway, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the taxonomy sentinels so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case ErrorUnavailable:
		return target == models.ErrGatewayUnavailable
	case ErrorRejected:
		return target == models.ErrGatewayRejected
	}
	return false
}

func unavailable(gw Kind, err error) *Error {
	return &Error{Gateway: gw, Kind: ErrorUnavailable, Err: err}
}

func rejected(gw Kind, status int, message string) *Error {
	return &Error{Gateway: gw, Kind: ErrorRejected, StatusCode: status, Message: message}
}

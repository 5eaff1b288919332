package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnreachable = errors.New("device unreachable")
	ErrTimeout     = errors.New("device timeout")
	ErrMalformed   = errors.New("malformed response")
	ErrNoData      = errors.New("no data")
	ErrRejected    = errors.New("command rejected")

	ErrUnknownPlant    = errors.New("unknown plant")
	ErrNoDevice        = errors.New("plant has no device")
	ErrCommandInFlight = errors.New("command already in flight")
	ErrCooldown        = errors.New("cooldown active")
	ErrUnknownAction   = errors.New("unknown action")
	ErrStopped         = errors.New("poll loop stopped")
)

// TransportError reports a device that could not be reached or did not answer
// in time. Err is ErrUnreachable or ErrTimeout.
type TransportError struct {
	Device string
	Op     string
	Err    error
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Device, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// DataError reports a payload that arrived but cannot be trusted.
// Err is ErrMalformed or ErrNoData.
type DataError struct {
	Device string
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("reading %s: %v: %s", e.Device, e.Err, e.Reason)
}

func (e *DataError) Unwrap() error { return e.Err }

// CommandError reports a control command that the device did not execute.
type CommandError struct {
	Device     string
	Action     Action
	StatusCode int
	Err        error
	Cause      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s to %s: %v", e.Action, e.Device, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// TransportKind maps a low-level request error to ErrTimeout or ErrUnreachable.
func TransportKind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnreachable
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

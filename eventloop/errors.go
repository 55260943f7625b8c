package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrTimerNotFound is returned by CancelTimer, if the timer has already
	// fired, or was already cancelled.
	ErrTimerNotFound = errors.New("eventloop: timer not found")

	// ErrUnsupportedPlatform is returned by New, on platforms without a
	// supported readiness mechanism.
	ErrUnsupportedPlatform = errors.New("eventloop: unsupported platform")
)

// PanicError wraps a value recovered from a panicking task or callback.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

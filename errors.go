package reactor

import (
	"errors"
)

// Standard errors.
var (
	// ErrClosed is returned by operations on a closed [Adapter].
	ErrClosed = errors.New(`reactor: adapter closed`)

	// ErrBusy is returned when an operation is started while another
	// operation, in the same direction, is still in progress.
	ErrBusy = errors.New(`reactor: operation already in progress for direction`)

	// ErrWouldBlock may be returned by [IO] implementations that are not
	// backed by an OS handle, to indicate the operation would block. See
	// also [IsWouldBlock].
	ErrWouldBlock = errors.New(`reactor: operation would block`)

	// ErrNoAddresses is returned by [Resolver.Resolve] if a name resolves to
	// no addresses.
	ErrNoAddresses = errors.New(`reactor: no addresses`)
)

// RegisterError is returned by [Reactor.Register], when the readiness
// primitive rejects the handle.
type RegisterError struct {
	Cause  error
	Handle uintptr
}

// Error implements the error interface.
func (e *RegisterError) Error() string {
	if e.Cause == nil {
		return `reactor: register failed`
	}
	return `reactor: register failed: ` + e.Cause.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RegisterError) Unwrap() error {
	return e.Cause
}

// IsWouldBlock reports whether err indicates that an operation could not
// complete without waiting. This includes [ErrWouldBlock], and the relevant
// OS error codes (EAGAIN / EWOULDBLOCK, or WSAEWOULDBLOCK).
func IsWouldBlock(err error) bool {
	return err != nil && (errors.Is(err, ErrWouldBlock) || isSysWouldBlock(err))
}

// Package reactor defines a small, backend-agnostic set of capabilities for
// asynchronous I/O, and an [Adapter] that drives a non-blocking handle using
// a readiness-notification primitive (epoll, kqueue, WSAPoll, or a fake).
//
// # Capabilities
//
// Each capability is a separate interface, so that a backend need only
// implement what it supports:
//   - [Reactor]: register a synchronous [IOHandle], yielding an [Adapter]
//   - [TimeReactor]: [TimeReactor.Sleep] and [TimeReactor.Interval]
//   - [TCPReactor]: connect to a remote address
//   - [Resolver]: resolve a "host:port" name to addresses
//
// [FullReactor] combines all four. The eventloop sub-package provides the
// concrete, OS-backed implementation, and the reactortest sub-package a
// simulated one.
//
// # Readiness Algorithm
//
// Every [Adapter] operation runs the same loop, per direction:
//
//  1. Check, without blocking, whether the direction is ready. If it is not,
//     register for a wake-up and suspend (the only suspension point).
//  2. Attempt the operation. A would-block outcome means the readiness
//     notification was stale: readiness is cleared, and the loop returns to
//     step 1. Any other outcome is returned as-is.
//
// Read and write directions are independent, and may be driven concurrently
// by separate goroutines. Operations in the same direction must not overlap,
// see [ErrBusy].
//
// # Platform Support
//
// The only platform-specific part of this package is how the platform handle
// identity is extracted from an [IO] (a file descriptor on unix, a socket
// handle on windows), and which OS error codes mean "would block". See
// handle_unix.go and handle_windows.go.
package reactor

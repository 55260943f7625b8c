package reactor

import (
	"fmt"
)

type (
	// Direction identifies one half of a handle.
	Direction uint8

	// State is the observable state of one direction of an [Adapter].
	//
	//	StateIdle → StateAwaiting   [not ready, suspended]
	//	StateIdle → StateReady      [ready, attempting]
	//	StateAwaiting → StateReady  [woken]
	//	StateAwaiting → StateIdle   [cancelled]
	//	StateReady → StateAwaiting  [stale readiness cleared, not ready]
	//	StateReady → StateIdle      [completed]
	State uint32

	// Readiness is a readiness-notification primitive, bound to a single
	// handle. Implementations must be safe for concurrent use, though the
	// [Adapter] guarantees at most one outstanding PollReady registration
	// per direction.
	Readiness interface {
		// PollReady reports, without blocking, whether d is ready. The
		// returned tick identifies the readiness event that was observed,
		// see ClearReady.
		//
		// If d is not ready, wake is registered to be called, once, on the
		// next readiness event for d (or on Close), replacing any existing
		// registration. The returned cancel deregisters it, and must be safe
		// to call after wake has been called. The wake func must not block.
		// If d is ready, wake is not retained, and cancel may be nil.
		PollReady(d Direction, wake func()) (tick uint64, ready bool, cancel func())

		// ClearReady clears readiness for d, unless a readiness event newer
		// than tick has been observed.
		ClearReady(d Direction, tick uint64)

		// Err returns a non-nil error if the primitive can no longer deliver
		// notifications, e.g. because its backend has terminated. Pending
		// and subsequent operations fail with this error.
		Err() error

		// Close releases the primitive. Any registered wake funcs are called.
		// It must be called before the handle it tracks is released.
		Close() error
	}

	// readyGuard proves that a direction was observed as ready, at tick. It
	// is created by each readiness check, and must not be retained across a
	// suspension.
	readyGuard struct {
		src  Readiness
		tick uint64
		dir  Direction
	}
)

const (
	// Read is the readable direction.
	Read Direction = iota
	// Write is the writable direction.
	Write
)

const (
	// StateIdle indicates there is no known readiness.
	StateIdle State = iota
	// StateAwaiting indicates an operation is suspended, waiting for a
	// readiness notification.
	StateAwaiting
	// StateReady indicates a readiness notification was received, and an
	// attempt is (about to be) in progress.
	StateReady
)

func (d Direction) String() string {
	switch d {
	case Read:
		return `read`
	case Write:
		return `write`
	default:
		return fmt.Sprintf(`direction(%d)`, uint8(d))
	}
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return `Idle`
	case StateAwaiting:
		return `Awaiting`
	case StateReady:
		return `Ready`
	default:
		return `Unknown`
	}
}

// clearReady records that the readiness observed by g was stale.
func (g readyGuard) clearReady() {
	g.src.ClearReady(g.dir, g.tick)
}

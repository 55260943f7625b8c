package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
//	StateAwake → StateRunning              [Run()]
//	StateRunning → StateSleeping           [poll() via CAS]
//	StateRunning → StateTerminating        [Shutdown()]
//	StateSleeping → StateRunning           [poll() wake via CAS]
//	StateSleeping → StateTerminating       [Shutdown()]
//	StateTerminating → StateTerminated     [shutdown complete]
//	StateAwake → StateTerminated           [Shutdown() before Run()]
//
// Use TryTransition (CAS) for temporary states (Running, Sleeping), and
// Store only for the terminal state.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked in poll waiting for events.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively processing tasks.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine.
type fastState struct {
	v atomic.Uint64
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsRunning returns true if the loop is currently running or sleeping.
func (s *fastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}

// CanAcceptWork returns true if the loop can accept new work.
func (s *fastState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}

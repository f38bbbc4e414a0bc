package mainloop

import "sync/atomic"

// Phase represents the lifecycle state of a Scheduler.
//
// State Machine:
//
//	PhaseAwake (0) → PhaseRunning (1)     [Run()]
//	PhaseRunning (1) → PhaseAwake (0)     [Run() returns after Quit()]
//	PhaseAwake (0) → PhaseTerminated (2)  [Shutdown()]
//	PhaseTerminated (2) → (terminal)
//
// Transition Rules:
//   - Use tryTransition() (CAS) for the reversible Awake↔Running pair
//   - Use store() only for the irreversible Terminated state
type Phase uint32

const (
	// PhaseAwake indicates the scheduler exists but Run() is not executing.
	PhaseAwake Phase = 0
	// PhaseRunning indicates the owner goroutine is inside Run().
	PhaseRunning Phase = 1
	// PhaseTerminated indicates Shutdown() has completed. Terminal.
	PhaseTerminated Phase = 2
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAwake:
		return "Awake"
	case PhaseRunning:
		return "Running"
	case PhaseTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// phaseState is a lock-free lifecycle state machine.
type phaseState struct {
	v atomic.Uint32
}

func (s *phaseState) load() Phase {
	return Phase(s.v.Load())
}

func (s *phaseState) store(p Phase) {
	s.v.Store(uint32(p))
}

// tryTransition attempts to atomically transition from one phase to another.
// Returns true if the transition was successful.
func (s *phaseState) tryTransition(from, to Phase) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

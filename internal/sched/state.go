// internal/sched/state.go

package sched

// LoopState represents what the run loop is currently doing.
//
//	StateIdle -> StatePromoting -> StateRunning -> StateDraining -> StateIdle
//	any       -> StateShuttingDown (terminal)
type LoopState int

const (
	// StateIdle indicates no task is executing; the loop may be suspended.
	StateIdle LoopState = iota
	// StateRunning indicates a macrotask, timer or idle task is executing.
	StateRunning
	// StateDraining indicates the microtask queue is being emptied.
	StateDraining
	// StatePromoting indicates due timers are being moved to the macrotask queue.
	StatePromoting
	// StateShuttingDown indicates shutdown was requested. New work is rejected.
	StateShuttingDown
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StatePromoting:
		return "Promoting"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// internal/sched/task.go

package sched

import "time"

// TaskID uniquely identifies a task in the scheduler. IDs start at 1 and are
// never reused by the Scheduler that issued them.
type TaskID uint64

// Kind is the priority class a task was scheduled into.
type Kind int

const (
	KindMicrotask Kind = iota
	KindMacrotask
	KindTimer
	KindIdle
)

func (k Kind) String() string {
	switch k {
	case KindMicrotask:
		return "microtask"
	case KindMacrotask:
		return "macrotask"
	case KindTimer:
		return "timer"
	case KindIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Action is the work function of a microtask, macrotask or timer.
// A returned error is reported through the unhandled error channel.
type Action func() error

// IdleAction is the work function of an idle task. The deadline tells it how
// much of the current idle period is left.
type IdleAction func(deadline IdleDeadline) error

// task represents one schedulable unit. It is owned by the Scheduler and only
// touched while holding Scheduler.mu, except for the action itself.
type task struct {
	id          TaskID
	kind        Kind
	action      Action
	idle        IdleAction
	scheduledAt uint64        // logical tick when (re)queued
	seq         uint64        // insertion counter, used for tie-breaks
	dueAt       time.Time     // timers only
	interval    time.Duration // repeating timers only
	minBudget   time.Duration // idle only
	cancelled   bool
	running     bool
}

// CancelHandle is bound to a single task of a single Scheduler.
// The zero value is invalid and cancels nothing.
type CancelHandle struct {
	s  *Scheduler
	id TaskID
}

// ID returns the id of the task the handle is bound to.
func (h CancelHandle) ID() TaskID { return h.id }

// Cancel is shorthand for Scheduler.Cancel.
func (h CancelHandle) Cancel() bool {
	if h.s == nil {
		return false
	}
	return h.s.Cancel(h)
}

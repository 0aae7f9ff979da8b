// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusPromote
	StatusDispatch
	StatusFinish
	StatusFail
	StatusCancel
	StatusDiscard
	StatusTick
)

// StatusEvent is emitted every tick and on each task transition.
//
// Events are delivered outside the scheduler lock, so an observer fed from
// more than one goroutine can receive them out of order, e.g. a Dispatch
// ahead of the Enqueue of a task scheduled by a host goroutine. Seq is
// assigned under the lock and gives the order the transitions happened in.
type StatusEvent struct {
	Seq      uint64
	Time     time.Time
	Err      error // StatusFail only
	Kind     StatusKind
	TaskKind Kind
	TaskID   TaskID
	Tick     uint64
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusPromote:
		return "Promote"
	case StatusDispatch:
		return "Dispatch"
	case StatusFinish:
		return "Finish"
	case StatusFail:
		return "Fail"
	case StatusCancel:
		return "Cancel"
	case StatusDiscard:
		return "Discard"
	case StatusTick:
		return "Tick"
	default:
		return "Unknown"
	}
}

// Observer receives scheduler events. It is called synchronously on the
// goroutine that caused the event, never while the scheduler lock is held.
type Observer interface {
	HandleEvent(ev StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StatusEvent)

func (f ObserverFunc) HandleEvent(ev StatusEvent) { f(ev) }

type multiObserver []Observer

func (m multiObserver) HandleEvent(ev StatusEvent) {
	for _, o := range m {
		o.HandleEvent(ev)
	}
}

// Package job provides continuation patterns built on the scheduler: a task
// never waits, it schedules the task that continues its work and returns.
package job

import (
	"fmt"
	"time"

	"taskloop/internal/sched"
)

// Scheduler is the part of *sched.Scheduler the helpers need.
type Scheduler interface {
	ScheduleMicrotask(fn sched.Action) (sched.TaskID, error)
	ScheduleMacrotask(fn sched.Action) (sched.TaskID, error)
	ScheduleAfter(delay time.Duration, fn sched.Action) (sched.TaskID, sched.CancelHandle, error)
	CancelTask(id sched.TaskID) (bool, error)
}

// Delay produces a value after d and hands it to then as a microtask, so the
// continuation runs before any other macrotask. Errors from produce or then
// are reported by the scheduler like any other task failure.
func Delay[T any](s Scheduler, d time.Duration, produce func() (T, error), then func(T) error) (sched.TaskID, sched.CancelHandle, error) {
	return s.ScheduleAfter(d, func() error {
		v, err := produce()
		if err != nil {
			return err
		}
		_, err = s.ScheduleMicrotask(func() error { return then(v) })
		return err
	})
}

// Sequence runs steps one after another, each as its own macrotask scheduled
// by the previous step on success. A failing step ends the chain. It returns
// the id of the first step.
func Sequence(s Scheduler, steps ...sched.Action) (sched.TaskID, error) {
	if len(steps) == 0 {
		return 0, fmt.Errorf("job: empty sequence")
	}
	return s.ScheduleMacrotask(chain(s, steps))
}

func chain(s Scheduler, steps []sched.Action) sched.Action {
	return func() error {
		if err := steps[0](); err != nil {
			return err
		}
		if len(steps) == 1 {
			return nil
		}
		_, err := s.ScheduleMacrotask(chain(s, steps[1:]))
		return err
	}
}

// Timeout cancels target if it has not started within d. Cancel the returned
// handle once target completes. A target that is already running is only
// marked cancelled; it must check for that itself.
func Timeout(s Scheduler, target sched.TaskID, d time.Duration) (sched.CancelHandle, error) {
	_, h, err := s.ScheduleAfter(d, func() error {
		_, err := s.CancelTask(target)
		return err
	})
	return h, err
}

// Retry runs fn as a macrotask, retrying failures up to attempts times in
// total. Attempt n+1 is delayed by n*backoff. Only the last failure is
// reported, wrapped with the attempt count.
func Retry(s Scheduler, attempts int, backoff time.Duration, fn sched.Action) (sched.TaskID, error) {
	if attempts < 1 {
		return 0, fmt.Errorf("job: attempts must be positive, got %d", attempts)
	}
	return s.ScheduleMacrotask(attempt(s, 1, attempts, backoff, fn))
}

func attempt(s Scheduler, n, attempts int, backoff time.Duration, fn sched.Action) sched.Action {
	return func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if n >= attempts {
			return fmt.Errorf("job: failed after %d attempts: %w", n, err)
		}
		_, _, serr := s.ScheduleAfter(time.Duration(n)*backoff, attempt(s, n+1, attempts, backoff, fn))
		return serr
	}
}

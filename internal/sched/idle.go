// internal/sched/idle.go

package sched

import "time"

// IdleDeadline is passed to idle tasks, describing the idle period they run in.
type IdleDeadline struct {
	clock    Clock
	deadline time.Time
}

// Deadline returns the end of the current idle period.
func (d IdleDeadline) Deadline() time.Time { return d.deadline }

// TimeRemaining returns how much of the idle period is left, never negative.
// A clock failure reads as no time left.
func (d IdleDeadline) TimeRemaining() time.Duration {
	if d.clock == nil {
		return 0
	}
	now, err := d.clock.Now()
	if err != nil {
		return 0
	}
	return max(d.deadline.Sub(now), 0)
}

// idlePeriod tracks the budget of a single idle phase. Leftover budget is
// dropped at the end of the tick.
type idlePeriod struct {
	IdleDeadline
}

func newIdlePeriod(clock Clock, now time.Time, budget time.Duration) idlePeriod {
	return idlePeriod{IdleDeadline{clock: clock, deadline: now.Add(budget)}}
}

// admits reports whether t may start within what is left of the period.
func (p idlePeriod) admits(t *task) bool {
	remaining := p.TimeRemaining()
	if remaining <= 0 {
		return false
	}
	return t.minBudget <= remaining
}

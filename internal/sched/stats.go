// internal/sched/stats.go

package sched

// Stats counts what a Scheduler has done since it was created.
type Stats struct {
	Ticks      uint64
	Microtasks uint64 // microtasks executed
	Macrotasks uint64 // plain macrotasks executed
	Timers     uint64 // timer runs, including each interval repetition
	Idle       uint64 // idle tasks executed
	Promoted   uint64
	Failed     uint64
	Cancelled  uint64
	Discarded  uint64
}

func (x *Stats) record(kind Kind) {
	switch kind {
	case KindMicrotask:
		x.Microtasks++
	case KindMacrotask:
		x.Macrotasks++
	case KindTimer:
		x.Timers++
	case KindIdle:
		x.Idle++
	}
}

// Pending counts queued tasks per class.
type Pending struct {
	Microtasks int
	Macrotasks int // includes promoted timers
	Timers     int // timers still in the wheel
	Idle       int
}

// Total returns the number of queued tasks across all classes.
func (p Pending) Total() int {
	return p.Microtasks + p.Macrotasks + p.Timers + p.Idle
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending returns the number of queued tasks per class.
func (s *Scheduler) Pending() Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pending{
		Microtasks: s.micro.Len(),
		Macrotasks: s.macro.Len(),
		Timers:     s.timers.Len(),
		Idle:       s.idle.Len(),
	}
}

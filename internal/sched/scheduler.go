// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/hashset"
	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultIdleBudget is the idle period granted per tick unless configured.
const DefaultIdleBudget = 50 * time.Millisecond

// ErrNilAction is returned when scheduling a nil action.
var ErrNilAction = errors.New("sched: nil action")

// Scheduler is a single-threaded cooperative event loop. It owns a microtask
// queue, a macrotask queue, an idle queue and a timer wheel, and runs at most
// one task at a time.
//
// Scheduling and cancellation are safe to call from any goroutine, including
// from within a running task. Only one driver (Tick, RunUntilIdle or
// RunForever) may run at a time.
type Scheduler struct {
	mu sync.Mutex // protects everything below, except while an action runs

	id       string
	clock    Clock
	logger   *logiface.Logger[logiface.Event]
	limiter  *catrate.Limiter
	observer Observer

	micro  *fifo
	macro  *fifo
	idle   *fifo
	timers *timerWheel
	tasks  map[TaskID]*task // queued or running, by id

	// ids cancelled or discarded before they finished; they stay cancelled
	// after their task record is dropped
	cancelled *hashset.Set

	errorHandler   func(TaskID, error)
	idleBudget     time.Duration
	lagWarn        time.Duration
	microtaskLimit int
	starveTicks    int

	state     LoopState
	nextID    TaskID
	seq       uint64
	eventSeq  uint64
	tickCount uint64
	current   TaskID
	idleWait  int  // consecutive ticks idle work was held back
	running   bool // a driver owns the loop
	shutdown  bool
	discarded bool
	stats     Stats

	wake chan struct{}
	done chan struct{}
}

// Wake describes when the loop next has something to do.
type Wake struct {
	// Next is the earliest timer due time, valid when HasTimer is set.
	Next     time.Time
	HasTimer bool
	// Pending is set when runnable work is queued and Tick should be called
	// again without waiting.
	Pending bool
}

// New creates a new Scheduler instance with the given options.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Scheduler{
		id:             id,
		clock:          cfg.clock,
		logger:         cfg.logger.Clone().Str("scheduler", id).Logger(),
		limiter:        newWarnLimiter(),
		observer:       cfg.observer,
		micro:          newFIFO(),
		macro:          newFIFO(),
		idle:           newFIFO(),
		timers:         newTimerWheel(),
		tasks:          make(map[TaskID]*task),
		cancelled:      hashset.New(),
		errorHandler:   cfg.errorHandler,
		idleBudget:     cfg.idleBudget,
		lagWarn:        cfg.lagWarn,
		microtaskLimit: cfg.microtaskLimit,
		starveTicks:    cfg.starveTicks,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}, nil
}

// ID returns the scheduler's instance id, as attached to its log lines.
func (s *Scheduler) ID() string { return s.id }

// ScheduleMicrotask queues a high-priority continuation. All microtasks are
// drained before the next macrotask or idle task starts.
func (s *Scheduler) ScheduleMicrotask(fn Action) (TaskID, error) {
	if fn == nil {
		return 0, ErrNilAction
	}
	return s.enqueue(&task{kind: KindMicrotask, action: fn})
}

// ScheduleMacrotask queues ordinary work. At most one macrotask runs per tick.
func (s *Scheduler) ScheduleMacrotask(fn Action) (TaskID, error) {
	if fn == nil {
		return 0, ErrNilAction
	}
	return s.enqueue(&task{kind: KindMacrotask, action: fn})
}

// ScheduleAfter registers a timer. Once delay has elapsed the timer becomes
// eligible and is appended to the macrotask queue at the next tick; it never
// runs inside this call, even with a zero delay. Negative delays count as zero.
func (s *Scheduler) ScheduleAfter(delay time.Duration, fn Action) (TaskID, CancelHandle, error) {
	return s.scheduleTimer(delay, 0, fn)
}

// ScheduleInterval registers a repeating timer. The same task id is re-armed
// interval after each run, until it is cancelled.
func (s *Scheduler) ScheduleInterval(interval time.Duration, fn Action) (TaskID, CancelHandle, error) {
	if interval <= 0 {
		return 0, CancelHandle{}, fmt.Errorf("sched: non-positive interval %s", interval)
	}
	return s.scheduleTimer(interval, interval, fn)
}

func (s *Scheduler) scheduleTimer(delay, interval time.Duration, fn Action) (TaskID, CancelHandle, error) {
	if fn == nil {
		return 0, CancelHandle{}, ErrNilAction
	}
	now, err := s.clock.Now()
	if err != nil {
		return 0, CancelHandle{}, clockUnavailable(err)
	}
	id, err := s.enqueue(&task{
		kind:     KindTimer,
		action:   fn,
		dueAt:    now.Add(max(delay, 0)),
		interval: interval,
	})
	if err != nil {
		return 0, CancelHandle{}, err
	}
	return id, CancelHandle{s: s, id: id}, nil
}

// ScheduleIdle queues lowest-priority work, run only when the micro- and
// macrotask queues are empty, within the per-tick idle budget. The task
// starts only if at least minBudget of the idle period remains; minBudget is
// capped at the configured budget.
func (s *Scheduler) ScheduleIdle(fn IdleAction, minBudget time.Duration) (TaskID, error) {
	if fn == nil {
		return 0, ErrNilAction
	}
	return s.enqueue(&task{
		kind:      KindIdle,
		idle:      fn,
		minBudget: min(max(minBudget, 0), s.idleBudget),
	})
}

func (s *Scheduler) enqueue(t *task) (TaskID, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return 0, ErrShutdownInProgress
	}
	s.nextID++
	t.id = s.nextID
	s.tasks[t.id] = t
	s.queueLocked(t)
	ev := s.eventLocked(StatusEnqueue, t)
	s.mu.Unlock()

	s.signal()
	s.emit(ev)
	return t.id, nil
}

// queueLocked assigns t a fresh sequence number and places it in its container.
func (s *Scheduler) queueLocked(t *task) {
	s.seq++
	t.seq = s.seq
	t.scheduledAt = s.tickCount
	switch t.kind {
	case KindMicrotask:
		s.micro.push(t)
	case KindMacrotask:
		s.macro.push(t)
	case KindTimer:
		s.timers.insert(t)
	case KindIdle:
		s.idle.push(t)
	}
}

// Cancel prevents the task bound to h from running, reporting whether it did.
// Cancelling twice, or cancelling a task that already ran, is a no-op.
// Cancelling a running task only marks it cancelled (see Cancelled); a
// cancelled repeating timer is not re-armed.
func (s *Scheduler) Cancel(h CancelHandle) bool {
	if h.s != s {
		return false
	}
	ok, _ := s.CancelTask(h.id)
	return ok
}

// CancelTask is Cancel by id. It returns ErrInvalidHandle for ids this
// Scheduler never issued.
func (s *Scheduler) CancelTask(id TaskID) (bool, error) {
	s.mu.Lock()
	if id == 0 || id > s.nextID {
		s.mu.Unlock()
		return false, invalidHandle(id)
	}
	t, ok := s.tasks[id]
	if !ok || t.cancelled {
		s.mu.Unlock()
		return false, nil
	}
	t.cancelled = true
	if t.running {
		s.mu.Unlock()
		return false, nil
	}
	if !s.timers.remove(id) {
		s.queueOf(t).forget()
	}
	delete(s.tasks, id)
	s.cancelled.Add(id)
	s.stats.Cancelled++
	ev := s.eventLocked(StatusCancel, t)
	s.mu.Unlock()

	s.emit(ev)
	return true, nil
}

// queueOf returns the FIFO holding a task that is not in the wheel.
// Promoted timers live in the macrotask queue.
func (s *Scheduler) queueOf(t *task) *fifo {
	switch t.kind {
	case KindMicrotask:
		return s.micro
	case KindIdle:
		return s.idle
	default:
		return s.macro
	}
}

// Cancelled reports whether the task has been cancelled, including tasks
// discarded by Shutdown. It stays true once the task is gone. A running task
// may poll this to stop cooperatively.
func (s *Scheduler) Cancelled(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.cancelled
	}
	return s.cancelled.Contains(id)
}

// Current returns the id of the executing task, or 0.
func (s *Scheduler) Current() TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnUnhandledError registers the handler that receives every task failure.
// It may be registered once. The handler runs synchronously on the loop; if
// it panics, the panic is logged and the loop carries on.
func (s *Scheduler) OnUnhandledError(fn func(TaskID, error)) error {
	if fn == nil {
		return fmt.Errorf("sched: nil error handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorHandler != nil {
		return ErrHandlerRegistered
	}
	s.errorHandler = fn
	return nil
}

// Shutdown stops the loop. New work is rejected with ErrShutdownInProgress.
// Pending tasks are discarded without running, either immediately when no
// driver is active, or by the driver at the end of its current tick, before
// it returns.
// It does not block and may be called from within a task.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.state = StateShuttingDown
	driven := s.running
	s.mu.Unlock()

	s.signal()
	if !driven {
		s.discardAll()
	}
}

// Done is closed once shutdown has discarded all pending work.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// State returns the current loop state.
func (s *Scheduler) State() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick runs a single turn of the loop:
//
//  1. promote due timers to the tail of the macrotask queue,
//  2. run at most one macrotask,
//  3. drain the microtask queue until it stays empty,
//  4. when both queues are empty, run idle tasks within the idle budget.
//
// Microtasks queued from outside any task are drained before step 2, so no
// macrotask ever starts while microtasks are pending.
func (s *Scheduler) Tick() (Wake, error) {
	if err := s.acquire(); err != nil {
		return Wake{}, err
	}
	defer s.release()
	return s.turn()
}

// RunUntilIdle drives the loop until the micro- and macrotask queues and the
// timer wheel are empty, plus the idle queue when an idle budget is set.
// It waits for pending timers using the clock.
func (s *Scheduler) RunUntilIdle(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := s.turn()
		if err != nil {
			return err
		}
		if s.isShutdown() {
			s.discardAll()
			return nil
		}
		if w.Pending {
			continue
		}
		if !w.HasTimer {
			return nil
		}
		if err := s.sleepUntil(ctx, w.Next); err != nil {
			return err
		}
	}
}

// RunForever drives the loop until Shutdown, returning nil, or until ctx is
// done, returning ctx.Err(). When there is nothing to do it sleeps until the
// next timer or until new work is scheduled. A clock failure halts it with
// ErrClockUnavailable.
func (s *Scheduler) RunForever(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := s.turn()
		if err != nil {
			return err
		}
		if s.isShutdown() {
			s.discardAll()
			return nil
		}
		switch {
		case w.Pending:
			continue
		case w.HasTimer:
			err = s.sleepUntil(ctx, w.Next)
		default:
			select {
			case <-s.wake:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
}

func (s *Scheduler) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrLoopAlreadyRunning
	}
	s.running = true
	return nil
}

// release gives up the loop. A Shutdown that arrived after the driver's last
// shutdown check is completed here, since Shutdown itself leaves the discard
// to an active driver.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	pending := s.shutdown && !s.discarded
	s.mu.Unlock()

	if pending {
		s.discardAll()
	}
}

func (s *Scheduler) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// sleepUntil blocks until the clock reaches next, new work is signalled, or
// ctx is done.
func (s *Scheduler) sleepUntil(ctx context.Context, next time.Time) error {
	now, err := s.clock.Now()
	if err != nil {
		return clockUnavailable(err)
	}
	d := next.Sub(now)
	if d <= 0 {
		return nil
	}
	select {
	case <-s.clock.After(d):
	case <-s.wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// signal wakes a sleeping driver. Signals are coalesced.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// turn is one iteration of the loop. The caller must own the loop.
func (s *Scheduler) turn() (Wake, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.discardAll()
		return Wake{}, nil
	}
	s.tickCount++
	s.state = StatePromoting
	s.mu.Unlock()

	now, err := s.clock.Now()
	if err != nil {
		s.setState(StateIdle)
		return Wake{}, clockUnavailable(err)
	}

	s.promote(now)

	if err := s.drainMicrotasks(); err != nil {
		return Wake{}, err
	}

	s.mu.Lock()
	t := s.macro.pop()
	var ev StatusEvent
	if t != nil {
		ev = s.dispatchLocked(t, StateRunning)
	}
	s.mu.Unlock()
	if t != nil {
		s.execute(t, ev, nil)
	}

	if err := s.drainMicrotasks(); err != nil {
		return Wake{}, err
	}

	if err := s.runIdle(); err != nil {
		return Wake{}, err
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.discardAll()
		return Wake{}, nil
	}
	s.state = StateIdle
	w := s.wakeLocked()
	var idleEv []StatusEvent
	if !w.Pending {
		idleEv = append(idleEv, s.markLocked(StatusEvent{Time: s.stamp(), Kind: StatusIdle, Tick: s.tickCount}))
	}
	s.mu.Unlock()

	s.emit(idleEv...)
	return w, nil
}

// promote moves every timer due at now to the tail of the macrotask queue,
// in (dueAt, seq) order.
func (s *Scheduler) promote(now time.Time) {
	s.mu.Lock()
	due := s.timers.drainDue(now)
	evs := make([]StatusEvent, 0, len(due)+1)
	evs = append(evs, s.markLocked(StatusEvent{Time: now, Kind: StatusTick, Tick: s.tickCount}))
	var lag time.Duration
	var late TaskID
	for _, t := range due {
		s.macro.push(t)
		s.stats.Promoted++
		evs = append(evs, s.eventLocked(StatusPromote, t))
		if d := now.Sub(t.dueAt); d > lag {
			lag, late = d, t.id
		}
	}
	warnLag := s.lagWarn > 0 && lag > s.lagWarn
	s.stats.Ticks++
	s.mu.Unlock()

	s.emit(evs...)
	if warnLag {
		s.warn(warnTimerLag, func(b *logiface.Builder[logiface.Event]) *logiface.Builder[logiface.Event] {
			return b.Uint64("task", uint64(late)).Dur("lag", lag)
		}, "timer promoted late")
	}
}

// drainMicrotasks runs microtasks until the queue is empty, catching any
// that are queued while draining.
func (s *Scheduler) drainMicrotasks() error {
	for ran := 0; ; ran++ {
		s.mu.Lock()
		if s.micro.empty() {
			s.mu.Unlock()
			return nil
		}
		if s.microtaskLimit > 0 && ran >= s.microtaskLimit {
			s.state = StateIdle
			s.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrMicrotaskLimit, s.microtaskLimit)
		}
		t := s.micro.pop()
		ev := s.dispatchLocked(t, StateDraining)
		s.mu.Unlock()

		s.execute(t, ev, nil)
	}
}

// runIdle is the idle phase of a tick. Idle tasks only start while both the
// micro- and macrotask queues are empty.
func (s *Scheduler) runIdle() error {
	s.mu.Lock()
	if s.shutdown || s.idleBudget <= 0 || s.idle.empty() {
		s.mu.Unlock()
		return nil
	}
	if !s.macro.empty() || !s.micro.empty() {
		s.idleWait++
		wait := s.idleWait
		starving := s.starveTicks > 0 && wait >= s.starveTicks
		s.mu.Unlock()
		if starving {
			s.warn(warnIdleStarved, func(b *logiface.Builder[logiface.Event]) *logiface.Builder[logiface.Event] {
				return b.Int("ticks", wait)
			}, "idle tasks held back by pending work")
		}
		return nil
	}
	s.mu.Unlock()

	now, err := s.clock.Now()
	if err != nil {
		return clockUnavailable(err)
	}
	period := newIdlePeriod(s.clock, now, s.idleBudget)

	for first := true; ; first = false {
		s.mu.Lock()
		if s.shutdown || !s.macro.empty() || !s.micro.empty() {
			s.mu.Unlock()
			return nil
		}
		t := s.idle.peek()
		// the first task of a period always gets the whole budget
		if t == nil || (!first && !period.admits(t)) {
			s.mu.Unlock()
			return nil
		}
		s.idle.pop()
		s.idleWait = 0
		ev := s.dispatchLocked(t, StateRunning)
		s.mu.Unlock()

		s.execute(t, ev, &period)

		if err := s.drainMicrotasks(); err != nil {
			return err
		}
	}
}

// dispatchLocked marks t as the running task.
func (s *Scheduler) dispatchLocked(t *task, state LoopState) StatusEvent {
	t.running = true
	s.current = t.id
	s.state = state
	return s.eventLocked(StatusDispatch, t)
}

// execute runs a dispatched task to completion and reports its outcome.
func (s *Scheduler) execute(t *task, dispatched StatusEvent, period *idlePeriod) {
	s.emit(dispatched)

	err := s.invoke(t, period)

	var rearmAt time.Time
	if t.interval > 0 {
		rearmAt = t.dueAt.Add(t.interval)
		if now, cerr := s.clock.Now(); cerr == nil {
			rearmAt = now.Add(t.interval)
		}
	}

	s.mu.Lock()
	t.running = false
	s.current = 0
	s.stats.record(t.kind)
	evs := make([]StatusEvent, 0, 2)
	if err != nil {
		s.stats.Failed++
		ev := s.eventLocked(StatusFail, t)
		ev.Err = err
		evs = append(evs, ev)
	} else {
		evs = append(evs, s.eventLocked(StatusFinish, t))
	}
	if t.interval > 0 && !t.cancelled && !s.shutdown {
		t.dueAt = rearmAt
		s.queueLocked(t)
		evs = append(evs, s.eventLocked(StatusEnqueue, t))
	} else {
		delete(s.tasks, t.id)
		if t.cancelled {
			s.cancelled.Add(t.id)
		}
	}
	handler := s.errorHandler
	s.mu.Unlock()

	s.emit(evs...)
	if err != nil {
		s.report(handler, t, err)
	}
}

// invoke calls the task's action, converting a panic into a *PanicError.
func (s *Scheduler) invoke(t *task, period *idlePeriod) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if t.kind == KindIdle {
		var deadline IdleDeadline
		if period != nil {
			deadline = period.IdleDeadline
		}
		return t.idle(deadline)
	}
	return t.action()
}

// report delivers a task failure to the unhandled error handler, or logs it
// when there is none. Nothing escapes the loop.
func (s *Scheduler) report(handler func(TaskID, error), t *task, err error) {
	execErr := &TaskExecutionError{Err: err, ID: t.id, Kind: t.kind}
	if handler == nil {
		s.logTaskError(t.id, execErr)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logHandlerPanic(t.id, execErr, r)
		}
	}()
	handler(t.id, execErr)
}

// discardAll drops every pending task without running it. It runs once.
func (s *Scheduler) discardAll() {
	s.mu.Lock()
	if s.discarded {
		s.mu.Unlock()
		return
	}
	s.discarded = true
	s.state = StateShuttingDown

	var pending []*task
	pending = append(pending, s.micro.drain()...)
	pending = append(pending, s.macro.drain()...)
	pending = append(pending, s.timers.drain()...)
	pending = append(pending, s.idle.drain()...)

	evs := make([]StatusEvent, 0, len(pending))
	for _, t := range pending {
		t.cancelled = true
		delete(s.tasks, t.id)
		s.cancelled.Add(t.id)
		s.stats.Discarded++
		evs = append(evs, s.eventLocked(StatusDiscard, t))
	}
	close(s.done)
	s.mu.Unlock()

	s.emit(evs...)
	s.logger.Info().
		Int("discarded", len(pending)).
		Log("scheduler shut down")
}

// wakeLocked computes what the loop has left to do.
func (s *Scheduler) wakeLocked() Wake {
	var w Wake
	w.Next, w.HasTimer = s.timers.next()
	w.Pending = !s.micro.empty() || !s.macro.empty() ||
		(s.idleBudget > 0 && !s.idle.empty())
	return w
}

func (s *Scheduler) setState(state LoopState) {
	s.mu.Lock()
	if !s.shutdown {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Scheduler) eventLocked(kind StatusKind, t *task) StatusEvent {
	return s.markLocked(StatusEvent{
		Time:     s.stamp(),
		Kind:     kind,
		TaskKind: t.kind,
		TaskID:   t.id,
		Tick:     s.tickCount,
	})
}

// markLocked assigns ev its place in the order transitions happened.
func (s *Scheduler) markLocked(ev StatusEvent) StatusEvent {
	s.eventSeq++
	ev.Seq = s.eventSeq
	return ev
}

// stamp reads the clock for event timestamps; failures yield the zero time.
func (s *Scheduler) stamp() time.Time {
	now, _ := s.clock.Now()
	return now
}

func (s *Scheduler) emit(evs ...StatusEvent) {
	if s.observer == nil {
		return
	}
	for _, ev := range evs {
		s.observer.HandleEvent(ev)
	}
}

// internal/sched/queue.go

package sched

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// fifo is a plain first-in first-out task queue.
//
// Cancelled tasks are not unlinked from the underlying list; they are skipped
// on pop. live tracks the number of tasks that can still run, so Len reflects
// a cancellation immediately.
type fifo struct {
	q    *linkedlistqueue.Queue
	live int
}

func newFIFO() *fifo {
	return &fifo{q: linkedlistqueue.New()}
}

func (f *fifo) push(t *task) {
	f.q.Enqueue(t)
	f.live++
}

// peek returns the first runnable task without removing it.
func (f *fifo) peek() *task {
	for {
		v, ok := f.q.Peek()
		if !ok {
			return nil
		}
		if t := v.(*task); !t.cancelled {
			return t
		}
		f.q.Dequeue()
	}
}

// pop removes and returns the first runnable task, or nil.
func (f *fifo) pop() *task {
	t := f.peek()
	if t == nil {
		return nil
	}
	f.q.Dequeue()
	f.live--
	return t
}

// forget accounts for a queued task that has just been cancelled.
func (f *fifo) forget() {
	if f.live > 0 {
		f.live--
	}
}

func (f *fifo) Len() int { return f.live }

func (f *fifo) empty() bool { return f.live == 0 }

// drain empties the queue, returning the runnable tasks in order.
func (f *fifo) drain() []*task {
	var out []*task
	for t := f.pop(); t != nil; t = f.pop() {
		out = append(out, t)
	}
	f.q.Clear()
	f.live = 0
	return out
}

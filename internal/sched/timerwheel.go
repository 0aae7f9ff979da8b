// internal/sched/timerwheel.go

package sched

import (
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// timerWheel holds timers that are not yet eligible to run, ordered by
// (dueAt, seq). Insert, remove and pop-min are all O(log n).
type timerWheel struct {
	rbt  *redblacktree.Tree // red-black tree ordered by due time, then sequence
	keys map[TaskID]timerKey
}

// timerKey is used as a key in the red-black tree.
type timerKey struct {
	dueAt time.Time
	seq   uint64
}

func newTimerWheel() *timerWheel {
	return &timerWheel{
		rbt:  redblacktree.NewWith(compareTimerKeys),
		keys: make(map[TaskID]timerKey),
	}
}

func (w *timerWheel) insert(t *task) {
	k := timerKey{dueAt: t.dueAt, seq: t.seq}
	w.rbt.Put(k, t)
	w.keys[t.id] = k
}

// remove reports whether the wheel held the task.
func (w *timerWheel) remove(id TaskID) bool {
	k, ok := w.keys[id]
	if !ok {
		return false
	}
	w.rbt.Remove(k)
	delete(w.keys, id)
	return true
}

// drainDue removes and returns every timer with dueAt <= now, in ascending
// (dueAt, seq) order.
func (w *timerWheel) drainDue(now time.Time) []*task {
	var due []*task
	for {
		node := w.rbt.Left()
		if node == nil {
			break
		}
		k := node.Key.(timerKey)
		if k.dueAt.After(now) {
			break
		}
		t := node.Value.(*task)
		w.rbt.Remove(k)
		delete(w.keys, t.id)
		due = append(due, t)
	}
	return due
}

// next returns the earliest due time.
func (w *timerWheel) next() (time.Time, bool) {
	node := w.rbt.Left()
	if node == nil {
		return time.Time{}, false
	}
	return node.Key.(timerKey).dueAt, true
}

func (w *timerWheel) Len() int { return w.rbt.Size() }

// drain empties the wheel, returning its timers in due order.
func (w *timerWheel) drain() []*task {
	out := make([]*task, 0, w.rbt.Size())
	it := w.rbt.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*task))
	}
	w.rbt.Clear()
	clear(w.keys)
	return out
}

// compareTimerKeys implements the Comparator used for red-black tree ordering.
func compareTimerKeys(a, b any) int {
	ka, kb := a.(timerKey), b.(timerKey)
	switch {
	case ka.dueAt.Before(kb.dueAt):
		return -1
	case ka.dueAt.After(kb.dueAt):
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// internal/sched/trace.go

package sched

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"
)

// CSVTrace is an Observer that writes every event as a CSV row.
type CSVTrace struct {
	mu  sync.Mutex
	w   *csv.Writer
	err error
}

// NewCSVTrace writes the header row and returns a trace writing to w.
func NewCSVTrace(w io.Writer) *CSVTrace {
	t := &CSVTrace{w: csv.NewWriter(w)}
	t.err = t.w.Write([]string{"seq", "timestamp", "tick", "event", "task_id", "task_kind", "error"})
	return t
}

func (t *CSVTrace) HandleEvent(ev StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}

	var kind, msg string
	if ev.TaskID != 0 {
		kind = ev.TaskKind.String()
	}
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	t.err = t.w.Write([]string{
		strconv.FormatUint(ev.Seq, 10),
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(ev.Tick, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		kind,
		msg,
	})
}

// Flush writes buffered rows, returning the first error seen.
func (t *CSVTrace) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	if t.err != nil {
		return t.err
	}
	return t.w.Error()
}

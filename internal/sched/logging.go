// internal/sched/logging.go

package sched

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// warning categories, each rate limited independently
const (
	warnTimerLag    = "timer-lag"
	warnIdleStarved = "idle-starved"
)

// warnRates allows one warning per second and ten per minute, per category.
var warnRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func defaultLogger() *logiface.Logger[logiface.Event] {
	return NewLogger(os.Stderr, logiface.LevelWarning)
}

// ParseLevel maps a syslog keyword (as printed by logiface.Level.String, or
// its long form) to a level.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	case "emerg", "emergency":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit", "critical":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "info", "informational":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("sched: unknown log level %q", s)
	}
}

// logTaskError logs a task failure nobody handled. Falls back to the default
// logger when error logging is disabled, so the error is never lost.
func (s *Scheduler) logTaskError(id TaskID, err error) {
	b := s.logger.Err()
	if !b.Enabled() {
		b = defaultLogger().Err().Str("scheduler", s.id)
	}
	b.Uint64("task", uint64(id)).
		Err(err).
		Log("unhandled task error")
}

// logHandlerPanic logs a panic raised by the unhandled error handler itself.
func (s *Scheduler) logHandlerPanic(id TaskID, err error, r any) {
	s.logger.Crit().
		Uint64("task", uint64(id)).
		Err(err).
		Str("panic", fmt.Sprint(r)).
		Log("unhandled error handler panicked")
}

// warn logs a rate limited warning for the given category.
func (s *Scheduler) warn(category string, build func(b *logiface.Builder[logiface.Event]) *logiface.Builder[logiface.Event], msg string) {
	b := s.logger.Warning()
	if !b.Enabled() {
		return
	}
	if _, ok := s.limiter.Allow(category); !ok {
		b.Release()
		return
	}
	build(b.Str("category", category)).Log(msg)
}

func newWarnLimiter() *catrate.Limiter {
	return catrate.NewLimiter(warnRates)
}

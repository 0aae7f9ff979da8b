package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"taskloop/internal/job"
	"taskloop/internal/sched"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	tracePath := flag.String("trace", "", "write a CSV event trace to this file (overrides trace_csv)")
	verbose := flag.Bool("v", false, "print every scheduler event")
	flag.Parse()

	if err := run(*configPath, *tracePath, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "ticksched:", err)
		os.Exit(1)
	}
}

func run(configPath, tracePath string, verbose bool) error {
	// Read the configuration
	cfg, err := sched.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded config: %+v\n", cfg)

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	// virtual time keeps the demo output reproducible
	clock := sched.NewVirtualClock(time.Unix(0, 0).UTC())
	opts = append(opts, sched.WithClock(clock))

	if tracePath == "" {
		tracePath = cfg.TraceCSV
	}
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return err
		}
		defer f.Close()
		trace := sched.NewCSVTrace(f)
		defer func() {
			if err := trace.Flush(); err != nil {
				fmt.Fprintln(os.Stderr, "ticksched: trace:", err)
			}
		}()
		opts = append(opts, sched.WithObserver(trace))
	}
	if verbose {
		opts = append(opts, sched.WithObserver(sched.ObserverFunc(printEvent)))
	}

	for _, sc := range scenarios {
		s, err := sched.New(opts...)
		if err != nil {
			return err
		}
		var out []string
		record := func(msg string) { out = append(out, msg) }
		if err := s.OnUnhandledError(func(id sched.TaskID, err error) {
			record(fmt.Sprintf("error(task %d: %v)", id, err))
		}); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}

		if err := sc.setup(s, record); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		if err := s.RunUntilIdle(context.Background()); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		s.Shutdown()

		st := s.Stats()
		fmt.Printf("%-14s => %s (ticks=%d, failed=%d)\n", sc.name, strings.Join(out, ", "), st.Ticks, st.Failed)
	}
	return nil
}

type scenario struct {
	name  string
	setup func(s *sched.Scheduler, record func(string)) error
}

var scenarios = []scenario{
	{"microtasks", func(s *sched.Scheduler, record func(string)) error {
		_, err := s.ScheduleMacrotask(func() error {
			record("1")
			if _, err := s.ScheduleMacrotask(logAction(record, "timeout")); err != nil {
				return err
			}
			if _, err := s.ScheduleMicrotask(logAction(record, "p1")); err != nil {
				return err
			}
			if _, err := s.ScheduleMicrotask(logAction(record, "p2")); err != nil {
				return err
			}
			record("2")
			return nil
		})
		return err
	}},
	{"timers", func(s *sched.Scheduler, record func(string)) error {
		if _, _, err := s.ScheduleAfter(time.Second, logAction(record, "A")); err != nil {
			return err
		}
		if _, _, err := s.ScheduleAfter(time.Second, logAction(record, "B")); err != nil {
			return err
		}
		_, err := s.ScheduleMacrotask(logAction(record, "C"))
		return err
	}},
	{"cancel", func(s *sched.Scheduler, record func(string)) error {
		_, h, err := s.ScheduleAfter(time.Second, logAction(record, "cancelled timer"))
		if err != nil {
			return err
		}
		_, err = s.ScheduleMacrotask(func() error {
			record(fmt.Sprintf("cancel=%t", h.Cancel()))
			return nil
		})
		return err
	}},
	{"idle", func(s *sched.Scheduler, record func(string)) error {
		if _, err := s.ScheduleIdle(func(d sched.IdleDeadline) error {
			record(fmt.Sprintf("idle(%s left)", d.TimeRemaining()))
			return nil
		}, 0); err != nil {
			return err
		}
		_, err := s.ScheduleMacrotask(logAction(record, "busy"))
		return err
	}},
	{"continuations", func(s *sched.Scheduler, record func(string)) error {
		if _, _, err := job.Delay(s, 500*time.Millisecond, func() (int, error) { return 42, nil }, func(v int) error {
			record(fmt.Sprintf("delayed=%d", v))
			return nil
		}); err != nil {
			return err
		}
		var tries int
		_, err := job.Retry(s, 3, 100*time.Millisecond, func() error {
			tries++
			record(fmt.Sprintf("try%d", tries))
			if tries < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		return err
	}},
	{"errors", func(s *sched.Scheduler, record func(string)) error {
		if _, err := s.ScheduleMacrotask(func() error { return errors.New("boom") }); err != nil {
			return err
		}
		_, err := s.ScheduleMacrotask(func() error { panic("kaboom") })
		return err
	}},
}

func logAction(record func(string), msg string) sched.Action {
	return func() error {
		record(msg)
		return nil
	}
}

func printEvent(ev sched.StatusEvent) {
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	msg := fmt.Sprintf("%s = Tick: %07d [%s] => Task: %04d (%s)",
		ev.Time.Format("15:04:05.000"),
		ev.Tick,
		center(ev.Kind.String(), 10),
		ev.TaskID,
		ev.TaskKind,
	)
	if ev.Err != nil {
		msg += " err=" + ev.Err.Error()
	}
	fmt.Println(msg)
}

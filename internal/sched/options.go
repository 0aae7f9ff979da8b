// internal/sched/options.go

package sched

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// options holds configuration options for Scheduler creation.
type options struct {
	clock          Clock
	logger         *logiface.Logger[logiface.Event]
	observer       Observer
	errorHandler   func(TaskID, error)
	idleBudget     time.Duration
	lagWarn        time.Duration
	microtaskLimit int
	starveTicks    int
}

// Option configures a Scheduler instance.
type Option interface {
	apply(*options) error
}

type optionFunc func(*options) error

func (f optionFunc) apply(o *options) error { return f(o) }

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return optionFunc(func(o *options) error {
		if clock == nil {
			return fmt.Errorf("sched: nil clock")
		}
		o.clock = clock
		return nil
	})
}

// WithIdleBudget sets how long each tick may spend on idle tasks.
// Zero disables idle processing.
func WithIdleBudget(d time.Duration) Option {
	return optionFunc(func(o *options) error {
		if d < 0 {
			return fmt.Errorf("sched: negative idle budget %s", d)
		}
		o.idleBudget = d
		return nil
	})
}

// WithMicrotaskLimit caps how many microtasks a single drain may run before
// the driver stops with ErrMicrotaskLimit. Zero means unlimited.
func WithMicrotaskLimit(n int) Option {
	return optionFunc(func(o *options) error {
		if n < 0 {
			return fmt.Errorf("sched: negative microtask limit %d", n)
		}
		o.microtaskLimit = n
		return nil
	})
}

// WithLogger sets the structured logger. A nil logger disables logging,
// except that unhandled task errors still fall back to the default logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *options) error {
		o.logger = logger
		return nil
	})
}

// WithObserver attaches an observer. Multiple observers are called in order.
func WithObserver(obs Observer) Option {
	return optionFunc(func(o *options) error {
		if obs == nil {
			return nil
		}
		if o.observer == nil {
			o.observer = obs
			return nil
		}
		if m, ok := o.observer.(multiObserver); ok {
			o.observer = append(m, obs)
			return nil
		}
		o.observer = multiObserver{o.observer, obs}
		return nil
	})
}

// WithErrorHandler registers the unhandled task error handler at construction.
// See Scheduler.OnUnhandledError.
func WithErrorHandler(fn func(TaskID, error)) Option {
	return optionFunc(func(o *options) error {
		o.errorHandler = fn
		return nil
	})
}

// WithLagWarning logs a warning when a timer is promoted later than d after
// its due time. Zero disables the warning.
func WithLagWarning(d time.Duration) Option {
	return optionFunc(func(o *options) error {
		o.lagWarn = max(d, 0)
		return nil
	})
}

// WithStarvationWarning logs a warning when idle tasks have waited for n
// consecutive ticks. Zero disables the warning.
func WithStarvationWarning(n int) Option {
	return optionFunc(func(o *options) error {
		o.starveTicks = max(n, 0)
		return nil
	})
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		clock:      SystemClock{},
		logger:     defaultLogger(),
		idleBudget: DefaultIdleBudget,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

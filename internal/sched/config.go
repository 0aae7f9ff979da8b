// internal/sched/config.go

package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	IdleBudgetMS        int    `yaml:"idle_budget_ms"`        // 50 (by default), 0 disables idle tasks
	MicrotaskLimit      int    `yaml:"microtask_limit"`       // 0 (by default), unlimited
	LagWarnMS           int    `yaml:"lag_warn_ms"`           // 100 (by default), 0 disables
	StarvationWarnTicks int    `yaml:"starvation_warn_ticks"` // 1000 (by default), 0 disables
	LogLevel            string `yaml:"log_level"`             // "warning" (by default)
	TraceCSV            string `yaml:"trace_csv"`             // empty (by default), no trace
}

// DefaultConfig returns the values used when no config file is present.
func DefaultConfig() Config {
	return Config{
		IdleBudgetMS:        int(DefaultIdleBudget / time.Millisecond),
		MicrotaskLimit:      0,
		LagWarnMS:           100,
		StarvationWarnTicks: 1000,
		LogLevel:            "warning",
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only. Malformed files are an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("sched: parse %s: %w", path, err)
	}

	// sanity clamps
	if cfg.IdleBudgetMS < 0 {
		cfg.IdleBudgetMS = 0
	}
	if cfg.MicrotaskLimit < 0 {
		cfg.MicrotaskLimit = 0
	}
	if cfg.LagWarnMS < 0 {
		cfg.LagWarnMS = 0
	}
	if cfg.StarvationWarnTicks < 0 {
		cfg.StarvationWarnTicks = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warning"
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return DefaultConfig(), err
	}

	return cfg, nil
}

// Options converts the config into scheduler options. Logs go to stderr.
func (c Config) Options() ([]Option, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithIdleBudget(time.Duration(c.IdleBudgetMS) * time.Millisecond),
		WithMicrotaskLimit(c.MicrotaskLimit),
		WithLagWarning(time.Duration(c.LagWarnMS) * time.Millisecond),
		WithStarvationWarning(c.StarvationWarnTicks),
		WithLogger(NewLogger(os.Stderr, level)),
	}, nil
}

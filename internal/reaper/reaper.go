// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package reaper periodically deletes expired passcodes and revocation
// records.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

// Sweeper deletes expired rows and reports how many went.
// *auth.OTPService and *auth.Ledger satisfy it.
type Sweeper interface {
	Reap(ctx context.Context) (int64, error)
}

// Task names a Sweeper for logging.
type Task struct {
	Name    string
	Sweeper Sweeper
}

// Result is the outcome of one task in a sweep.
type Result struct {
	Name    string
	Deleted int64
	Err     error
}

// Reaper runs its tasks on a cron schedule.
type Reaper struct {
	tasks   []Task
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) { r.logger = logger }
}

// WithTimeout bounds each scheduled sweep. The default is one minute.
func WithTimeout(d time.Duration) Option {
	return func(r *Reaper) { r.timeout = d }
}

// New creates a Reaper over tasks.
func New(tasks []Task, opts ...Option) (*Reaper, error) {
	if len(tasks) == 0 {
		return nil, oops.Code("REAPER_INVALID").Errorf("at least one task is required")
	}
	for _, t := range tasks {
		if t.Name == "" || t.Sweeper == nil {
			return nil, oops.Code("REAPER_INVALID").Errorf("task needs a name and a sweeper")
		}
	}
	r := &Reaper{tasks: tasks, logger: slog.Default(), timeout: time.Minute}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		return nil, oops.Code("REAPER_INVALID").Errorf("logger must not be nil")
	}
	return r, nil
}

// Sweep runs every task once. A failing task does not stop the others.
func (r *Reaper) Sweep(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.tasks))
	for _, t := range r.tasks {
		n, err := t.Sweeper.Reap(ctx)
		if err != nil {
			errutil.LogErrorContext(ctx, r.logger, "reap failed", oops.With("task", t.Name).Wrap(err))
		} else {
			r.logger.InfoContext(ctx, "reaped expired records", "task", t.Name, "deleted", n)
		}
		results = append(results, Result{Name: t.Name, Deleted: n, Err: err})
	}
	return results
}

// Start schedules sweeps with a standard five-field cron expression or a
// descriptor such as "@every 1h".
func (r *Reaper) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return oops.Code("REAPER_ALREADY_RUNNING").Errorf("reaper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, r.scheduled); err != nil {
		return oops.Code("REAPER_SCHEDULE_INVALID").With("schedule", schedule).Wrap(err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.logger.Info("reaper started", "schedule", schedule)
	return nil
}

func (r *Reaper) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.Sweep(ctx)
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to
// end. Safe to call when not started.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return oops.Code("REAPER_STOP_TIMEOUT").Wrap(ctx.Err())
	}
}

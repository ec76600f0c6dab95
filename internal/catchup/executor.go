package catchup

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"mergesched/internal/recurrence"
	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

// Executor performs the actual work when an entry fires. The payload passes
// through unexamined.
type Executor interface {
	Execute(ctx context.Context, p schedule.Payload) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, p schedule.Payload) error

func (f ExecutorFunc) Execute(ctx context.Context, p schedule.Payload) error { return f(ctx, p) }

// Config tunes a run.
type Config struct {
	// RatePerMin caps executions per minute within one run, so a long
	// powered-off backlog doesn't hammer the data sources on wake. 0
	// disables pacing.
	RatePerMin int
}

// Report summarizes one RunDue invocation.
type Report struct {
	Processed int // entries seen
	Fired     int // entries executed successfully
	Failed    int // entries that errored (malformed, execution, persistence)
	Skipped   int // entries not yet due
}

// Runner drives catch-up execution over the schedule store.
type Runner struct {
	store   schedule.Store
	exec    Executor
	log     logx.Logger
	limiter *rate.Limiter
}

func NewRunner(st schedule.Store, exec Executor, cfg Config, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerMin > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1)
	}
	return &Runner{store: st, exec: exec, log: log, limiter: lim}
}

// RunDue processes every stored entry once against the given instant.
//
// An entry is due when any of its per-weekday fire timestamps is at or
// before now, including timestamps weeks in the past (the machine-was-off
// case). A due entry executes exactly once per invocation; on success, every
// weekday found due is fast-forwarded past all missed cycles (not just one)
// and the entry is persisted. Weekdays that were not due are left alone.
//
// Advancement policy: a failed execution does not count as fired. The entry
// keeps its overdue timestamps and retries on the next invocation.
//
// No per-entry failure escapes this method; each is logged with the entry's
// key and processing continues. Only a store-level load failure (corrupt
// backing medium) aborts the run.
//
// RunDue assumes at most one invocation runs at a time against a given
// store. Enforcing that (lock file, single-instance unit) is the invocation
// mechanism's responsibility.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (Report, error) {
	var rep Report

	entries, err := r.store.LoadAll(ctx)
	if err != nil {
		r.log.Error("schedule store load failed; aborting run", logx.Err(err))
		return rep, err
	}

	r.log.Debug("run starting", logx.Int("entries", len(entries)), logx.Time("now", now))

	for i := range entries {
		rep.Processed++
		r.processEntry(ctx, &entries[i], now, &rep)
	}

	r.log.Info("run finished",
		logx.Int("processed", rep.Processed),
		logx.Int("fired", rep.Fired),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped))
	return rep, nil
}

func (r *Runner) processEntry(ctx context.Context, e *schedule.Entry, now time.Time, rep *Report) {
	log := r.log.With(logx.String("key", e.Key))

	// An executor panic must not take down the remaining entries.
	defer func() {
		if rec := recover(); rec != nil {
			rep.Failed++
			log.Error("panic while processing entry",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := e.Validate(); err != nil {
		rep.Failed++
		log.Error("stored entry failed validation; skipped for this run", logx.Err(err))
		return
	}

	due := dueWeekdays(e, now)
	if len(due) == 0 {
		rep.Skipped++
		return
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			rep.Failed++
			log.Error("run cancelled while pacing", logx.Err(err))
			return
		}
	}

	start := time.Now()
	if err := r.exec.Execute(ctx, e.Payload); err != nil {
		rep.Failed++
		log.Error("action execution failed; schedule not advanced",
			logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}

	for _, d := range due {
		e.NextFire[d] = recurrence.AdvancePast(e.NextFire[d], e.IntervalWeeks, now)
	}
	if err := r.store.Save(ctx, *e); err != nil {
		rep.Failed++
		log.Error("fired but failed to persist advanced schedule; entry may re-fire next run", logx.Err(err))
		return
	}

	rep.Fired++
	log.Info("entry fired",
		logx.Int("due_weekdays", len(due)),
		logx.Duration("took", time.Since(start)))
}

func dueWeekdays(e *schedule.Entry, now time.Time) []time.Weekday {
	var due []time.Weekday
	for _, d := range e.Weekdays() {
		if !e.NextFire[d].After(now) {
			due = append(due, d)
		}
	}
	return due
}

// Describe renders a one-line human summary, used by the CLI.
func (rep Report) Describe() string {
	return fmt.Sprintf("%d processed, %d fired, %d failed, %d not due",
		rep.Processed, rep.Fired, rep.Failed, rep.Skipped)
}

// Package daemon is the optional long-running mode: a cron-triggered loop
// around the catch-up run, with systemd readiness/watchdog integration and
// live config reload. The one-shot `run` command covers hosts that prefer an
// OS scheduler; this package covers the ones that want a resident process.
package daemon

import (
	"context"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"mergesched/internal/catchup"
	"mergesched/internal/config"
	logx "mergesched/pkg/logx"
)

// DefaultRunSpec keeps fire times within an hour of their scheduled minute.
// The engine only needs to wake at least once per calendar day.
const DefaultRunSpec = "@hourly"

// Runner is the catch-up engine the daemon drives on each tick.
type Runner interface {
	RunDue(ctx context.Context, now time.Time) (catchup.Report, error)
}

type Config struct {
	RunSpec  string
	Watchdog bool
}

type Service struct {
	cfg    Config
	runner Runner
	log    logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	tickCtx context.Context // run context, for rescheduled jobs

	// serializes ticks; a slow backlog run must not overlap the next tick
	runMu sync.Mutex

	parser cron.Parser
	notify func(state string) // sd_notify, stubbed in tests
}

func New(cfg Config, runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		runner: runner,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		notify: func(state string) { _, _ = sd.SdNotify(false, state) },
	}
}

// Run starts the loop and blocks until ctx is cancelled. The first run
// happens immediately, so a backlog never waits for the first cron tick.
func (s *Service) Run(ctx context.Context) error {
	spec := s.cfg.RunSpec
	if spec == "" {
		spec = DefaultRunSpec
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tickCtx = ctx
	s.c = cron.New(cron.WithParser(s.parser))
	s.c.Schedule(sched, cron.FuncJob(func() { s.tick(ctx) }))
	s.c.Start()
	s.mu.Unlock()

	s.notify(sd.SdNotifyReady)
	s.log.Info("daemon started", logx.String("run_spec", spec))

	if s.cfg.Watchdog {
		go s.watchdog(ctx)
	}

	s.tick(ctx)

	<-ctx.Done()
	s.stop()
	return ctx.Err()
}

// Apply takes a new daemon config. A changed run spec restarts cron; the
// currently executing tick, if any, finishes under the old spec.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := cfg.RunSpec != s.cfg.RunSpec && s.c != nil
	s.cfg = cfg
	if !restart {
		return
	}

	spec := cfg.RunSpec
	if spec == "" {
		spec = DefaultRunSpec
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		s.log.Error("bad run spec in new config, keeping old schedule",
			logx.String("run_spec", spec), logx.Err(err))
		return
	}

	<-s.c.Stop().Done()
	ctx := s.tickCtx
	s.c = cron.New(cron.WithParser(s.parser))
	s.c.Schedule(sched, cron.FuncJob(func() { s.tick(ctx) }))
	s.c.Start()
	s.log.Info("run schedule replaced", logx.String("run_spec", spec))
}

func (s *Service) tick(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	report, err := s.runner.RunDue(ctx, start)
	if err != nil {
		s.log.Error("catch-up run failed", logx.Err(err))
		return
	}
	s.log.Info("catch-up run finished",
		logx.String("report", report.Describe()),
		logx.Duration("took", time.Since(start)))
}

func (s *Service) watchdog(ctx context.Context) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		s.log.Debug("systemd watchdog not armed", logx.Err(err))
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.notify(sd.SdNotifyWatchdog)
		}
	}
}

func (s *Service) stop() {
	s.notify(sd.SdNotifyStopping)

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info("daemon stopped")
}

// FromConfig maps the file config onto the daemon's own config.
func FromConfig(cfg config.DaemonConfig) Config {
	return Config{RunSpec: cfg.RunSpec, Watchdog: cfg.Watchdog}
}

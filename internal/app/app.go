// Package app wires the pieces together: config, logging, store, the merge
// generator, registration, and the catch-up runner. Every command in
// cmd/mergesched boots through here.
package app

import (
	"context"
	"fmt"

	"mergesched/internal/catchup"
	"mergesched/internal/config"
	"mergesched/internal/merge"
	"mergesched/internal/registry"
	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	store  schedule.Store
	gen    *merge.Generator
	reg    *registry.Registry
	runner *catchup.Runner
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 0)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := schedule.Open(schedule.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	gen := merge.New(log.With(logx.String("comp", "merge")))
	reg := registry.New(store,
		schedule.KeyGenerator{MaxLen: cfg.Runner.MaxKeyLen},
		gen,
		log.With(logx.String("comp", "registry")))
	runner := catchup.NewRunner(store, gen,
		catchup.Config{RatePerMin: cfg.Runner.RatePerMin},
		log.With(logx.String("comp", "catchup")))

	return &App{
		cfgm:   cfgm,
		cfg:    cfg,
		logs:   logs,
		log:    log.With(logx.String("comp", "app")),
		store:  store,
		gen:    gen,
		reg:    reg,
		runner: runner,
	}, nil
}

func (a *App) Config() *config.Config       { return a.cfg }
func (a *App) Log() logx.Logger             { return a.log }
func (a *App) Store() schedule.Store        { return a.store }
func (a *App) Generator() *merge.Generator  { return a.gen }
func (a *App) Registry() *registry.Registry { return a.reg }
func (a *App) Runner() *catchup.Runner      { return a.runner }

// WatchConfig starts the config file watcher and applies logging changes
// live. onReload, if non-nil, receives every accepted config; the daemon
// uses it to pick up run-spec changes. Blocks until ctx is cancelled.
func (a *App) WatchConfig(ctx context.Context, onReload func(cfg *config.Config)) error {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				if onReload != nil {
					onReload(cfg)
				}
				a.log.Info("config reloaded")
			}
		}
	}()

	return a.cfgm.Watch(ctx)
}

func (a *App) Close() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"mergesched/internal/app"
	"mergesched/internal/config"
	"mergesched/internal/daemon"
	"mergesched/internal/recurrence"
	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func boot(c *cli.Context) (*app.App, error) {
	return app.New(c.GlobalString("config"))
}

var addCommand = cli.Command{
	Name:  "add",
	Usage: "register a recurring document merge",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "template, t", Usage: "path to the document template (required)"},
		cli.StringFlag{Name: "db", Usage: "data source DSN, e.g. file:billing.db (required)"},
		cli.StringFlag{Name: "query, q", Usage: "SQL query producing the merge rows (required)"},
		cli.StringFlag{Name: "output, o", Usage: "explicit output file name (default: Merged_<template>)"},
		cli.StringFlag{Name: "days, d", Usage: "comma-separated weekdays, e.g. Monday,Wednesday (required)"},
		cli.StringFlag{Name: "at", Usage: "fire time as H:MM 24h clock", Value: "9:00"},
		cli.IntFlag{Name: "every", Usage: "interval in weeks", Value: 1},
		cli.StringFlag{Name: "start", Usage: "anchor date YYYY-MM-DD (default: today)"},
	},
	Action: func(c *cli.Context) error {
		days, err := recurrence.ParseWeekdays(splitCSV(c.String("days")))
		if err != nil {
			return err
		}
		hour, minute, err := parseClock(c.String("at"))
		if err != nil {
			return err
		}
		anchor := time.Now()
		if s := c.String("start"); s != "" {
			anchor, err = time.ParseInLocation("2006-01-02", s, time.Local)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
		}
		rule, err := recurrence.NewRule(days, c.Int("every"), hour, minute, anchor)
		if err != nil {
			return err
		}
		payload := schedule.Payload{
			ConnString:   c.String("db"),
			Query:        c.String("query"),
			TemplatePath: c.String("template"),
			OutputName:   c.String("output"),
		}

		a, err := boot(c)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := rootContext()
		defer cancel()
		key, err := a.Registry().Add(ctx, rule, payload)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var removeCommand = cli.Command{
	Name:      "remove",
	Aliases:   []string{"rm"},
	Usage:     "delete a scheduled merge by key",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		key := c.Args().First()
		if key == "" {
			return errors.New("remove: key argument is required")
		}

		a, err := boot(c)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := rootContext()
		defer cancel()
		if err := a.Registry().Remove(ctx, key); err != nil {
			if errors.Is(err, schedule.ErrNotFound) {
				return fmt.Errorf("no schedule with key %q", key)
			}
			return err
		}
		return nil
	},
}

var listCommand = cli.Command{
	Name:    "list",
	Aliases: []string{"ls"},
	Usage:   "show all scheduled merges and their next fire times",
	Action: func(c *cli.Context) error {
		a, err := boot(c)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := rootContext()
		defer cancel()
		entries, err := a.Registry().List(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no schedules")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s\n  template: %s\n  every %d week(s)\n", e.Key, e.Payload.TemplatePath, e.IntervalWeeks)
			for _, d := range e.Weekdays() {
				fmt.Printf("  %-9s -> %s\n", d, e.NextFire[d].Format(schedule.TimeLayout))
			}
		}
		return nil
	},
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "execute every due merge once and advance the schedule",
	Action: func(c *cli.Context) error {
		a, err := boot(c)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := rootContext()
		defer cancel()
		report, err := a.Runner().RunDue(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(report.Describe())
		return nil
	},
}

var daemonCommand = cli.Command{
	Name:  "daemon",
	Usage: "run resident, firing catch-up runs on a cron schedule",
	Action: func(c *cli.Context) error {
		a, err := boot(c)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Config().Daemon.Enabled {
			return errors.New("daemon mode is disabled; set daemon.enabled in the config")
		}

		ctx, cancel := rootContext()
		defer cancel()

		svc := daemon.New(daemon.FromConfig(a.Config().Daemon), a.Runner(), a.Log())
		go func() {
			err := a.WatchConfig(ctx, func(cfg *config.Config) {
				svc.Apply(daemon.FromConfig(cfg.Daemon))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Log().Error("config watcher stopped", logx.Err(err))
			}
		}()

		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("at: want H:MM, got %q", s)
	}
	if hour, err = strconv.Atoi(h); err != nil {
		return 0, 0, fmt.Errorf("at: bad hour %q", h)
	}
	if minute, err = strconv.Atoi(m); err != nil {
		return 0, 0, fmt.Errorf("at: bad minute %q", m)
	}
	return hour, minute, nil
}

// Package main is the mycodod daemon and its helper commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.mycodo.org/mycodo/config"
	"go.mycodo.org/mycodo/daemon"
	"go.mycodo.org/mycodo/input"
	_ "go.mycodo.org/mycodo/input/cputemp"
	_ "go.mycodo.org/mycodo/input/fake"
	_ "go.mycodo.org/mycodo/input/system"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/output"
	_ "go.mycodo.org/mycodo/output/fake"
	_ "go.mycodo.org/mycodo/output/gpio"
)

const (
	// Flags.
	flagConfig         = "config"
	flagDebug          = "debug"
	flagNoWatch        = "no-watch"
	flagStatusInterval = "status-interval"
	flagMethodID       = "id"
	flagStart          = "start"
	flagWindow         = "window"
	flagStep           = "step"

	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:     flagConfig,
		Aliases:  []string{"c"},
		Usage:    "path to the daemon configuration (.json, .yaml or .yml)",
		Required: true,
	}
	return &cli.App{
		Name:  "mycodod",
		Usage: "run PID controllers, inputs and outputs from a configuration file",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the daemon and run until interrupted",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{Name: flagDebug, Usage: "log at debug level"},
					&cli.BoolFlag{Name: flagNoWatch, Usage: "do not reload the configuration when the file changes"},
					&cli.DurationFlag{Name: flagStatusInterval, Usage: "log controller status at this interval (0 disables)"},
				},
				Action: runDaemon,
			},
			{
				Name:   "validate",
				Usage:  "check a configuration file and exit",
				Flags:  []cli.Flag{configFlag},
				Action: validateConfig,
			},
			{
				Name:  "method",
				Usage: "print the setpoints a method produces over a window",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: flagMethodID, Usage: "method id", Required: true},
					&cli.TimestampFlag{Name: flagStart, Usage: "start of the window (default now)", Layout: time.RFC3339},
					&cli.DurationFlag{Name: flagWindow, Usage: "length of the window", Value: 24 * time.Hour},
					&cli.DurationFlag{Name: flagStep, Usage: "time between samples", Value: time.Hour},
				},
				Action: printMethod,
			},
			{
				Name:   "models",
				Usage:  "list the registered output and input models",
				Action: listModels,
			},
		},
	}
}

func runDaemon(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	level := logging.INFO
	if cfg.Daemon.LogLevel != "" {
		if level, err = logging.LevelFromString(cfg.Daemon.LogLevel); err != nil {
			return err
		}
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewDaemonLogger("mycodod", level, cfg.Daemon.LogFile)
	logging.ReplaceGlobal(logger)
	//nolint:errcheck
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, daemon.Params{Logger: logger})
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		logger.Errorw("some controllers failed to start", "error", err)
	}
	if !c.Bool(flagNoWatch) {
		w, err := config.NewWatcher(cfg.ConfigFilePath, nil, 0, logger.Sublogger("config"))
		if err != nil {
			logger.Warnw("configuration changes will need a restart", "error", err)
		} else {
			defer func() {
				if err := w.Close(); err != nil {
					logger.Debugw("closing watcher", "error", err)
				}
			}()
			d.Watch(w)
		}
	}
	logger.Infow("daemon running", "config", cfg.ConfigFilePath, "controllers", len(d.Status()))

	var tick <-chan time.Time
	if interval := c.Duration(flagStatusInterval); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-tick:
			for _, st := range d.Status() {
				logger.Infow("status", "kind", st.Kind, "id", st.ID, "ready", st.Ready, "detail", st.Detail)
			}
		}
	}

	logger.Info("shutting down")
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Close(closeCtx)
}

func validateConfig(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s: %d outputs, %d inputs, %d methods, %d pids\n",
		cfg.ConfigFilePath, len(cfg.Outputs), len(cfg.Inputs), len(cfg.Methods), len(cfg.PIDs))
	return err
}

func printMethod(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	m, ok := cfg.Method(c.String(flagMethodID))
	if !ok {
		return errors.Errorf("no method %q", c.String(flagMethodID))
	}
	start := time.Now()
	if ts := c.Timestamp(flagStart); ts != nil {
		start = *ts
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Setpoint"})
	for _, s := range m.Sample(start, start.Add(c.Duration(flagWindow)), c.Duration(flagStep)) {
		setpoint := "-"
		switch {
		case s.Ended:
			setpoint = "ended"
		case s.Setpoint != nil:
			setpoint = fmt.Sprintf("%.3f", *s.Setpoint)
		}
		t.AppendRow(table.Row{s.Time.Format(time.RFC3339), setpoint})
	}
	if end := m.EndTime(start); !end.IsZero() {
		t.AppendFooter(table.Row{"End", end.Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

func listModels(c *cli.Context) error {
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Kind", "Model", "Provides", "Description"})
	for _, name := range output.RegisteredModels() {
		m, _ := output.LookupModel(name)
		caps := lo.Map(m.Capabilities, func(c output.Capability, _ int) string { return string(c) })
		t.AppendRow(table.Row{"output", name, strings.Join(caps, ","), m.Description})
	}
	for _, name := range input.RegisteredModels() {
		m, _ := input.LookupModel(name)
		meas := lo.Map(m.Measurements, func(meas input.Measurement, _ int) string { return meas.ID })
		t.AppendRow(table.Row{"input", name, strings.Join(meas, ","), m.Description})
	}
	t.Render()
	return nil
}

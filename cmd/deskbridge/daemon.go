package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zxperience/deskbridge/internal/config"
	"github.com/zxperience/deskbridge/internal/lockfile"
	"github.com/zxperience/deskbridge/internal/reconcile"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync cycles on an interval until stopped",
	Long: `Run a sync cycle immediately and then once per interval (default 3m).

Cycles never overlap: a cycle that outlasts the interval delays the next
one. When the config file changes, the new configuration is validated
and takes effect from the next cycle; an invalid edit is logged and the
previous configuration stays in use. SIGINT or SIGTERM stops the daemon
after the current cycle.

Only one daemon may hold the lock file at a time; a second one exits
with an error naming the holder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		links, _ := cmd.Flags().GetStringSlice("link")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loader := config.NewLoader(configPath)
		cfg, err := loadConfig(ctx, loader)
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		lockPath, _ := cmd.Flags().GetString("lock-file")
		lock, err := lockfile.Acquire(lockPath, lockfile.Info{Config: cfg.File, Version: Version})
		if err != nil {
			return fmt.Errorf("%s: %w", lockPath, err)
		}
		defer func() { _ = lock.Release() }()

		d := &daemon{log: log, opts: engineOptions{links: links, dryRun: dryRun}}
		if err := d.apply(cfg); err != nil {
			return err
		}
		if cfg.File != "" {
			d.reload = make(chan *config.Config, 1)
			loader.Watch(d.onConfigChange)
		}
		return d.loop(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("dry-run", false, "Compute changes without writing to Zendesk or Jira")
	daemonCmd.Flags().StringSlice("link", nil, "Only sync the named link (repeatable)")
	daemonCmd.Flags().String("lock-file", lockfile.DefaultPath(), "Lock file that keeps a second daemon from starting")
}

type daemon struct {
	log    *slog.Logger
	opts   engineOptions
	cfg    *config.Config
	engine *reconcile.Engine
	reload chan *config.Config
}

func (d *daemon) apply(cfg *config.Config) error {
	engine, err := newEngine(cfg, d.log, d.opts)
	if err != nil {
		return err
	}
	d.cfg, d.engine = cfg, engine
	return nil
}

// onConfigChange runs on the watcher goroutine; only a valid config is
// handed to the loop, and a newer one replaces any still pending.
func (d *daemon) onConfigChange(cfg *config.Config, err error) {
	if err != nil {
		d.log.Warn("config reload failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := prepareConfig(ctx, cfg); err != nil {
		d.log.Warn("ignoring invalid config change", "file", cfg.File, "error", err)
		return
	}
	select {
	case <-d.reload:
	default:
	}
	d.reload <- cfg
}

func (d *daemon) loop(ctx context.Context) error {
	d.log.Info("daemon started", "interval", d.cfg.Interval.String(), "links", len(d.cfg.Links), "dry_run", d.opts.dryRun)
	d.cycle(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("daemon stopping")
			return nil
		case cfg := <-d.reload:
			if err := d.apply(cfg); err != nil {
				d.log.Warn("config reload rejected", "error", err)
				continue
			}
			ticker.Reset(cfg.Interval)
			d.log.Info("config reloaded", "interval", cfg.Interval.String(), "links", len(cfg.Links))
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *daemon) cycle(ctx context.Context) {
	result, err := d.engine.Run(ctx)
	if err != nil {
		d.log.Error("sync cycle failed", "error", err)
		return
	}
	if !result.Success {
		d.log.Warn("sync cycle had failures", "failures", result.Stats.Failures())
	}
}

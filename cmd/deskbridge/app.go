package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/zxperience/deskbridge/internal/comments"
	"github.com/zxperience/deskbridge/internal/config"
	"github.com/zxperience/deskbridge/internal/governor"
	"github.com/zxperience/deskbridge/internal/logging"
	"github.com/zxperience/deskbridge/internal/reconcile"
	"github.com/zxperience/deskbridge/internal/secrets"
	"github.com/zxperience/deskbridge/internal/telemetry"
	"github.com/zxperience/deskbridge/internal/transform"
)

// loadConfig reads the configuration named by --config and prepares it.
func loadConfig(ctx context.Context, loader *config.Loader) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := prepareConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepareConfig fetches token_secret references and validates the result.
func prepareConfig(ctx context.Context, cfg *config.Config) error {
	if cfg.NeedsSecrets() {
		resolver, err := secrets.NewFromEnvironment(ctx, nil)
		if err != nil {
			return err
		}
		if err := cfg.ResolveSecrets(ctx, resolver.Token); err != nil {
			return fmt.Errorf("resolve token secrets: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s:\n%w", describeSource(cfg), err)
	}
	return nil
}

func describeSource(cfg *config.Config) string {
	if cfg.File == "" {
		return "(defaults and environment)"
	}
	return cfg.File
}

// newLogger builds the logger for cfg; --verbose forces debug.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	opts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if verboseFlag {
		opts.Level = "debug"
	}
	return logging.New(os.Stderr, opts)
}

// engineOptions carries command-line choices into a run.
type engineOptions struct {
	links  []string
	dryRun bool
}

// newEngine wires governors, clients and pipelines for cfg. Each call gets
// fresh governors, one per remote system, shared by every link.
func newEngine(cfg *config.Config, log *slog.Logger, eo engineOptions) (*reconcile.Engine, error) {
	dateLoc, err := cfg.DateLocation()
	if err != nil {
		return nil, err
	}
	commentLoc, err := cfg.CommentLocation()
	if err != nil {
		return nil, err
	}

	meter := telemetry.Meter("github.com/zxperience/deskbridge/governor")
	govOpts := []governor.Option{
		governor.WithMaxConcurrent(cfg.Governor.MaxConcurrent),
		governor.WithDefaultWait(cfg.Governor.DefaultWait),
		governor.WithLogger(log),
		governor.WithMeter(meter),
	}
	connector := &reconcile.Connector{
		Zendesk: governor.New("zendesk", govOpts...),
		Jira:    governor.New("jira", govOpts...),
		Timeout: cfg.HTTP.Timeout,
		Logger:  log,
	}

	return reconcile.NewEngine(cfg.Links, connector.Connect, log, reconcile.Options{
		Links:     eo.links,
		DryRun:    eo.dryRun,
		Fanout:    cfg.Fanout,
		Transform: transform.Options{Location: dateLoc},
		Comments: comments.Options{
			PublishMarker:  cfg.Comments.PublishMarker,
			ClosedStatuses: cfg.Comments.ClosedStatuses,
			Location:       commentLoc,
		},
	}), nil
}

// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mbeema/muzzle/pkg/agent"
	"github.com/mbeema/muzzle/pkg/config"
	"github.com/mbeema/muzzle/pkg/controller"
	"github.com/mbeema/muzzle/pkg/health"
	"github.com/mbeema/muzzle/pkg/inject"
	"github.com/mbeema/muzzle/pkg/payload"
	"github.com/mbeema/muzzle/pkg/singleton"
	"github.com/mbeema/muzzle/pkg/watcher"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath      string
	filterPath      string
	payloadPath     string
	targetName      string
	logLevel        string
	ignoreSingleton bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "muzzle",
		Short:         "Background controller that injects the content-filter payload into the target application",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to configuration file")
	cmd.Flags().StringVar(&opts.filterPath, "filters", "", "path to the filter lists (created with defaults if absent)")
	cmd.Flags().StringVar(&opts.payloadPath, "payload", "", "path to the payload module (created from the bundled image if absent)")
	cmd.Flags().StringVar(&opts.targetName, "target", "", "executable name of the target application")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.ignoreSingleton, "ignore-singleton", false, "start even if another instance is already running")

	return cmd
}

func run(opts *options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	// CLI flags override file configuration.
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.targetName != "" {
		cfg.Target.ProcessName = opts.targetName
	}
	if opts.filterPath != "" {
		cfg.Filters.Path = opts.filterPath
	}
	if opts.payloadPath != "" {
		cfg.Payload.Path = opts.payloadPath
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return err
	}
	defer logger.Sync()

	logger.Info("starting muzzle",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("target", cfg.Target.ProcessName),
	)

	if !opts.ignoreSingleton {
		guard, err := singleton.TryAcquire("muzzle")
		if errors.Is(err, singleton.ErrAlreadyRunning) {
			logger.Warn("muzzle is already running")
			return nil
		}
		if err != nil {
			logger.Error("failed to acquire singleton guard", zap.Error(err))
			return err
		}
		defer guard.Release()
	}

	filters := &config.FilterResolver{
		Override: cfg.Filters.Path,
		Logger:   logger.Named("filters"),
	}
	payloads := &payload.Resolver{
		Override:   cfg.Payload.Path,
		ModuleName: cfg.Payload.ModuleName,
		Version:    version,
		Logger:     logger.Named("payload"),
	}

	ctrl := controller.New(
		inject.NewPlatformFactory(),
		filters,
		payloads,
		cfg.Payload.ModuleName,
		nil,
		logger.Named("controller"),
	)
	source := watcher.New(cfg.Target.ProcessName, cfg.Target.PollInterval, logger.Named("watcher"))
	a := agent.New(ctrl, source, nil, logger.Named("agent"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Health.Enabled {
		hs := health.NewServer(cfg.Health.Addr, version, ctrl.Status, logger.Named("health"))
		if err := hs.Start(ctx); err != nil {
			logger.Error("failed to start health server", zap.Error(err))
			return err
		}
		hs.SetReady(true)
		defer hs.Stop()
	}

	if cfg.Filters.LiveReload {
		startFilterWatcher(ctx, filters, a, logger)
	}

	err = a.Run(ctx)
	logger.Info("muzzle stopped")
	return err
}

// startFilterWatcher wires filter-file changes into the running agent.
// Best effort: live reload being unavailable never stops the controller.
func startFilterWatcher(ctx context.Context, filters *config.FilterResolver, a *agent.Agent, logger *zap.Logger) {
	_, path, err := filters.Resolve()
	if err != nil {
		logger.Warn("filter live reload disabled", zap.Error(err))
		return
	}
	if path == "" {
		logger.Debug("bundled filter config in use, nothing to watch")
		return
	}

	fw := config.NewFilterWatcher(path, a.ApplyFilters, logger.Named("filters"))
	if err := fw.Start(ctx); err != nil {
		logger.Warn("filter live reload disabled", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Conventional location: muzzle.yaml beside the controller binary.
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "muzzle.yaml")
		if _, err := os.Stat(sibling); err == nil {
			return config.Load(sibling)
		}
	}

	return config.DefaultConfig(), nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}

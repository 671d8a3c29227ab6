// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/process-launcher/lib/async"
	"github.com/bureau-foundation/process-launcher/lib/channel"
	"github.com/bureau-foundation/process-launcher/lib/config"
	"github.com/bureau-foundation/process-launcher/lib/launcher"
	"github.com/bureau-foundation/process-launcher/lib/process"
	"github.com/bureau-foundation/process-launcher/lib/service"
	"github.com/bureau-foundation/process-launcher/lib/spawn"
	"github.com/bureau-foundation/process-launcher/lib/version"
)

func main() {
	process.Main(func(ctx context.Context) error {
		return run(ctx, os.Args[1:])
	})
}

type flags struct {
	configPath string
	socketPath string
	logLevel   string
	reap       bool
}

func run(ctx context.Context, args []string) error {
	var options flags
	flagSet := pflag.NewFlagSet("bureau-launcher", pflag.ContinueOnError)
	flagSet.StringVar(&options.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&options.socketPath, "socket", "", "override launcher.socket_path")
	flagSet.StringVar(&options.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flagSet.BoolVar(&options.reap, "reap", true, "wait for started processes and log their exit")
	showVersion := flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("bureau-launcher")
		return nil
	}

	cfg, err := loadConfig(options)
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return serve(ctx, cfg, options.reap, logger, nil)
}

// loadConfig resolves the config file (flag, then environment, then
// defaults), applies flag overrides and validates the result.
func loadConfig(options flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case options.configPath != "":
		cfg, err = config.LoadFile(options.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if options.socketPath != "" {
		cfg.Launcher.SocketPath = options.socketPath
	}
	if options.logLevel != "" {
		cfg.Log.Level = options.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve runs the launcher until ctx is done. ready, if non-nil, is
// closed once the socket accepts connections.
func serve(ctx context.Context, cfg *config.Config, reap bool, logger *slog.Logger, ready chan<- struct{}) error {
	mode, err := cfg.SocketFileMode()
	if err != nil {
		return err
	}
	loaderTimeout, err := cfg.LoaderTimeout()
	if err != nil {
		return err
	}

	loop, err := async.New(async.Options{DrainBatch: cfg.Launcher.DrainBatch, Logger: logger})
	if err != nil {
		return err
	}
	defer loop.Close()

	server, err := launcher.NewServer(loop, launcher.Options{
		Factory: &spawn.Factory{
			LoaderTimeout: loaderTimeout,
			Reap:          reap,
			Logger:        logger,
		},
		MaxErrorMessage: cfg.Launcher.MaxErrorMessage,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	// Runs after the group has stopped the loop, before loop.Close.
	defer server.Close()

	socketServer := service.NewSocketServer(cfg.Launcher.SocketPath, mode, func(ch *channel.Channel) error {
		_, err := server.Serve(ch)
		return err
	}, logger)

	logStartup(logger, cfg)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := loop.Run(groupCtx); err != nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return socketServer.Serve(groupCtx, ready)
	})
	err = group.Wait()
	logger.Info("launcher stopping", "error", err)
	return err
}

func logStartup(logger *slog.Logger, cfg *config.Config) {
	digest, err := version.SelfDigest()
	if err != nil {
		logger.Warn("could not hash launcher binary", "error", err)
	}
	logger.Info("launcher starting",
		"version", version.Info(),
		"binary_digest", digest,
		"environment", string(cfg.Environment),
		"socket_path", cfg.Launcher.SocketPath,
		"drain_batch", cfg.Launcher.DrainBatch,
		"max_error_message", cfg.Launcher.MaxErrorMessage,
		"loader_timeout", cfg.Launcher.LoaderTimeout,
	)
}

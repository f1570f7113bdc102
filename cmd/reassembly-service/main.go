// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/config"
	"github.com/bureau-foundation/reassembly/lib/service"
	"github.com/bureau-foundation/reassembly/lib/uploadapi"
	"github.com/bureau-foundation/reassembly/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		listen      string
		logLevel    string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to reassembly.yaml (default: $"+config.EnvironmentVariable+")")
	flag.StringVar(&listen, "listen", "", "override server.listen")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if showVersion {
		fmt.Printf("reassembly-service %s\n", version.Info())
		return nil
	}

	level, err := service.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := service.NewLoggerTo(os.Stderr, level)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := build(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer components.close(logger)

	components.engine.Start(ctx)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Server.Listen,
		Handler: uploadapi.NewHandler(uploadapi.HandlerConfig{
			Engine:       components.engine,
			Artifacts:    components.catalog,
			MaxChunkSize: cfg.Chunks.MaxChunkSize,
			Logger:       logger,
		}),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		Logger:          logger,
	})

	logger.Info("reassembly service starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"scratch", cfg.Paths.Scratch,
		"artifacts", cfg.Paths.Artifacts,
	)
	return server.Serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/reassembly/lib/catalog"
	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/config"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/publish"
	"github.com/bureau-foundation/reassembly/lib/scratch"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

// drainTimeout bounds how long shutdown waits for in-flight
// assemblies.
const drainTimeout = time.Minute

type components struct {
	engine  *upload.Engine
	catalog *catalog.Catalog
}

// build turns a validated config into a ready engine and its catalog.
func build(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*components, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	algorithm, err := fingerprint.ParseAlgorithm(cfg.Chunks.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("chunks.algorithm: %w", err)
	}
	compression, err := scratch.ParseCompression(cfg.Scratch.Compression)
	if err != nil {
		return nil, fmt.Errorf("scratch.compression: %w", err)
	}

	store, err := scratch.New(cfg.Paths.Scratch, scratch.Options{
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	assembler, err := upload.NewFileAssembler(cfg.Paths.Artifacts, clk, logger)
	if err != nil {
		return nil, err
	}

	var publisher upload.Publisher
	if cfg.Publish.Enabled() {
		accessKey, secretKey, err := cfg.Publish.Credentials()
		if err != nil {
			return nil, err
		}
		publisher, err = publish.New(publish.Options{
			Endpoint:  cfg.Publish.Endpoint,
			Bucket:    cfg.Publish.Bucket,
			Prefix:    cfg.Publish.Prefix,
			Region:    cfg.Publish.Region,
			UseSSL:    cfg.Publish.UseSSL,
			AccessKey: accessKey,
			SecretKey: secretKey,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("publishing artifacts", "endpoint", cfg.Publish.Endpoint, "bucket", cfg.Publish.Bucket)
	}

	artifactCatalog, err := catalog.Open(cfg.Paths.Catalog, clk, logger)
	if err != nil {
		return nil, err
	}

	engine, err := upload.New(upload.Options{
		Store:            store,
		Assembler:        assembler,
		Catalog:          artifactCatalog,
		Publisher:        publisher,
		Clock:            clk,
		Logger:           logger,
		Shards:           cfg.Registry.Shards,
		MaxSessions:      cfg.Registry.MaxSessions,
		MaxChunks:        cfg.Chunks.MaxChunks,
		MaxChunkSize:     cfg.Chunks.MaxChunkSize,
		Algorithm:        algorithm,
		AssemblyAttempts: cfg.Assembly.MaxAttempts,
		RetryDelay:       cfg.Assembly.RetryDelay.Std(),
		TTL:              cfg.Reaper.TTL.Std(),
		TombstoneTTL:     cfg.Reaper.TombstoneTTL.Std(),
		ReaperInterval:   cfg.Reaper.Interval.Std(),
		RetainFailed:     cfg.Scratch.RetainFailed,
	})
	if err != nil {
		artifactCatalog.Close()
		return nil, err
	}
	return &components{engine: engine, catalog: artifactCatalog}, nil
}

func (c *components) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := c.engine.Close(ctx); err != nil {
		logger.Error("closing upload engine", "error", err)
	}
	if err := c.catalog.Close(); err != nil {
		logger.Error("closing catalog", "error", err)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/config"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

func TestBuildFromConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "reassembly.yaml")
	yaml := "paths:\n  root: " + root + "\n" +
		"chunks:\n  algorithm: blake3\n" +
		"scratch:\n  compression: zstd\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	built, err := build(cfg, clock.Real(), logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer built.close(logger)

	ctx := context.Background()
	status, err := built.engine.Register(ctx, upload.RegisterRequest{ID: "wired", ExpectedChunks: 1})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if status.Algorithm != fingerprint.BLAKE3.String() {
		t.Errorf("algorithm = %s, want the configured blake3", status.Algorithm)
	}
	if _, err := built.engine.SubmitChunk(ctx, "wired", 0, []byte("payload"), fingerprint.Fingerprint{}); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	artifact, err := built.engine.Finalize(ctx, "wired")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if filepath.Dir(artifact.Path) != cfg.Paths.Artifacts {
		t.Errorf("artifact written to %s, want under %s", artifact.Path, cfg.Paths.Artifacts)
	}
	recorded, err := built.catalog.Lookup(ctx, "wired")
	if err != nil || recorded == nil {
		t.Fatalf("catalog Lookup = %v, %v", recorded, err)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("registry:\n  shards: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig accepted a negative shard count")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("loadConfig succeeded with no path and no environment variable")
	}
}

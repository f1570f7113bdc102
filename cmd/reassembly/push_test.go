// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/scratch"
	"github.com/bureau-foundation/reassembly/lib/testutil"
	"github.com/bureau-foundation/reassembly/lib/upload"
	"github.com/bureau-foundation/reassembly/lib/uploadapi"
)

type cliHarness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	server string
	engine *upload.Engine
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	root := t.TempDir()
	store, err := scratch.New(filepath.Join(root, "scratch"), scratch.Options{})
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	assembler, err := upload.NewFileAssembler(filepath.Join(root, "artifacts"), clock.Real(), nil)
	if err != nil {
		t.Fatalf("NewFileAssembler: %v", err)
	}
	engine, err := upload.New(upload.Options{Store: store, Assembler: assembler})
	if err != nil {
		t.Fatalf("upload.New: %v", err)
	}
	server := httptest.NewServer(uploadapi.NewHandler(uploadapi.HandlerConfig{
		Engine: engine,
		Logger: slog.New(slog.DiscardHandler),
	}))
	t.Cleanup(func() {
		server.Close()
		engine.Close(context.Background())
	})

	harness := &cliHarness{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		server: server.URL,
		engine: engine,
	}
	harness.app = &app{stdout: harness.stdout, stderr: harness.stderr, httpClient: server.Client()}
	return harness
}

func (h *cliHarness) execute(t *testing.T, args ...string) error {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.root().Execute(context.Background(), append(args, "--server", h.server), h.stderr)
}

func TestPushReassemblesFile(t *testing.T) {
	h := newCLIHarness(t)
	data := testutil.Payload(11, 100_000)
	path := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, algorithm := range []string{"xxh64", "blake3"} {
		t.Run(algorithm, func(t *testing.T) {
			id := "push-" + algorithm
			err := h.execute(t, "push", path, "--id", id, "--name", id+".bin", "--chunk-size", "4096", "-p", "8",
				"--algorithm", algorithm, "--json")
			if err != nil {
				t.Fatalf("push: %v (stderr: %s)", err, h.stderr)
			}
			var artifact upload.Artifact
			if err := json.Unmarshal(h.stdout.Bytes(), &artifact); err != nil {
				t.Fatalf("decoding push output %q: %v", h.stdout, err)
			}
			if artifact.ID != id || artifact.Size != int64(len(data)) || artifact.Chunks != 25 {
				t.Errorf("artifact = %+v", artifact)
			}
			written, err := os.ReadFile(artifact.Path)
			if err != nil {
				t.Fatalf("reading artifact: %v", err)
			}
			if !bytes.Equal(written, data) {
				t.Error("artifact differs from the pushed file")
			}
		})
	}
}

func TestPushWithoutFinalizeThenCancel(t *testing.T) {
	h := newCLIHarness(t)
	path := filepath.Join(t.TempDir(), "small.bin")
	if err := os.WriteFile(path, testutil.Payload(3, 10_000), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.execute(t, "push", path, "--id", "held", "--chunk-size", "3000", "--finalize=false"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "state:     complete") {
		t.Errorf("status output = %q", h.stdout)
	}

	if err := h.execute(t, "cancel", "held"); err == nil || !errors.Is(err, upload.ErrAlreadyComplete) {
		t.Fatalf("cancel of a complete session = %v, want ErrAlreadyComplete", err)
	}

	if err := h.execute(t, "finalize", "held", "--json"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := h.execute(t, "status", "held"); !errors.Is(err, upload.ErrUnknownSession) {
		t.Fatalf("status after finalize = %v, want ErrUnknownSession", err)
	}
}

func TestFinalizePendingExitsWithCode(t *testing.T) {
	h := newCLIHarness(t)
	if _, err := h.engine.Register(context.Background(), upload.RegisterRequest{ID: "waiting", ExpectedChunks: 2}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := h.execute(t, "finalize", "waiting")
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 2 {
		t.Fatalf("finalize = %v, want exit code 2", err)
	}

	if err := h.execute(t, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "waiting") {
		t.Errorf("list output = %q", h.stdout)
	}

	if err := h.execute(t, "cancel", "waiting"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.engine.Status("waiting"); !errors.Is(err, upload.ErrUnknownSession) {
		t.Errorf("engine status after cancel = %v", err)
	}
}

func TestPushRejectsEmptyFile(t *testing.T) {
	h := newCLIHarness(t)
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.execute(t, "push", path); err == nil {
		t.Fatal("push of an empty file succeeded")
	}
}

func TestManifestCommand(t *testing.T) {
	root := t.TempDir()
	store, err := scratch.New(root, scratch.Options{})
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	area, err := store.Create(scratch.Manifest{
		ID:             "inspect-me",
		ExpectedChunks: 7,
		Algorithm:      "xxh64",
		Compression:    "none",
		CreatedAt:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var stdout bytes.Buffer
	a := &app{stdout: &stdout, stderr: &bytes.Buffer{}}
	if err := a.root().Execute(context.Background(), []string{"manifest", area.Path(), "--json"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	var manifest scratch.Manifest
	if err := json.Unmarshal(stdout.Bytes(), &manifest); err != nil {
		t.Fatalf("decoding %q: %v", stdout.String(), err)
	}
	if manifest.ID != "inspect-me" || manifest.ExpectedChunks != 7 {
		t.Errorf("manifest = %+v", manifest)
	}

	stdout.Reset()
	if err := a.root().Execute(context.Background(), []string{"manifest", area.Path(), "--diagnostic"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("manifest --diagnostic: %v", err)
	}
	if !strings.Contains(stdout.String(), `"inspect-me"`) {
		t.Errorf("diagnostic output = %q", stdout.String())
	}
}

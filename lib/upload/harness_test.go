// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	testTTL          = time.Minute
	testTombstoneTTL = 5 * time.Minute
)

// harness is an engine wired to a fake clock, a real scratch store and
// file assembler under t.TempDir, and a counting assembler wrapper.
type harness struct {
	engine    *Engine
	clock     *clock.FakeClock
	store     *scratch.Store
	assembler *countingAssembler
	artifacts string
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	root := t.TempDir()
	fake := clock.Fake(epoch)

	store, err := scratch.New(filepath.Join(root, "scratch"), scratch.Options{})
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	artifacts := filepath.Join(root, "artifacts")
	files, err := NewFileAssembler(artifacts, fake, nil)
	if err != nil {
		t.Fatalf("NewFileAssembler: %v", err)
	}
	counting := &countingAssembler{inner: files}

	options := Options{
		Store:          store,
		Assembler:      counting,
		Clock:          fake,
		Shards:         4,
		TTL:            testTTL,
		TombstoneTTL:   testTombstoneTTL,
		ReaperInterval: 10 * time.Second,
	}
	for _, apply := range configure {
		apply(&options)
	}

	engine, err := New(options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		engine.Close(context.Background())
	})
	return &harness{
		engine:    engine,
		clock:     fake,
		store:     options.Store,
		assembler: counting,
		artifacts: artifacts,
	}
}

func (h *harness) register(t *testing.T, request RegisterRequest) Status {
	t.Helper()
	status, err := h.engine.Register(context.Background(), request)
	if err != nil {
		t.Fatalf("Register(%+v): %v", request, err)
	}
	return status
}

func (h *harness) submit(t *testing.T, id string, index int, payload []byte) SubmitResult {
	t.Helper()
	result, err := h.engine.SubmitChunk(context.Background(), id, index, payload, fingerprint.Fingerprint{})
	if err != nil {
		t.Fatalf("SubmitChunk(%s, %d): %v", id, index, err)
	}
	return result
}

func (h *harness) scratchPath(id string) string {
	return filepath.Join(h.store.Root(), id)
}

func (h *harness) status(t *testing.T, id string) Status {
	t.Helper()
	status, err := h.engine.Status(id)
	if err != nil {
		t.Fatalf("Status(%s): %v", id, err)
	}
	return status
}

// requireArtifact finalizes id and checks the artifact holds want.
func (h *harness) requireArtifact(t *testing.T, id string, want []byte) *Artifact {
	t.Helper()
	artifact, err := h.engine.Finalize(context.Background(), id)
	if err != nil {
		t.Fatalf("Finalize(%s): %v", id, err)
	}
	if artifact.Size != int64(len(want)) {
		t.Errorf("artifact size = %d, want %d", artifact.Size, len(want))
	}
	got, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("artifact content differs from the index-ordered concatenation (%d vs %d bytes)", len(got), len(want))
	}
	return artifact
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func requireGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("%s still exists (stat error %v)", path, err)
	}
}

// countingAssembler counts Assemble calls and can hold or fail them.
type countingAssembler struct {
	inner Assembler
	calls atomic.Int32

	// started, if set, receives once per call before gate is awaited.
	started chan struct{}

	// gate, if set, blocks each call until it is closed or sent to.
	gate chan struct{}

	// transientFailures fails the first n calls with a retryable
	// error.
	transientFailures int32
}

var errTransientTest = errors.New("simulated transient failure")

func (c *countingAssembler) Assemble(ctx context.Context, plan Plan) (*Artifact, error) {
	call := c.calls.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	if call <= c.transientFailures {
		return nil, errTransientTest
	}
	return c.inner.Assemble(ctx, plan)
}

func (c *countingAssembler) ArtifactExists(name string) (bool, error) {
	checker, ok := c.inner.(ArtifactChecker)
	if !ok {
		return false, nil
	}
	return checker.ArtifactExists(name)
}

// memoryCatalog is an in-memory Catalog.
type memoryCatalog struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{artifacts: make(map[string]*Artifact)}
}

func (c *memoryCatalog) Record(_ context.Context, artifact *Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *artifact
	c.artifacts[artifact.ID] = &copied
	return nil
}

func (c *memoryCatalog) Lookup(_ context.Context, id string) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifacts[id], nil
}

// gatedCatalog holds each Record until gate is closed.
type gatedCatalog struct {
	*memoryCatalog
	started chan struct{}
	gate    chan struct{}
}

func (c *gatedCatalog) Record(ctx context.Context, artifact *Artifact) error {
	c.started <- struct{}{}
	<-c.gate
	return c.memoryCatalog.Record(ctx, artifact)
}

// recordingPublisher records published artifacts and can fail.
type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, artifact *Artifact) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, artifact.ID)
	return "s3://bucket/" + artifact.Name, nil
}

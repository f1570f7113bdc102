// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

// Catalog remembers artifacts whose sessions have been finalized, so
// that a repeated Finalize can still be answered after the session is
// gone.
type Catalog interface {
	Record(ctx context.Context, artifact *Artifact) error

	// Lookup returns nil, nil when id is not recorded.
	Lookup(ctx context.Context, id string) (*Artifact, error)
}

// Options configures an Engine. Store and Assembler are required.
type Options struct {
	Store     *scratch.Store
	Assembler Assembler

	// Catalog, if set, records finalized artifacts.
	Catalog Catalog

	// Publisher, if set, runs after each successful assembly.
	Publisher Publisher

	Clock  clock.Clock
	Logger *slog.Logger

	// Shards is the number of registry shards. Default 32.
	Shards int

	// MaxSessions caps registered sessions, terminal ones included.
	// Zero means unlimited.
	MaxSessions int

	// MaxChunks and MaxChunkSize bound registration and submission.
	// Zero means unlimited.
	MaxChunks    int
	MaxChunkSize int64

	// Algorithm is used for sessions that do not choose one. Default
	// fingerprint.Default.
	Algorithm fingerprint.Algorithm

	// WriteAttempts bounds attempts to stage one chunk. Default 3.
	WriteAttempts int

	// AssemblyAttempts bounds attempts to assemble (and publish) one
	// artifact. Default 3.
	AssemblyAttempts int

	// RetryDelay is the pause between attempts of either kind.
	RetryDelay time.Duration

	// TTL is how long an active session may go without a submission
	// before the reaper expires it. Default 30 minutes.
	TTL time.Duration

	// TombstoneTTL is how long a terminal session stays visible.
	// Default 10 minutes.
	TombstoneTTL time.Duration

	// ReaperInterval is the time between sweeps. Default one minute.
	ReaperInterval time.Duration

	// RetainFailed keeps a failed session's scratch area until its
	// tombstone is purged.
	RetainFailed bool
}

// Engine accepts chunked uploads and reassembles them. All methods are
// safe for concurrent use.
type Engine struct {
	store     *scratch.Store
	assembler Assembler
	catalog   Catalog
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger

	registry *registry
	chunks   *chunkStore
	reaper   *Reaper

	maxChunks        int
	maxChunkSize     int64
	algorithm        fingerprint.Algorithm
	assemblyAttempts int
	retryDelay       time.Duration
	retainFailed     bool

	// mu guards closed and orders inflight.Add against Close.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

// New builds an Engine. Scratch areas left under the store root by a
// previous process are removed before New returns.
func New(options Options) (*Engine, error) {
	if options.Store == nil {
		return nil, errors.New("upload: Options.Store is required")
	}
	if options.Assembler == nil {
		return nil, errors.New("upload: Options.Assembler is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Shards == 0 {
		options.Shards = 32
	}
	if options.Algorithm == 0 {
		options.Algorithm = fingerprint.Default
	}
	if !options.Algorithm.Valid() {
		return nil, fmt.Errorf("upload: invalid default algorithm %s", options.Algorithm)
	}
	if options.WriteAttempts == 0 {
		options.WriteAttempts = 3
	}
	if options.AssemblyAttempts == 0 {
		options.AssemblyAttempts = 3
	}
	if options.TTL == 0 {
		options.TTL = 30 * time.Minute
	}
	if options.TombstoneTTL == 0 {
		options.TombstoneTTL = 10 * time.Minute
	}
	if options.ReaperInterval == 0 {
		options.ReaperInterval = time.Minute
	}
	if options.Shards < 0 || options.WriteAttempts < 0 || options.AssemblyAttempts < 0 ||
		options.TTL < 0 || options.TombstoneTTL < 0 || options.ReaperInterval < 0 || options.RetryDelay < 0 {
		return nil, errors.New("upload: negative option")
	}

	removed, err := options.Store.SweepOrphans(nil)
	if err != nil {
		return nil, fmt.Errorf("upload: sweeping orphaned scratch areas: %w", err)
	}
	if removed > 0 {
		options.Logger.Info("removed orphaned scratch areas", "count", removed)
	}

	registry := newRegistry(options.Shards, options.MaxSessions)
	return &Engine{
		store:     options.Store,
		assembler: options.Assembler,
		catalog:   options.Catalog,
		publisher: options.Publisher,
		clock:     options.Clock,
		logger:    options.Logger,
		registry:  registry,
		chunks: &chunkStore{
			clock:         options.Clock,
			logger:        options.Logger,
			writeAttempts: options.WriteAttempts,
			retryDelay:    options.RetryDelay,
			retainFailed:  options.RetainFailed,
		},
		reaper: &Reaper{
			registry:     registry,
			clock:        options.Clock,
			logger:       options.Logger,
			interval:     options.ReaperInterval,
			ttl:          options.TTL,
			tombstoneTTL: options.TombstoneTTL,
		},
		maxChunks:        options.MaxChunks,
		maxChunkSize:     options.MaxChunkSize,
		algorithm:        options.Algorithm,
		assemblyAttempts: options.AssemblyAttempts,
		retryDelay:       options.RetryDelay,
		retainFailed:     options.RetainFailed,
	}, nil
}

// Reaper returns the engine's reaper, for callers that drive sweeps
// themselves.
func (e *Engine) Reaper() *Reaper { return e.reaper }

// Start runs the reaper in the background until ctx is cancelled or
// Close is called. Calling Start more than once has no effect.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.reaperCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.reaperCancel = cancel
	e.reaperDone = make(chan struct{})
	go func() {
		defer close(e.reaperDone)
		e.reaper.Run(ctx)
	}()
}

// enter registers an in-flight operation. It fails after Close.
func (e *Engine) enter() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	e.inflight.Add(1)
	return nil
}

// RegisterRequest declares a new upload.
type RegisterRequest struct {
	// ID is the session id. Empty means generate one.
	ID string `json:"id,omitempty"`

	// Name is the artifact's file name. Empty means the session id.
	Name string `json:"name,omitempty"`

	// ExpectedChunks is the number of chunks, at least one.
	ExpectedChunks int `json:"expected_chunks"`

	// TotalSize, if non-zero, is the exact artifact size in bytes.
	TotalSize int64 `json:"total_size,omitempty"`

	// ChunkSize, if non-zero, is the size of every chunk but the
	// last, which may be shorter.
	ChunkSize int64 `json:"chunk_size,omitempty"`

	// Algorithm selects the fingerprint algorithm. Zero means the
	// engine default.
	Algorithm fingerprint.Algorithm `json:"algorithm,omitempty"`

	// ExpectedDigest, if set, is checked against the whole artifact
	// after assembly.
	ExpectedDigest fingerprint.Fingerprint `json:"expected_digest,omitzero"`
}

func (e *Engine) validate(request *RegisterRequest) error {
	var errs []error
	if request.ID == "" {
		request.ID = uuid.NewString()
	} else if !scratch.ValidName(request.ID) {
		errs = append(errs, fmt.Errorf("id %q must be 1-128 characters of [A-Za-z0-9._-] not starting with '.'", request.ID))
	}
	if request.Name != "" && !scratch.ValidName(request.Name) {
		errs = append(errs, fmt.Errorf("name %q must be 1-128 characters of [A-Za-z0-9._-] not starting with '.'", request.Name))
	}
	if request.ExpectedChunks < 1 {
		errs = append(errs, fmt.Errorf("expected_chunks must be at least 1, got %d", request.ExpectedChunks))
	}
	if e.maxChunks > 0 && request.ExpectedChunks > e.maxChunks {
		errs = append(errs, fmt.Errorf("expected_chunks %d exceeds the limit of %d", request.ExpectedChunks, e.maxChunks))
	}
	if request.TotalSize < 0 {
		errs = append(errs, fmt.Errorf("total_size must not be negative"))
	}
	if request.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size must not be negative"))
	}
	if e.maxChunkSize > 0 && request.ChunkSize > e.maxChunkSize {
		errs = append(errs, fmt.Errorf("chunk_size %d exceeds the limit of %d", request.ChunkSize, e.maxChunkSize))
	}
	if request.TotalSize > 0 && request.ExpectedChunks > 0 && request.TotalSize < int64(request.ExpectedChunks) {
		errs = append(errs, fmt.Errorf("total_size %d cannot hold %d non-empty chunks", request.TotalSize, request.ExpectedChunks))
	}
	if request.TotalSize > 0 && request.ChunkSize > 0 && request.ExpectedChunks > 0 {
		want := (request.TotalSize + request.ChunkSize - 1) / request.ChunkSize
		if want != int64(request.ExpectedChunks) {
			errs = append(errs, fmt.Errorf("total_size %d at chunk_size %d needs %d chunks, not %d",
				request.TotalSize, request.ChunkSize, want, request.ExpectedChunks))
		}
	}
	if request.Algorithm == 0 {
		request.Algorithm = e.algorithm
	}
	if !request.Algorithm.Valid() {
		errs = append(errs, fmt.Errorf("unknown fingerprint algorithm %s", request.Algorithm))
	}
	if !request.ExpectedDigest.IsZero() && request.ExpectedDigest.Algorithm() != request.Algorithm {
		errs = append(errs, fmt.Errorf("expected_digest uses %s, session uses %s",
			request.ExpectedDigest.Algorithm(), request.Algorithm))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// Register creates a session. It fails with ErrDuplicateSession if the
// id is registered in any state or already finalized, or if the
// artifact name (Name, or the id when Name is empty) is claimed by
// another session or already present at the assembler's destination.
func (e *Engine) Register(ctx context.Context, request RegisterRequest) (Status, error) {
	if err := e.enter(); err != nil {
		return Status{}, err
	}
	defer e.inflight.Done()

	if err := e.validate(&request); err != nil {
		return Status{}, sessionError(request.ID, err)
	}
	if e.registry.contains(request.ID) {
		return Status{}, sessionError(request.ID, ErrDuplicateSession)
	}
	if e.catalog != nil {
		recorded, err := e.catalog.Lookup(ctx, request.ID)
		if err != nil {
			return Status{}, sessionError(request.ID, fmt.Errorf("%w: checking catalog: %w", ErrIOFailure, err))
		}
		if recorded != nil {
			return Status{}, sessionError(request.ID, fmt.Errorf("%w: already finalized", ErrDuplicateSession))
		}
	}

	if checker, ok := e.assembler.(ArtifactChecker); ok {
		name := request.Name
		if name == "" {
			name = request.ID
		}
		exists, err := checker.ArtifactExists(name)
		if err != nil {
			return Status{}, sessionError(request.ID, fmt.Errorf("%w: checking artifact %q: %w", ErrIOFailure, name, err))
		}
		if exists {
			return Status{}, sessionError(request.ID, fmt.Errorf("%w: artifact %q already exists", ErrDuplicateSession, name))
		}
	}

	now := e.clock.Now()
	s := &session{
		id:             request.ID,
		name:           request.Name,
		expectedChunks: request.ExpectedChunks,
		totalSize:      request.TotalSize,
		chunkSize:      request.ChunkSize,
		algorithm:      request.Algorithm,
		expectedDigest: request.ExpectedDigest,
		createdAt:      now,
		state:          StateActive,
		lastActivity:   now,
		received:       make(map[int]chunkRecord),
	}

	// The area is created before the session becomes visible. Mkdir
	// makes the area exclusive, so a concurrent registration of the
	// same id fails here or at insert.
	area, err := e.store.Create(scratch.Manifest{
		ID:             s.id,
		Name:           s.name,
		ExpectedChunks: s.expectedChunks,
		TotalSize:      s.totalSize,
		ChunkSize:      s.chunkSize,
		Algorithm:      s.algorithm.String(),
		ExpectedDigest: s.expectedDigest.String(),
		CreatedAt:      now,
	})
	if errors.Is(err, scratch.ErrAreaExists) {
		return Status{}, sessionError(s.id, ErrDuplicateSession)
	}
	if err != nil {
		return Status{}, sessionError(s.id, fmt.Errorf("%w: %w", ErrIOFailure, err))
	}
	s.area = area

	if err := e.registry.insert(s); err != nil {
		releaseArea(e.logger, area)
		return Status{}, sessionError(s.id, err)
	}

	e.logger.Info("upload registered",
		"upload_id", s.id,
		"expected_chunks", s.expectedChunks,
		"total_size", s.totalSize,
		"algorithm", s.algorithm.String(),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(), nil
}

// SubmitChunk stores chunk index of session id. expected, if non-zero,
// must equal the payload's fingerprint.
//
// A byte-identical resubmission returns OutcomeDuplicate. When the
// chunk completes the session, SubmitChunk assembles the artifact
// before returning; if assembly fails the result is still returned
// (the chunk was accepted) together with an error wrapping
// ErrAssemblyFailure.
func (e *Engine) SubmitChunk(ctx context.Context, id string, index int, payload []byte, expected fingerprint.Fingerprint) (SubmitResult, error) {
	if err := e.enter(); err != nil {
		return SubmitResult{}, err
	}
	defer e.inflight.Done()

	s, err := e.registry.get(id)
	if err != nil {
		return SubmitResult{}, chunkError(id, index, err)
	}
	if e.maxChunkSize > 0 && int64(len(payload)) > e.maxChunkSize {
		return SubmitResult{}, chunkError(id, index,
			fmt.Errorf("%w: chunk is %d bytes, limit is %d", ErrCapacityExceeded, len(payload), e.maxChunkSize))
	}

	result, plan, err := e.chunks.put(s, index, payload, expected)
	if err != nil || plan == nil {
		return result, err
	}

	e.logger.Info("upload complete, assembling",
		"upload_id", id,
		"chunks", len(plan.Chunks),
		"size", plan.Size,
	)
	// Assembly outlives the submitter's request.
	if err := e.assemble(context.WithoutCancel(ctx), s, *plan); err != nil {
		return result, err
	}
	result.Complete = true
	return result, nil
}

// assemble runs the assembler, with retries, for a session whose
// assembling flag this goroutine set, then settles the session.
func (e *Engine) assemble(ctx context.Context, s *session, plan Plan) error {
	artifact, err := e.assembleWithRetry(ctx, plan)
	if err == nil && e.publisher != nil {
		err = e.publish(ctx, artifact)
		if err != nil {
			discardArtifact(e.logger, artifact)
		}
	}

	now := e.clock.Now()
	s.mu.Lock()
	cancelled := s.removed
	var released *scratch.Area
	if err != nil {
		failure := fmt.Errorf("%w: %w", ErrAssemblyFailure, err)
		released = s.terminateLocked(StateFailed, now, failure, e.retainFailed && !cancelled)
		err = failure
	} else {
		released = s.terminateLocked(StateComplete, now, nil, false)
		s.artifact = artifact
	}
	if cancelled {
		// Cancel ran while we were assembling and left the cleanup to
		// us.
		if area := s.detachAreaLocked(); area != nil {
			released = area
		}
	}
	s.mu.Unlock()

	releaseArea(e.logger, released)

	switch {
	case cancelled:
		if artifact != nil && err == nil {
			discardArtifact(e.logger, artifact)
		}
		e.logger.Info("discarded assembly of cancelled upload", "upload_id", s.id)
		return sessionError(s.id, ErrUnknownSession)
	case err != nil:
		e.logger.Error("assembly failed", "upload_id", s.id, "error", err)
		return sessionError(s.id, err)
	default:
		e.logger.Info("artifact assembled",
			"upload_id", s.id,
			"path", artifact.Path,
			"size", artifact.Size,
			"digest", artifact.Digest.String(),
		)
		return nil
	}
}

func (e *Engine) assembleWithRetry(ctx context.Context, plan Plan) (*Artifact, error) {
	var lastErr error
	for attempt := 1; attempt <= e.assemblyAttempts; attempt++ {
		artifact, err := e.assembler.Assemble(ctx, plan)
		if err == nil {
			return artifact, nil
		}
		lastErr = err
		if IsPermanent(err) {
			return nil, err
		}
		e.logger.Warn("assembly attempt failed",
			"upload_id", plan.ID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < e.assemblyAttempts && e.retryDelay > 0 {
			e.clock.Sleep(e.retryDelay)
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", e.assemblyAttempts, lastErr)
}

func (e *Engine) publish(ctx context.Context, artifact *Artifact) error {
	var lastErr error
	for attempt := 1; attempt <= e.assemblyAttempts; attempt++ {
		location, err := e.publisher.Publish(ctx, artifact)
		if err == nil {
			artifact.Location = location
			return nil
		}
		lastErr = err
		e.logger.Warn("publishing artifact failed",
			"upload_id", artifact.ID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < e.assemblyAttempts && e.retryDelay > 0 {
			e.clock.Sleep(e.retryDelay)
		}
	}
	return fmt.Errorf("publishing after %d attempts: %w", e.assemblyAttempts, lastErr)
}

func discardArtifact(logger *slog.Logger, artifact *Artifact) {
	if artifact == nil || artifact.Path == "" {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("removing discarded artifact", "upload_id", artifact.ID, "path", artifact.Path, "error", err)
	}
}

// Status reports the current state of session id.
func (e *Engine) Status(id string) (Status, error) {
	s, err := e.registry.get(id)
	if err != nil {
		return Status{}, sessionError(id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return Status{}, sessionError(id, ErrUnknownSession)
	}
	return s.statusLocked(), nil
}

// Sessions returns the status of every registered session, sorted by
// id.
func (e *Engine) Sessions() []Status {
	sessions := e.registry.snapshot()
	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.removed {
			statuses = append(statuses, s.statusLocked())
		}
		s.mu.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Finalize acknowledges a complete session and returns its artifact.
// The session is removed and, with a Catalog, the artifact recorded so
// that later calls for the same id return it again. While chunks are
// missing or assembly runs, Finalize returns ErrPending.
func (e *Engine) Finalize(ctx context.Context, id string) (*Artifact, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	s, err := e.registry.get(id)
	if err != nil {
		return e.lookupFinalized(ctx, id)
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return e.lookupFinalized(ctx, id)
	}
	switch s.state {
	case StateActive:
		missing := s.expectedChunks - len(s.received)
		s.mu.Unlock()
		if missing == 0 {
			return nil, sessionError(id, fmt.Errorf("%w: assembly in progress", ErrPending))
		}
		return nil, sessionError(id, fmt.Errorf("%w: %d chunks missing", ErrPending, missing))
	case StateExpired:
		s.mu.Unlock()
		return nil, sessionError(id, ErrSessionExpired)
	case StateFailed:
		failure := s.failure
		s.mu.Unlock()
		return nil, sessionError(id, failure)
	}
	artifact := s.artifact
	s.finalizing++
	s.mu.Unlock()

	if e.catalog != nil {
		if err := e.catalog.Record(ctx, artifact); err != nil {
			s.mu.Lock()
			s.finalizing--
			s.mu.Unlock()
			return nil, sessionError(id, fmt.Errorf("%w: recording artifact: %w", ErrIOFailure, err))
		}
	}

	s.mu.Lock()
	s.finalizing--
	s.removed = true
	s.mu.Unlock()
	e.registry.remove(id, s)

	e.logger.Info("upload finalized", "upload_id", id, "path", artifact.Path)
	return artifact, nil
}

func (e *Engine) lookupFinalized(ctx context.Context, id string) (*Artifact, error) {
	if e.catalog == nil {
		return nil, sessionError(id, ErrUnknownSession)
	}
	artifact, err := e.catalog.Lookup(ctx, id)
	if err != nil {
		return nil, sessionError(id, fmt.Errorf("%w: reading catalog: %w", ErrIOFailure, err))
	}
	if artifact == nil {
		return nil, sessionError(id, ErrUnknownSession)
	}
	return artifact, nil
}

// Cancel aborts session id and deletes its scratch area. Cancelling an
// unknown id succeeds; cancelling a complete session fails with
// ErrAlreadyComplete. If assembly is running, its output is discarded
// when it finishes.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	s, err := e.registry.get(id)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateComplete {
		s.mu.Unlock()
		return sessionError(id, ErrAlreadyComplete)
	}
	s.removed = true
	var released *scratch.Area
	if !s.assembling {
		released = s.detachAreaLocked()
	}
	assembling := s.assembling
	state := s.state
	s.mu.Unlock()

	e.registry.remove(id, s)
	releaseArea(e.logger, released)

	e.logger.Info("upload cancelled",
		"upload_id", id,
		"state", state.String(),
		"assembling", assembling,
	)
	return nil
}

// Close stops accepting work, waits for in-flight submissions and
// assemblies to finish (or ctx to end), stops the reaper, and deletes
// the scratch areas of all sessions that did not complete. Complete
// sessions keep their artifacts.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancelReaper, reaperDone := e.reaperCancel, e.reaperDone
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("upload: waiting for in-flight work: %w", ctx.Err())
	}

	if cancelReaper != nil {
		cancelReaper()
		<-reaperDone
	}

	released := 0
	for _, s := range e.registry.snapshot() {
		s.mu.Lock()
		var area *scratch.Area
		if !s.assembling {
			area = s.detachAreaLocked()
		}
		s.mu.Unlock()
		if area != nil {
			releaseArea(e.logger, area)
			released++
		}
	}
	e.logger.Info("upload engine closed", "released_scratch_areas", released)
	return err
}

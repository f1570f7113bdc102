// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

// Plan is everything an Assembler needs to build one artifact.
type Plan struct {
	ID   string
	Name string

	// Area holds the committed chunks. The engine keeps it alive until
	// Assemble returns.
	Area *scratch.Area

	// Chunks is sorted by Index and covers 0..len(Chunks)-1.
	Chunks []PlanChunk

	// Size is the sum of chunk lengths.
	Size int64

	Algorithm      fingerprint.Algorithm
	ExpectedDigest fingerprint.Fingerprint
}

// PlanChunk locates one chunk within the artifact.
type PlanChunk struct {
	Index       int
	Offset      int64
	Length      int64
	Fingerprint fingerprint.Fingerprint
}

// Artifact describes an assembled upload.
type Artifact struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Path is the artifact's location on the local filesystem.
	Path string `json:"path"`

	Size   int64                   `json:"size"`
	Chunks int                     `json:"chunks"`
	Digest fingerprint.Fingerprint `json:"digest"`

	CompletedAt time.Time `json:"completed_at"`

	// Location is where a Publisher copied the artifact, if one is
	// configured.
	Location string `json:"location,omitempty"`
}

// Assembler turns a complete session's chunks into an artifact. The
// engine calls Assemble at most once per attempt and never
// concurrently for the same session. Errors wrapped with Permanent are
// not retried.
type Assembler interface {
	Assemble(ctx context.Context, plan Plan) (*Artifact, error)
}

// Publisher copies a finished artifact somewhere beyond the local
// filesystem and returns its location there.
type Publisher interface {
	Publish(ctx context.Context, artifact *Artifact) (string, error)
}

// ArtifactChecker is implemented by assemblers that can tell whether
// an artifact name is already taken at their destination. The engine
// consults it at registration.
type ArtifactChecker interface {
	ArtifactExists(name string) (bool, error)
}

var (
	errArtifactExists = errors.New("artifact already exists")
	errDigestMismatch = errors.New("artifact digest mismatch")
)

// FileAssembler writes artifacts into Directory. Chunks are streamed
// in index order into a hidden temporary file, which is fsynced and
// renamed into place, so the final path never holds a partial
// artifact.
type FileAssembler struct {
	Directory string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// NewFileAssembler returns a FileAssembler writing into directory,
// creating it if needed.
func NewFileAssembler(directory string, clk clock.Clock, logger *slog.Logger) (*FileAssembler, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileAssembler{Directory: directory, Clock: clk, Logger: logger}, nil
}

// ArtifactExists implements ArtifactChecker.
func (a *FileAssembler) ArtifactExists(name string) (bool, error) {
	_, err := os.Lstat(filepath.Join(a.Directory, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Assemble implements Assembler.
func (a *FileAssembler) Assemble(ctx context.Context, plan Plan) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan.Area == nil {
		return nil, Permanent(errors.New("plan has no scratch area"))
	}

	finalPath := filepath.Join(a.Directory, plan.Name)
	if _, err := os.Lstat(finalPath); err == nil {
		return nil, Permanent(fmt.Errorf("%w: %s", errArtifactExists, finalPath))
	}

	file, err := os.CreateTemp(a.Directory, "."+plan.Name+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("creating artifact temp file: %w", err)
	}
	temporaryPath := file.Name()
	fail := func(err error) (*Artifact, error) {
		file.Close()
		os.Remove(temporaryPath)
		return nil, err
	}

	if err := preallocate(file, plan.Size); err != nil {
		return fail(fmt.Errorf("preallocating %d bytes: %w", plan.Size, err))
	}

	hasher, err := fingerprint.NewHasher(plan.Algorithm)
	if err != nil {
		return fail(Permanent(err))
	}
	destination := io.MultiWriter(file, hasher)

	var written int64
	for position, chunk := range plan.Chunks {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if chunk.Index != position {
			return fail(Permanent(fmt.Errorf("plan chunk %d has index %d", position, chunk.Index)))
		}
		data, err := plan.Area.ReadChunk(chunk.Index)
		if err != nil {
			if errors.Is(err, scratch.ErrCorruptChunk) {
				return fail(Permanent(fmt.Errorf("%w: %w", ErrChunkHashMismatch, err)))
			}
			return fail(err)
		}
		if int64(len(data)) != chunk.Length || !fingerprint.Verify(data, chunk.Fingerprint) {
			return fail(Permanent(fmt.Errorf("%w: stored chunk %d no longer matches %s",
				ErrChunkHashMismatch, chunk.Index, chunk.Fingerprint)))
		}
		if _, err := destination.Write(data); err != nil {
			return fail(fmt.Errorf("writing chunk %d at offset %d: %w", chunk.Index, written, err))
		}
		written += int64(len(data))
	}

	digest := hasher.Fingerprint()
	if !plan.ExpectedDigest.IsZero() && digest != plan.ExpectedDigest {
		return fail(Permanent(fmt.Errorf("%w: artifact digest %s, expected %s",
			errDigestMismatch, digest, plan.ExpectedDigest)))
	}

	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("syncing artifact: %w", err))
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return nil, fmt.Errorf("closing artifact: %w", err)
	}
	if err := renameNoReplace(temporaryPath, finalPath); err != nil {
		os.Remove(temporaryPath)
		if errors.Is(err, errArtifactExists) {
			return nil, Permanent(err)
		}
		return nil, fmt.Errorf("publishing artifact: %w", err)
	}
	syncDirectory(a.Directory)

	a.Logger.Debug("artifact written", "upload_id", plan.ID, "path", finalPath, "size", written)
	return &Artifact{
		ID:          plan.ID,
		Name:        plan.Name,
		Path:        finalPath,
		Size:        written,
		Chunks:      len(plan.Chunks),
		Digest:      digest,
		CompletedAt: a.Clock.Now(),
	}, nil
}

// preallocate reserves size bytes for file. Filesystems without
// fallocate support are tolerated; running out of space is not.
func preallocate(file *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	err := unix.Fallocate(int(file.Fd()), 0, 0, size)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		return nil
	default:
		return err
	}
}

// renameNoReplace renames oldPath to newPath, failing with
// errArtifactExists rather than replacing an existing file.
func renameNoReplace(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %s", errArtifactExists, newPath)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		// Filesystem without RENAME_NOREPLACE.
		if _, statErr := os.Lstat(newPath); statErr == nil {
			return fmt.Errorf("%w: %s", errArtifactExists, newPath)
		}
		return os.Rename(oldPath, newPath)
	default:
		return &os.LinkError{Op: "renameat2", Old: oldPath, New: newPath, Err: err}
	}
}

// syncDirectory makes a rename in directory durable. Errors are
// ignored: the rename itself has already succeeded.
func syncDirectory(directory string) {
	handle, err := os.Open(directory)
	if err != nil {
		return
	}
	handle.Sync()
	handle.Close()
}

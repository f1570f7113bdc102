// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

var (
	// ErrAreaExists is returned by Create when a directory for the id
	// is already present.
	ErrAreaExists = errors.New("scratch: area already exists")

	// ErrInvalidName is returned for identifiers that are not safe as
	// a single path element.
	ErrInvalidName = errors.New("scratch: invalid area name")
)

// maxNameLength bounds identifiers so that every derived path stays
// well inside NAME_MAX.
const maxNameLength = 128

// ValidName reports whether id can name a scratch area: 1 to 128
// characters from [A-Za-z0-9._-], not starting with a dot.
func ValidName(id string) bool {
	if id == "" || len(id) > maxNameLength || id[0] == '.' {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Store manages the scratch areas beneath one root directory.
type Store struct {
	root        string
	compression Compression
	logger      *slog.Logger
}

// Options configures a Store.
type Options struct {
	// Compression is applied to chunk bytes at rest.
	Compression Compression

	// Logger receives area lifecycle events. Nil discards.
	Logger *slog.Logger
}

// New returns a Store rooted at root, creating the directory if
// needed.
func New(root string, options Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("scratch: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if options.Compression > CompressionZstd {
		return nil, fmt.Errorf("unsupported compression %d", options.Compression)
	}
	return &Store{root: root, compression: options.Compression, logger: logger}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Create makes a fresh area for manifest.ID and writes its manifest.
func (s *Store) Create(manifest Manifest) (*Area, error) {
	if !ValidName(manifest.ID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, manifest.ID)
	}
	directory := filepath.Join(s.root, manifest.ID)
	if err := os.Mkdir(directory, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAreaExists, manifest.ID)
		}
		return nil, fmt.Errorf("creating scratch area: %w", err)
	}

	area := &Area{
		id:          manifest.ID,
		directory:   directory,
		compression: s.compression,
	}
	manifest.Compression = s.compression.String()

	for _, sub := range []string{chunksDirectory, stagingDirectory} {
		if err := os.Mkdir(filepath.Join(directory, sub), 0o755); err != nil {
			os.RemoveAll(directory)
			return nil, fmt.Errorf("creating scratch area %s: %w", sub, err)
		}
	}
	if err := writeManifest(directory, manifest); err != nil {
		os.RemoveAll(directory)
		return nil, fmt.Errorf("writing manifest for %s: %w", manifest.ID, err)
	}

	s.logger.Debug("scratch area created", "upload_id", manifest.ID, "path", directory)
	return area, nil
}

// Orphan is an area found on disk that no live session claims.
type Orphan struct {
	Path string

	// Manifest is zero when it could not be read; ManifestErr says
	// why.
	Manifest    Manifest
	ManifestErr error
}

// Orphans lists every area under the root whose id is not in live.
func (s *Store) Orphans(live []string) ([]Orphan, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing scratch root: %w", err)
	}
	var orphans []Orphan
	for _, entry := range entries {
		if !entry.IsDir() || slices.Contains(live, entry.Name()) {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		manifest, manifestErr := ReadManifest(path)
		orphans = append(orphans, Orphan{Path: path, Manifest: manifest, ManifestErr: manifestErr})
	}
	return orphans, nil
}

// SweepOrphans removes every orphaned area, logging each manifest, and
// returns how many were removed.
func (s *Store) SweepOrphans(live []string) (int, error) {
	orphans, err := s.Orphans(live)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, orphan := range orphans {
		if orphan.ManifestErr != nil {
			s.logger.Warn("removing scratch area with unreadable manifest",
				"path", orphan.Path, "error", orphan.ManifestErr)
		} else {
			s.logger.Info("removing orphaned scratch area",
				"upload_id", orphan.Manifest.ID,
				"name", orphan.Manifest.Name,
				"expected_chunks", orphan.Manifest.ExpectedChunks,
				"created_at", orphan.Manifest.CreatedAt,
			)
		}
		if err := os.RemoveAll(orphan.Path); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", orphan.Path, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scratch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
)

const (
	chunksDirectory  = "chunks"
	stagingDirectory = "tmp"
	chunkSuffix      = ".chunk"
)

// Chunk file header: 4-byte magic, 1-byte compression, 8-byte
// big-endian uncompressed length.
var chunkMagic = [4]byte{'R', 'C', 'K', '1'}

const headerSize = 4 + 1 + 8

// maxStoredChunk bounds how much ReadChunk will allocate for a header
// it has not yet validated against the caller's records.
const maxStoredChunk = 1 << 32

// Area is one session's private staging directory. Methods may be
// called concurrently: staging files have unique names and commits are
// renames. Callers serialize commits for the same index themselves.
type Area struct {
	id          string
	directory   string
	compression Compression
}

// ID returns the owning session id.
func (a *Area) ID() string { return a.id }

// Path returns the area's directory.
func (a *Area) Path() string { return a.directory }

// ChunkPath returns where chunk index is stored once committed.
func (a *Area) ChunkPath(index int) string {
	return filepath.Join(a.directory, chunksDirectory, strconv.Itoa(index)+chunkSuffix)
}

// Staged is a chunk written to the staging directory but not yet in
// its index slot. Exactly one of Commit or Discard should follow.
type Staged struct {
	area  *Area
	index int
	path  string

	// Compression is what was actually applied, which may be none
	// even when the area prefers compression.
	Compression Compression

	// StoredLength is the size of the file on disk, header included.
	StoredLength int64
}

// Stage compresses data and writes it, fsynced, to a new file under
// the area's staging directory.
func (a *Area) Stage(index int, data []byte) (*Staged, error) {
	if index < 0 {
		return nil, fmt.Errorf("staging chunk: negative index %d", index)
	}
	stored, compression, err := compress(data, a.compression)
	if err != nil {
		return nil, fmt.Errorf("compressing chunk %d: %w", index, err)
	}

	var header [headerSize]byte
	copy(header[:4], chunkMagic[:])
	header[4] = byte(compression)
	binary.BigEndian.PutUint64(header[5:], uint64(len(data)))

	file, err := os.CreateTemp(filepath.Join(a.directory, stagingDirectory), strconv.Itoa(index)+"-*.part")
	if err != nil {
		return nil, fmt.Errorf("creating staging file for chunk %d: %w", index, err)
	}
	path := file.Name()
	fail := func(step string, err error) (*Staged, error) {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%s staging file for chunk %d: %w", step, index, err)
	}

	if _, err := file.Write(header[:]); err != nil {
		return fail("writing", err)
	}
	if _, err := file.Write(stored); err != nil {
		return fail("writing", err)
	}
	if err := file.Sync(); err != nil {
		return fail("syncing", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing staging file for chunk %d: %w", index, err)
	}

	return &Staged{
		area:         a,
		index:        index,
		path:         path,
		Compression:  compression,
		StoredLength: int64(headerSize + len(stored)),
	}, nil
}

// Commit moves the staged file into its index slot, replacing nothing:
// the caller has already established that the slot is empty.
func (s *Staged) Commit() error {
	if err := os.Rename(s.path, s.area.ChunkPath(s.index)); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("committing chunk %d: %w", s.index, err)
	}
	return nil
}

// Discard removes the staged file. It is safe to call after a failed
// Commit.
func (s *Staged) Discard() {
	os.Remove(s.path)
}

// ReadChunk returns the original bytes of committed chunk index.
func (a *Area) ReadChunk(index int) ([]byte, error) {
	data, err := os.ReadFile(a.ChunkPath(index))
	if err != nil {
		return nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	if len(data) < headerSize || !bytes.Equal(data[:4], chunkMagic[:]) {
		return nil, fmt.Errorf("reading chunk %d: %w", index, ErrCorruptChunk)
	}
	compression := Compression(data[4])
	size := binary.BigEndian.Uint64(data[5:headerSize])
	if size > maxStoredChunk {
		return nil, fmt.Errorf("reading chunk %d: %w: length %d", index, ErrCorruptChunk, size)
	}
	payload, err := decompress(data[headerSize:], compression, int(size))
	if err != nil {
		return nil, fmt.Errorf("reading chunk %d: %w: %w", index, ErrCorruptChunk, err)
	}
	return payload, nil
}

// ErrCorruptChunk means a committed chunk file could not be decoded.
var ErrCorruptChunk = errors.New("scratch: corrupt chunk file")

// Release deletes the area and everything in it. Releasing twice is
// harmless.
//
// The directory is first renamed to a hidden name beside it, so a
// Stage racing with Release fails to create its file instead of
// landing in a directory that is being emptied, and the id can be
// reused as soon as Release returns. A hidden directory that cannot be
// removed is left for the next orphan sweep.
func (a *Area) Release() error {
	doomed := filepath.Join(filepath.Dir(a.directory),
		fmt.Sprintf(".%s.%016x.released", a.id, rand.Uint64()))
	if err := os.Rename(a.directory, doomed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("releasing scratch area %s: %w", a.id, err)
	}
	if err := os.RemoveAll(doomed); err != nil {
		return fmt.Errorf("releasing scratch area %s: %w", a.id, err)
	}
	return nil
}

// Exists reports whether the area's directory is still on disk.
func (a *Area) Exists() bool {
	_, err := os.Stat(a.directory)
	return err == nil
}

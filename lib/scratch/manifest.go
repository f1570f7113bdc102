// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/reassembly/lib/codec"
)

// ManifestFile is the manifest's name inside an area directory.
const ManifestFile = "manifest.cbor"

// Manifest describes the session that owns an area. It is written once
// when the area is created and is informational: the owning process
// keeps authoritative state in memory. After a restart the manifest is
// what identifies an orphaned area.
type Manifest struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	ExpectedChunks int       `json:"expected_chunks"`
	TotalSize      int64     `json:"total_size,omitempty"`
	ChunkSize      int64     `json:"chunk_size,omitempty"`
	Algorithm      string    `json:"algorithm"`
	ExpectedDigest string    `json:"expected_digest,omitempty"`
	Compression    string    `json:"compression"`
	CreatedAt      time.Time `json:"created_at"`
}

func writeManifest(directory string, manifest Manifest) error {
	data, err := codec.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return writeFileSync(filepath.Join(directory, ManifestFile), data)
}

// ReadManifest decodes the manifest of the area rooted at directory.
func ReadManifest(directory string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(directory, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest in %s: %w", directory, err)
	}
	return manifest, nil
}

// writeFileSync writes data to path through a sibling temporary file,
// fsyncing before the rename.
func writeFileSync(path string, data []byte) error {
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	return nil
}

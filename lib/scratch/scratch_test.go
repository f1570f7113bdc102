// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scratch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/reassembly/lib/testutil"
)

func newStore(t *testing.T, compression Compression) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "scratch"), Options{Compression: compression})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func testManifest(id string) Manifest {
	return Manifest{
		ID:             id,
		ExpectedChunks: 3,
		Algorithm:      "xxh64",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateLayout(t *testing.T) {
	store := newStore(t, CompressionNone)
	area, err := store.Create(testManifest("upload-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, sub := range []string{"chunks", "tmp", "manifest.cbor"} {
		if _, err := os.Stat(filepath.Join(area.Path(), sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}

	manifest, err := ReadManifest(area.Path())
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if manifest.ID != "upload-1" || manifest.ExpectedChunks != 3 || manifest.Compression != "none" {
		t.Errorf("manifest = %+v", manifest)
	}
	if !manifest.CreatedAt.Equal(testManifest("").CreatedAt) {
		t.Errorf("created_at = %v", manifest.CreatedAt)
	}
}

func TestCreateRejectsExistingAndInvalid(t *testing.T) {
	store := newStore(t, CompressionNone)
	if _, err := store.Create(testManifest("dup")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(testManifest("dup")); !errors.Is(err, ErrAreaExists) {
		t.Errorf("second Create = %v, want ErrAreaExists", err)
	}
	for _, id := range []string{"", "..", ".hidden", "a/b", "name with space"} {
		if _, err := store.Create(testManifest(id)); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create(%q) = %v, want ErrInvalidName", id, err)
		}
	}
}

func TestStageCommitRead(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			store := newStore(t, compression)
			area, err := store.Create(testManifest("roundtrip"))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			compressible := bytes.Repeat([]byte("reassembly "), 1000)
			staged, err := area.Stage(0, compressible)
			if err != nil {
				t.Fatalf("Stage: %v", err)
			}
			if _, err := os.Stat(area.ChunkPath(0)); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("chunk visible before commit: %v", err)
			}
			if err := staged.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}

			if compression != CompressionNone {
				if staged.Compression != compression {
					t.Errorf("compressible data stored as %s, want %s", staged.Compression, compression)
				}
				if staged.StoredLength >= int64(len(compressible)) {
					t.Errorf("stored %d bytes for %d input", staged.StoredLength, len(compressible))
				}
			}

			got, err := area.ReadChunk(0)
			if err != nil {
				t.Fatalf("ReadChunk: %v", err)
			}
			if !bytes.Equal(got, compressible) {
				t.Error("ReadChunk returned different bytes")
			}

			entries, err := os.ReadDir(filepath.Join(area.Path(), "tmp"))
			if err != nil {
				t.Fatalf("reading tmp: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("staging directory holds %d leftovers", len(entries))
			}
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	store := newStore(t, CompressionZstd)
	area, err := store.Create(testManifest("random"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	random := testutil.Payload(42, 4096)
	staged, err := area.Stage(1, random)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.Compression != CompressionNone {
		t.Errorf("random data stored as %s, want none", staged.Compression)
	}
	if err := staged.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := area.ReadChunk(1)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, random) {
		t.Error("ReadChunk returned different bytes")
	}
}

func TestDiscardLeavesSlotEmpty(t *testing.T) {
	store := newStore(t, CompressionNone)
	area, err := store.Create(testManifest("discard"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	staged, err := area.Stage(2, []byte("never committed"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	staged.Discard()
	if _, err := area.ReadChunk(2); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadChunk after Discard = %v, want not-exist", err)
	}
}

func TestReadChunkDetectsCorruption(t *testing.T) {
	store := newStore(t, CompressionNone)
	area, err := store.Create(testManifest("corrupt"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(area.ChunkPath(0), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	if _, err := area.ReadChunk(0); !errors.Is(err, ErrCorruptChunk) {
		t.Errorf("ReadChunk = %v, want ErrCorruptChunk", err)
	}
}

func TestStageAfterReleaseFails(t *testing.T) {
	store := newStore(t, CompressionNone)
	area, err := store.Create(testManifest("released"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := area.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if area.Exists() {
		t.Fatal("area directory still exists after Release")
	}
	if err := area.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := area.Stage(0, []byte("late")); err == nil {
		t.Error("Stage succeeded on a released area")
	}
}

func TestReleaseWhileStaging(t *testing.T) {
	store := newStore(t, CompressionNone)
	area, err := store.Create(testManifest("racing"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Stagers keep writing until the area disappears under them.
	var wg sync.WaitGroup
	for worker := range 4 {
		wg.Go(func() {
			for index := worker; ; index += 4 {
				staged, err := area.Stage(index, testutil.Payload(uint64(index), 512))
				if err != nil {
					return
				}
				if err := staged.Commit(); err != nil {
					staged.Discard()
					return
				}
			}
		})
	}

	if err := area.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	wg.Wait()

	if area.Exists() {
		t.Error("area directory exists after Release")
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch root holds %v after Release", entries)
	}
	if _, err := store.Create(testManifest("racing")); err != nil {
		t.Errorf("Create after Release: %v", err)
	}
}

func TestSweepOrphansRemovesReleasedLeftovers(t *testing.T) {
	store := newStore(t, CompressionNone)
	leftover := filepath.Join(store.Root(), ".gone.00000000000000ff.released")
	if err := os.MkdirAll(filepath.Join(leftover, "tmp"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	removed, err := store.SweepOrphans(nil)
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("leftover still present: %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	store := newStore(t, CompressionNone)
	for _, id := range []string{"live", "stale-a", "stale-b"} {
		if _, err := store.Create(testManifest(id)); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	broken := filepath.Join(store.Root(), "no-manifest")
	if err := os.Mkdir(broken, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	orphans, err := store.Orphans([]string{"live"})
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(orphans) != 3 {
		t.Fatalf("got %d orphans, want 3", len(orphans))
	}
	for _, orphan := range orphans {
		if filepath.Base(orphan.Path) == "no-manifest" {
			if orphan.ManifestErr == nil {
				t.Error("orphan without manifest reported no error")
			}
		} else if orphan.Manifest.ID != filepath.Base(orphan.Path) {
			t.Errorf("orphan %s has manifest id %q", orphan.Path, orphan.Manifest.ID)
		}
	}

	removed, err := store.SweepOrphans([]string{"live"})
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "live" {
		t.Errorf("remaining entries = %v, want only live", entries)
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "lz4": CompressionLZ4, "zstd": CompressionZstd} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) succeeded")
	}
}

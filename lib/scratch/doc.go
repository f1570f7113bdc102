// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scratch owns the on-disk staging directories of in-progress
// uploads.
//
// Each session gets an [Area] under the store root:
//
//	<root>/<id>/manifest.cbor     session manifest (CBOR, lib/codec)
//	<root>/<id>/chunks/<n>.chunk  committed chunk n
//	<root>/<id>/tmp/              staging files not yet committed
//
// Writing a chunk is two steps. [Area.Stage] compresses the payload and
// writes it, fsynced, to a private file under tmp/. [Staged.Commit]
// renames that file into its index slot. Staging performs all the
// expensive I/O and needs no coordination; commit is a single rename,
// cheap enough to run while the caller holds a session lock.
//
// Chunk files carry a small header (magic, compression tag,
// uncompressed length) followed by the stored bytes, so [Area.ReadChunk]
// needs no outside bookkeeping to decode them.
//
// The store knows nothing about sessions beyond their identifiers and
// manifests. Areas left behind by a previous process are found by
// [Store.Orphans] and removed by [Store.SweepOrphans].
package scratch

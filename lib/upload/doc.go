// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload reassembles files delivered as independently
// transmitted chunks.
//
// A caller registers a session declaring how many chunks to expect,
// then submits chunks by index in any order, from any number of
// goroutines. Each chunk is fingerprinted ([fingerprint.Digest]),
// checked against whatever is already stored at its index, staged into
// the session's private scratch area ([scratch.Area]) with no lock
// held, and committed by rename under the session lock. The submission
// that completes the set flags the session for assembly in that same
// critical section, which is what makes assembly happen exactly once
// no matter how many duplicates race it.
//
// Assembly ([Assembler], usually [FileAssembler]) concatenates chunks
// in index order into a temporary file, verifies every chunk and the
// optional whole-artifact digest, and renames the result into place.
// [Engine.Finalize] hands the artifact to the caller and forgets the
// session.
//
// The [Reaper] expires sessions that have been idle longer than the
// TTL, deleting their scratch areas, and later purges the tombstones
// of expired, failed, and unacknowledged sessions.
//
// Locking: the registry is sharded, each shard guarding only its map.
// Each session has its own mutex guarding its state and received set.
// No lock is held across file writes, assembly, or scratch deletion.
//
// Every error wraps one of the Err* kinds in errors.go, usually inside
// a [*SessionError] naming the session and chunk.
package upload

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes the digests that protect chunk uploads
// against transport corruption and identify duplicate submissions.
//
// Two algorithms are available:
//
//   - xxh64 (default): 64-bit xxHash. Non-cryptographic and several
//     GB/s per core. Detects accidental corruption and tells a
//     retransmitted chunk from a different one. It does not resist a
//     caller who crafts collisions on purpose.
//
//   - blake3: 256-bit BLAKE3 in keyed mode with a fixed domain key, so
//     upload fingerprints never collide with BLAKE3 hashes computed for
//     other purposes over the same bytes.
//
// A [Fingerprint] is a comparable value: two fingerprints are equal
// exactly when algorithm and digest bytes match. Its text form is
// "<algorithm>:<hex>", e.g. "xxh64:ef46db3751d8e999".
package fingerprint

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test
// binary.
//
//	id := testutil.UniqueID("session") // "session-1", "session-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// Payload returns size pseudo-random bytes determined by seed. The
// same seed always yields the same bytes, so a failing test can be
// replayed exactly.
func Payload(seed uint64, size int) []byte {
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	source := rand.NewChaCha8(key)
	data := make([]byte, size)
	// ChaCha8.Read never fails.
	_, _ = source.Read(data)
	return data
}

// Split cuts data into consecutive chunks of chunkSize bytes. The last
// chunk holds the remainder and may be shorter.
func Split(t TB, data []byte, chunkSize int) [][]byte {
	t.Helper()
	if chunkSize <= 0 {
		t.Fatalf("Split: chunk size must be positive, got %d", chunkSize)
	}
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

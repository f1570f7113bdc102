// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"testing"
)

func TestPayloadDeterministic(t *testing.T) {
	first := Payload(7, 1000)
	second := Payload(7, 1000)
	if !bytes.Equal(first, second) {
		t.Fatal("same seed produced different payloads")
	}
	if bytes.Equal(first, Payload(8, 1000)) {
		t.Fatal("different seeds produced the same payload")
	}
}

func TestSplit(t *testing.T) {
	data := Payload(1, 10)
	chunks := Split(t, data, 4)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[2]) != 2 {
		t.Errorf("last chunk has %d bytes, want 2", len(chunks[2]))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), data) {
		t.Error("joined chunks differ from the input")
	}
}

func TestUniqueID(t *testing.T) {
	if UniqueID("s") == UniqueID("s") {
		t.Fatal("UniqueID repeated a value")
	}
}

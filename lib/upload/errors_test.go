// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindRoundTrip(t *testing.T) {
	for _, entry := range errorKinds {
		wrapped := chunkError("u1", 2, fmt.Errorf("writing chunk: %w", entry.err))
		kind := Kind(wrapped)
		if kind != entry.kind {
			t.Errorf("Kind(%v) = %q, want %q", wrapped, kind, entry.kind)
		}
		if !errors.Is(KindError(kind), entry.err) {
			t.Errorf("KindError(%q) does not match %v", kind, entry.err)
		}
	}
	outcomes := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: %w", ErrAssemblyFailure, ErrChunkHashMismatch), "assembly_failure"},
		{fmt.Errorf("%w: %w", ErrAssemblyFailure, ErrIOFailure), "assembly_failure"},
		{fmt.Errorf("%w: %w: %w", ErrSessionFailed, ErrAssemblyFailure, ErrChunkHashMismatch), "session_failed"},
		{fmt.Errorf("%w: %w", ErrSessionFailed, ErrIOFailure), "session_failed"},
	}
	for _, outcome := range outcomes {
		if got := Kind(outcome.err); got != outcome.want {
			t.Errorf("Kind(%v) = %q, want %q", outcome.err, got, outcome.want)
		}
	}
	if Kind(errors.New("other")) != "" {
		t.Error("Kind of an unrelated error is not empty")
	}
	if KindError("nonsense") != nil {
		t.Error("KindError of an unknown name is not nil")
	}
}

func TestSessionErrorMessage(t *testing.T) {
	err := chunkError("u1", 3, ErrChunkHashMismatch)
	if got := err.Error(); got != "session u1 chunk 3: upload: chunk fingerprint mismatch" {
		t.Errorf("Error() = %q", got)
	}
	var sessionErr *SessionError
	if !errors.As(err, &sessionErr) || sessionErr.Index != 3 {
		t.Errorf("errors.As = %+v", sessionErr)
	}
	if got := sessionError("u2", ErrUnknownSession).Error(); got != "session u2: upload: unknown session" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) is not nil")
	}
	err := fmt.Errorf("assembling: %w", Permanent(ErrAssemblyFailure))
	if !IsPermanent(err) || !errors.Is(err, ErrAssemblyFailure) {
		t.Errorf("wrapped permanent error lost its marks: %v", err)
	}
	if IsPermanent(ErrIOFailure) {
		t.Error("unmarked error reported permanent")
	}
}

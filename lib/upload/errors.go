// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine. Every error the engine returns
// wraps exactly one of these, usually inside a *SessionError; test
// with errors.Is.
var (
	ErrDuplicateSession     = errors.New("upload: session already exists")
	ErrUnknownSession       = errors.New("upload: unknown session")
	ErrChunkIndexOutOfRange = errors.New("upload: chunk index out of range")
	ErrChunkHashMismatch    = errors.New("upload: chunk fingerprint mismatch")
	ErrCapacityExceeded     = errors.New("upload: capacity exceeded")
	ErrIOFailure            = errors.New("upload: storage I/O failure")
	ErrSessionExpired       = errors.New("upload: session expired")
	ErrAssemblyFailure      = errors.New("upload: assembly failed")
	ErrAlreadyComplete      = errors.New("upload: session already complete")

	// ErrPending is returned by Finalize while chunks are missing or
	// assembly is still running.
	ErrPending = errors.New("upload: session not complete")

	// ErrChunkSizeMismatch is returned when a chunk's length disagrees
	// with the session's declared chunk size or total size.
	ErrChunkSizeMismatch = errors.New("upload: chunk size mismatch")

	// ErrSessionFailed is returned for submissions to a session whose
	// storage or assembly has failed.
	ErrSessionFailed = errors.New("upload: session failed")

	// ErrInvalidRequest covers malformed registration and submission
	// arguments.
	ErrInvalidRequest = errors.New("upload: invalid request")

	// ErrClosed is returned after Engine.Close.
	ErrClosed = errors.New("upload: engine closed")
)

// SessionError attaches the session and, where relevant, the chunk
// index to an error kind.
type SessionError struct {
	ID string

	// Index is the chunk index, or -1 when the error is not about a
	// particular chunk.
	Index int

	Err error
}

func (e *SessionError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("session %s chunk %d: %v", e.ID, e.Index, e.Err)
	}
	return fmt.Sprintf("session %s: %v", e.ID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func sessionError(id string, err error) error {
	return &SessionError{ID: id, Index: -1, Err: err}
}

func chunkError(id string, index int, err error) error {
	return &SessionError{ID: id, Index: index, Err: err}
}

// permanentError marks an assembly failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Assemblers wrap integrity
// failures with it; anything unmarked is treated as transient.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}

// errorKinds names each sentinel for transports that carry errors as
// data. When an error wraps several sentinels the first listed wins:
// session_failed and assembly_failure describe the outcome and come
// ahead of the causes they wrap.
var errorKinds = []struct {
	kind string
	err  error
}{
	{"duplicate_session", ErrDuplicateSession},
	{"unknown_session", ErrUnknownSession},
	{"session_failed", ErrSessionFailed},
	{"assembly_failure", ErrAssemblyFailure},
	{"chunk_index_out_of_range", ErrChunkIndexOutOfRange},
	{"chunk_hash_mismatch", ErrChunkHashMismatch},
	{"chunk_size_mismatch", ErrChunkSizeMismatch},
	{"capacity_exceeded", ErrCapacityExceeded},
	{"session_expired", ErrSessionExpired},
	{"already_complete", ErrAlreadyComplete},
	{"pending", ErrPending},
	{"io_failure", ErrIOFailure},
	{"invalid_request", ErrInvalidRequest},
	{"closed", ErrClosed},
}

// Kind returns the wire name of the sentinel err wraps, or "" if it
// wraps none.
func Kind(err error) string {
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return ""
}

// KindError returns the sentinel named by kind, or nil for an unknown
// name.
func KindError(kind string) error {
	for _, entry := range errorKinds {
		if entry.kind == kind {
			return entry.err
		}
	}
	return nil
}

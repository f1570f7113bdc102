// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

// Outcome says what happened to a submitted chunk that was not
// rejected.
type Outcome uint8

const (
	// OutcomeAccepted means the chunk was new and is now stored.
	OutcomeAccepted Outcome = iota + 1

	// OutcomeDuplicate means an identical chunk was already stored.
	// Nothing was written.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accepted":
		*o = OutcomeAccepted
	case "duplicate":
		*o = OutcomeDuplicate
	default:
		return fmt.Errorf("unknown submit outcome %q", text)
	}
	return nil
}

// SubmitResult reports a successful submission.
type SubmitResult struct {
	Outcome     Outcome                 `json:"outcome"`
	Index       int                     `json:"index"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`

	// ReceivedCount is the number of distinct chunks held after this
	// submission.
	ReceivedCount int `json:"received_count"`

	// Complete is true once the session's artifact has been
	// assembled.
	Complete bool `json:"complete"`
}

// chunkStore validates chunks and moves their bytes into a session's
// scratch area. Bytes are staged with no lock held; the session lock
// covers only the admission checks and the commit rename.
type chunkStore struct {
	clock         clock.Clock
	logger        *slog.Logger
	writeAttempts int
	retryDelay    time.Duration
	retainFailed  bool
}

// put stores chunk index of s. When the chunk completes the session,
// put sets the assembling flag and returns the assembly plan; the
// caller must run it.
func (c *chunkStore) put(s *session, index int, payload []byte, expected fingerprint.Fingerprint) (SubmitResult, *Plan, error) {
	if index < 0 || index >= s.expectedChunks {
		return SubmitResult{}, nil, chunkError(s.id, index,
			fmt.Errorf("%w: session expects indices 0 through %d", ErrChunkIndexOutOfRange, s.expectedChunks-1))
	}
	if len(payload) == 0 {
		return SubmitResult{}, nil, chunkError(s.id, index, fmt.Errorf("%w: empty chunk", ErrInvalidRequest))
	}
	length := int64(len(payload))
	if err := s.checkLength(index, length); err != nil {
		return SubmitResult{}, nil, chunkError(s.id, index, err)
	}

	digest := fingerprint.Digest(s.algorithm, payload)
	if !expected.IsZero() && expected != digest {
		return SubmitResult{}, nil, chunkError(s.id, index,
			fmt.Errorf("%w: payload hashes to %s, caller supplied %s", ErrChunkHashMismatch, digest, expected))
	}

	s.mu.Lock()
	result, done, err := c.admitLocked(s, index, digest, length)
	area := s.area
	s.mu.Unlock()
	if done || err != nil {
		return result, nil, err
	}

	staged, err := c.stage(s, area, index, payload)
	if err != nil {
		return c.stageFailed(s, index, digest, length, err)
	}
	return c.commit(s, staged, index, digest, length)
}

// checkLength enforces the declared chunk size: every chunk but the
// last is exactly chunkSize, the last at most chunkSize.
func (s *session) checkLength(index int, length int64) error {
	if s.chunkSize == 0 {
		return nil
	}
	last := index == s.expectedChunks-1
	if !last && length != s.chunkSize {
		return fmt.Errorf("%w: chunk is %d bytes, session chunk size is %d", ErrChunkSizeMismatch, length, s.chunkSize)
	}
	if last && length > s.chunkSize {
		return fmt.Errorf("%w: final chunk is %d bytes, exceeds chunk size %d", ErrChunkSizeMismatch, length, s.chunkSize)
	}
	return nil
}

// admitLocked decides whether a chunk with the given digest may be
// stored. done is true when the submission is settled without writing:
// a duplicate of a stored chunk. Accepted submissions refresh the
// session's activity time.
func (c *chunkStore) admitLocked(s *session, index int, digest fingerprint.Fingerprint, length int64) (result SubmitResult, done bool, err error) {
	if s.removed {
		return SubmitResult{}, true, chunkError(s.id, index, ErrUnknownSession)
	}

	switch s.state {
	case StateExpired:
		return SubmitResult{}, true, chunkError(s.id, index, ErrSessionExpired)
	case StateFailed:
		return SubmitResult{}, true, chunkError(s.id, index, fmt.Errorf("%w: %w", ErrSessionFailed, s.failure))
	}

	if record, ok := s.received[index]; ok {
		if record.fingerprint != digest {
			if s.state == StateComplete {
				return SubmitResult{}, true, chunkError(s.id, index,
					fmt.Errorf("%w: chunk differs from the assembled artifact", ErrAlreadyComplete))
			}
			return SubmitResult{}, true, chunkError(s.id, index,
				fmt.Errorf("%w: index already holds %s, submitted %s", ErrChunkHashMismatch, record.fingerprint, digest))
		}
		s.lastActivity = c.clock.Now()
		return SubmitResult{
			Outcome:       OutcomeDuplicate,
			Index:         index,
			Fingerprint:   digest,
			ReceivedCount: len(s.received),
			Complete:      s.state == StateComplete,
		}, true, nil
	}

	// A complete session holds every index, so an unseen index here
	// means the session is still active.
	if s.totalSize > 0 && s.receivedBytes+length > s.totalSize {
		return SubmitResult{}, true, chunkError(s.id, index,
			fmt.Errorf("%w: %d bytes held, chunk adds %d, declared total %d",
				ErrCapacityExceeded, s.receivedBytes, length, s.totalSize))
	}
	if s.totalSize > 0 && len(s.received) == s.expectedChunks-1 && s.receivedBytes+length != s.totalSize {
		return SubmitResult{}, true, chunkError(s.id, index,
			fmt.Errorf("%w: final chunk leaves %d of %d declared bytes",
				ErrChunkSizeMismatch, s.receivedBytes+length, s.totalSize))
	}

	s.lastActivity = c.clock.Now()
	return SubmitResult{}, false, nil
}

// stage writes payload to the area's staging directory, retrying
// transient failures.
func (c *chunkStore) stage(s *session, area *scratch.Area, index int, payload []byte) (*scratch.Staged, error) {
	var lastErr error
	for attempt := 1; attempt <= c.writeAttempts; attempt++ {
		staged, err := area.Stage(index, payload)
		if err == nil {
			return staged, nil
		}
		lastErr = err
		c.logger.Warn("staging chunk failed",
			"upload_id", s.id,
			"chunk_index", index,
			"attempt", attempt,
			"error", err,
		)
		if attempt < c.writeAttempts && c.retryDelay > 0 {
			c.clock.Sleep(c.retryDelay)
		}
	}
	return nil, lastErr
}

// stageFailed settles a submission whose bytes could not be written.
// The session may have moved on meanwhile (cancelled, expired, or
// completed by a concurrent duplicate); that outcome is reported
// as-is. Otherwise the session fails.
func (c *chunkStore) stageFailed(s *session, index int, digest fingerprint.Fingerprint, length int64, cause error) (SubmitResult, *Plan, error) {
	s.mu.Lock()
	result, done, err := c.admitLocked(s, index, digest, length)
	if done || err != nil {
		s.mu.Unlock()
		return result, nil, err
	}
	failure := fmt.Errorf("%w: writing chunk %d: %w", ErrIOFailure, index, cause)
	released := s.terminateLocked(StateFailed, c.clock.Now(), failure, c.retainFailed)
	s.mu.Unlock()

	c.logger.Error("session failed: chunk storage exhausted retries",
		"upload_id", s.id,
		"chunk_index", index,
		"attempts", c.writeAttempts,
		"error", cause,
	)
	releaseArea(c.logger, released)
	return SubmitResult{}, nil, chunkError(s.id, index, failure)
}

// commit renames a staged chunk into place after repeating the
// admission checks, which may have changed while the bytes were
// written. The rename and the record update happen under one
// acquisition of the session lock, as does the completeness check.
func (c *chunkStore) commit(s *session, staged *scratch.Staged, index int, digest fingerprint.Fingerprint, length int64) (SubmitResult, *Plan, error) {
	s.mu.Lock()
	result, done, err := c.admitLocked(s, index, digest, length)
	if done || err != nil {
		s.mu.Unlock()
		staged.Discard()
		return result, nil, err
	}

	if err := staged.Commit(); err != nil {
		failure := fmt.Errorf("%w: %w", ErrIOFailure, err)
		released := s.terminateLocked(StateFailed, c.clock.Now(), failure, c.retainFailed)
		s.mu.Unlock()

		c.logger.Error("session failed: committing chunk",
			"upload_id", s.id,
			"chunk_index", index,
			"error", err,
		)
		releaseArea(c.logger, released)
		return SubmitResult{}, nil, chunkError(s.id, index, failure)
	}
	defer s.mu.Unlock()

	s.received[index] = chunkRecord{
		length:       length,
		storedLength: staged.StoredLength,
		compression:  staged.Compression,
		fingerprint:  digest,
	}
	s.receivedBytes += length

	result = SubmitResult{
		Outcome:       OutcomeAccepted,
		Index:         index,
		Fingerprint:   digest,
		ReceivedCount: len(s.received),
	}

	if !s.completeLocked() {
		return result, nil, nil
	}
	s.assembling = true
	plan := s.planLocked()
	return result, &plan, nil
}

// releaseArea deletes a detached scratch area, logging failures. A nil
// area is ignored.
func releaseArea(logger *slog.Logger, area *scratch.Area) {
	if area == nil {
		return
	}
	if err := area.Release(); err != nil {
		logger.Error("releasing scratch area", "upload_id", area.ID(), "error", err)
	}
}

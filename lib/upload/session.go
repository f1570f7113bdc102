// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

// State is a session's lifecycle state. Transitions only leave
// StateActive; the other three are terminal.
type State uint8

const (
	StateActive State = iota + 1
	StateComplete
	StateFailed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateActive; candidate <= StateExpired; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool { return s != StateActive }

// chunkRecord is what the session remembers about an accepted chunk.
// The bytes themselves live in the scratch area.
type chunkRecord struct {
	length       int64
	storedLength int64
	compression  scratch.Compression
	fingerprint  fingerprint.Fingerprint
}

// session is the engine's internal record of one upload. All mutable
// fields are guarded by mu. The identity fields above mu are fixed at
// registration.
type session struct {
	id             string
	name           string
	expectedChunks int
	totalSize      int64
	chunkSize      int64
	algorithm      fingerprint.Algorithm
	expectedDigest fingerprint.Fingerprint
	createdAt      time.Time

	mu            sync.Mutex
	state         State
	lastActivity  time.Time
	received      map[int]chunkRecord
	receivedBytes int64

	// assembling is set, exactly once, by the submission that
	// completes the received set, and cleared when assembly ends.
	assembling bool

	// area is nil once the scratch area has been released or handed
	// off for release.
	area *scratch.Area

	artifact *Artifact
	failure  error

	// finalizing counts Finalize calls that have read the artifact and
	// not yet removed the session. The reaper leaves such sessions
	// alone.
	finalizing int

	// terminalAt is when the session left StateActive; the reaper
	// purges the tombstone tombstone_ttl later.
	terminalAt time.Time

	// removed is set when the session has been taken out of the
	// registry by Cancel or Finalize. A submitter that looked the
	// session up earlier sees ErrUnknownSession.
	removed bool
}

// artifactName is the file name the session's artifact is written
// under. It is fixed at registration.
func (s *session) artifactName() string {
	if s.name != "" {
		return s.name
	}
	return s.id
}

// completeLocked reports whether every index has been received.
func (s *session) completeLocked() bool {
	return len(s.received) == s.expectedChunks
}

// terminateLocked moves an active session into a terminal state and detaches
// its scratch area. The caller releases the returned area, if any,
// after unlocking.
func (s *session) terminateLocked(state State, now time.Time, failure error, keepArea bool) *scratch.Area {
	s.state = state
	s.terminalAt = now
	s.failure = failure
	s.assembling = false
	if keepArea {
		return nil
	}
	area := s.area
	s.area = nil
	return area
}

// detachAreaLocked hands the scratch area to the caller for release.
func (s *session) detachAreaLocked() *scratch.Area {
	area := s.area
	s.area = nil
	return area
}

// Status is a point-in-time view of a session.
type Status struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	State          State     `json:"state"`
	ExpectedChunks int       `json:"expected_chunks"`
	ReceivedCount  int       `json:"received_count"`
	MissingIndices []int     `json:"missing_indices"`
	ReceivedBytes  int64     `json:"received_bytes"`
	TotalSize      int64     `json:"total_size,omitempty"`
	ChunkSize      int64     `json:"chunk_size,omitempty"`
	Algorithm      string    `json:"algorithm"`
	Assembling     bool      `json:"assembling"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`

	// Failure describes why a failed session failed.
	Failure string `json:"failure,omitempty"`

	// Artifact is set once the session is complete.
	Artifact *Artifact `json:"artifact,omitempty"`
}

func (s *session) statusLocked() Status {
	status := Status{
		ID:             s.id,
		Name:           s.name,
		State:          s.state,
		ExpectedChunks: s.expectedChunks,
		ReceivedCount:  len(s.received),
		ReceivedBytes:  s.receivedBytes,
		TotalSize:      s.totalSize,
		ChunkSize:      s.chunkSize,
		Algorithm:      s.algorithm.String(),
		Assembling:     s.assembling,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		Artifact:       s.artifact,
	}
	if s.failure != nil {
		status.Failure = s.failure.Error()
	}
	status.MissingIndices = make([]int, 0, s.expectedChunks-len(s.received))
	for index := range s.expectedChunks {
		if _, ok := s.received[index]; !ok {
			status.MissingIndices = append(status.MissingIndices, index)
		}
	}
	return status
}

// planLocked captures what the assembler needs from a complete
// session.
func (s *session) planLocked() Plan {
	chunks := make([]PlanChunk, 0, len(s.received))
	for index, record := range s.received {
		chunks = append(chunks, PlanChunk{
			Index:       index,
			Length:      record.length,
			Fingerprint: record.fingerprint,
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	var offset int64
	for i := range chunks {
		chunks[i].Offset = offset
		offset += chunks[i].Length
	}

	return Plan{
		ID:             s.id,
		Name:           s.artifactName(),
		Area:           s.area,
		Chunks:         chunks,
		Size:           offset,
		Algorithm:      s.algorithm,
		ExpectedDigest: s.expectedDigest,
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// registry maps session ids to sessions. The map is split into shards,
// each with its own mutex, so registrations and lookups for unrelated
// sessions rarely touch the same lock. Shard locks guard only the maps
// and are never held while a session lock is taken or I/O runs.
type registry struct {
	shards      []*registryShard
	maxSessions int

	// count is reserved before insertion and released on failure, so
	// concurrent registrations never overshoot maxSessions.
	count atomic.Int64

	// names maps each artifact name to the session that will write it.
	// Two registered sessions never share an artifact name.
	namesMu sync.Mutex
	names   map[string]*session
}

type registryShard struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry(shards, maxSessions int) *registry {
	if shards < 1 {
		shards = 1
	}
	r := &registry{
		shards:      make([]*registryShard, shards),
		maxSessions: maxSessions,
		names:       make(map[string]*session),
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{sessions: make(map[string]*session)}
	}
	return r
}

func (r *registry) shardFor(id string) *registryShard {
	return r.shards[xxhash.Sum64String(id)%uint64(len(r.shards))]
}

// insert adds s. It fails with ErrDuplicateSession if the id is
// present in any state or another session claims the same artifact
// name, and with ErrCapacityExceeded when the session limit is
// reached.
func (r *registry) insert(s *session) error {
	reserved := r.count.Add(1)

	shard := r.shardFor(s.id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.sessions[s.id]; exists {
		r.count.Add(-1)
		return ErrDuplicateSession
	}
	if r.maxSessions > 0 && reserved > int64(r.maxSessions) {
		r.count.Add(-1)
		return ErrCapacityExceeded
	}

	name := s.artifactName()
	r.namesMu.Lock()
	if owner, taken := r.names[name]; taken {
		r.namesMu.Unlock()
		r.count.Add(-1)
		return fmt.Errorf("%w: artifact name %q is claimed by session %s", ErrDuplicateSession, name, owner.id)
	}
	r.names[name] = s
	r.namesMu.Unlock()

	shard.sessions[s.id] = s
	return nil
}

func (r *registry) get(id string) (*session, error) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	s, ok := shard.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (r *registry) contains(id string) bool {
	_, err := r.get(id)
	return err == nil
}

// remove deletes id if it still maps to s. Removing a session that is
// already gone, or whose id has been reused, does nothing.
func (r *registry) remove(id string, s *session) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if current, ok := shard.sessions[id]; ok && current == s {
		delete(shard.sessions, id)
		r.count.Add(-1)

		name := s.artifactName()
		r.namesMu.Lock()
		if r.names[name] == s {
			delete(r.names, name)
		}
		r.namesMu.Unlock()
	}
}

// snapshot returns every registered session, taken one shard at a
// time. Sessions registered or removed during the walk may or may not
// appear.
func (r *registry) snapshot() []*session {
	var sessions []*session
	for _, shard := range r.shards {
		shard.mu.Lock()
		for _, s := range shard.sessions {
			sessions = append(sessions, s)
		}
		shard.mu.Unlock()
	}
	return sessions
}

func (r *registry) len() int {
	return int(r.count.Load())
}

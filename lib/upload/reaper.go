// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

// Reaper expires idle sessions and purges terminal ones. It snapshots
// the registry, then locks sessions one at a time; scratch areas are
// deleted after the session lock is dropped.
//
// A complete session that nobody finalizes within the tombstone TTL
// is treated as abandoned: its artifact file is deleted along with the
// tombstone, and the id and artifact name become free again.
type Reaper struct {
	registry     *registry
	clock        clock.Clock
	logger       *slog.Logger
	interval     time.Duration
	ttl          time.Duration
	tombstoneTTL time.Duration
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	// Expired is the number of active sessions that timed out.
	Expired int

	// Purged is the number of terminal sessions removed from the
	// registry.
	Purged int
}

// Sweep runs one pass. It stops early, returning what it has done so
// far, if ctx is cancelled.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	for _, s := range r.registry.snapshot() {
		if ctx.Err() != nil {
			return result
		}
		expired, purged := r.sweepSession(s)
		if expired {
			result.Expired++
		}
		if purged {
			result.Purged++
		}
	}
	return result
}

func (r *Reaper) sweepSession(s *session) (expired, purged bool) {
	now := r.clock.Now()
	var released *scratch.Area
	var abandoned *Artifact

	s.mu.Lock()
	switch {
	case s.removed:
	case s.state == StateActive:
		// An assembling session has all its chunks and is not idle.
		if !s.assembling && now.Sub(s.lastActivity) > r.ttl {
			released = s.terminateLocked(StateExpired, now, nil, false)
			expired = true
		}
	case s.finalizing > 0:
	case now.Sub(s.terminalAt) > r.tombstoneTTL:
		s.removed = true
		released = s.detachAreaLocked()
		abandoned = s.artifact
		s.artifact = nil
		purged = true
	}
	idle := now.Sub(s.lastActivity)
	state := s.state
	s.mu.Unlock()

	if expired {
		r.logger.Info("session expired",
			"upload_id", s.id,
			"idle", idle,
			"ttl", r.ttl,
		)
	}
	if abandoned != nil {
		discardArtifact(r.logger, abandoned)
		r.logger.Info("discarded unfinalized artifact", "upload_id", s.id, "path", abandoned.Path)
	}
	if purged {
		r.registry.remove(s.id, s)
		r.logger.Debug("session tombstone purged", "upload_id", s.id, "state", state.String())
	}
	releaseArea(r.logger, released)
	return expired, purged
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := r.Sweep(ctx)
			if result.Expired > 0 || result.Purged > 0 {
				r.logger.Debug("reaper sweep",
					"expired", result.Expired,
					"purged", result.Purged,
					"sessions", r.registry.len(),
				)
			}
		}
	}
}

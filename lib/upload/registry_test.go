// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryInsertGetRemove(t *testing.T) {
	r := newRegistry(8, 0)
	first := &session{id: "alpha"}

	if err := r.insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.insert(&session{id: "alpha"}); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second insert = %v, want ErrDuplicateSession", err)
	}
	got, err := r.get("alpha")
	if err != nil || got != first {
		t.Fatalf("get = %p, %v", got, err)
	}

	// Removing with a different session pointer leaves the entry.
	r.remove("alpha", &session{id: "alpha"})
	if !r.contains("alpha") {
		t.Fatal("remove with a stale pointer deleted the session")
	}

	r.remove("alpha", first)
	r.remove("alpha", first)
	if _, err := r.get("alpha"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("get after remove = %v, want ErrUnknownSession", err)
	}
	if r.len() != 0 {
		t.Errorf("len = %d, want 0", r.len())
	}
}

func TestRegistryArtifactNameClaims(t *testing.T) {
	r := newRegistry(8, 0)
	named := &session{id: "one", name: "out.bin"}
	unnamed := &session{id: "plain"}
	for _, s := range []*session{named, unnamed} {
		if err := r.insert(s); err != nil {
			t.Fatalf("insert(%s): %v", s.id, err)
		}
	}
	if err := r.insert(&session{id: "two", name: "out.bin"}); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("insert with a claimed name = %v, want ErrDuplicateSession", err)
	}
	if err := r.insert(&session{id: "three", name: "plain"}); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("insert naming another session's id = %v, want ErrDuplicateSession", err)
	}
	if r.len() != 2 {
		t.Errorf("rejected inserts left len = %d, want 2", r.len())
	}

	r.remove("one", named)
	if err := r.insert(&session{id: "two", name: "out.bin"}); err != nil {
		t.Errorf("insert after the claim was released: %v", err)
	}
}

func TestRegistrySpreadsAcrossShards(t *testing.T) {
	r := newRegistry(16, 0)
	for i := range 1000 {
		if err := r.insert(&session{id: fmt.Sprintf("session-%d", i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for index, shard := range r.shards {
		if len(shard.sessions) == 0 {
			t.Errorf("shard %d is empty after 1000 inserts", index)
		}
	}
	if got := len(r.snapshot()); got != 1000 {
		t.Errorf("snapshot has %d sessions, want 1000", got)
	}
}

func TestRegistryConcurrentInsertRespectsLimit(t *testing.T) {
	const limit = 10
	r := newRegistry(4, limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.insert(&session{id: fmt.Sprintf("s-%d", i)})
			if err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			} else if !errors.Is(err, ErrCapacityExceeded) {
				t.Errorf("insert: %v", err)
			}
		}()
	}
	wg.Wait()

	if inserted != limit || r.len() != limit {
		t.Errorf("inserted %d, len %d; want %d", inserted, r.len(), limit)
	}
}

func TestRegistryConcurrentDuplicateInsert(t *testing.T) {
	r := newRegistry(4, 0)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.insert(&session{id: "contested"}) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("%d inserts of the same id succeeded, want 1", winners)
	}
	if r.len() != 1 {
		t.Errorf("len = %d, want 1", r.len())
	}
}

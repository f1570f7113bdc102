// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for the reassembly
// packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so individual tests never call time.After directly. They are
// the only place tests wait on the wall clock; everything else drives
// time through a fake clock.
//
// [Payload] and [Split] build deterministic upload payloads and cut
// them into chunks. [UniqueID] hands out session identifiers that do
// not collide across parallel tests.
//
// All helpers fail the test with t.Fatalf instead of returning errors.
package testutil

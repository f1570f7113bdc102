// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Reassembly-service accepts chunked uploads over HTTP, reassembles
// each upload into a single artifact once every chunk has arrived, and
// records finalized artifacts in a SQLite catalog.
//
// Configuration comes from the YAML file named by --config or the
// REASSEMBLY_CONFIG environment variable. Scratch areas left by a
// previous run are discarded at startup. SIGINT or SIGTERM stops
// accepting requests, waits for in-flight assemblies, and removes the
// scratch areas of unfinished sessions.
package main

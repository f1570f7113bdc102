// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// every reassembly store uses.
//
// It wraps zombiezen.com/go/sqlite/sqlitex. Callers borrow a
// connection with [Pool.Take] and return it with [Pool.Put], or let
// [Pool.With] and [Pool.WithTx] do both. Connections are not safe for
// concurrent use.
//
// Every connection runs with WAL journaling, a five second busy
// timeout, and in-memory temp storage. The synchronous level is
// configurable: NORMAL survives process crashes, FULL also survives
// power loss at the cost of an fsync per commit.
//
// [Config].Schema is applied on every new connection; write it with
// CREATE ... IF NOT EXISTS.
package sqlitepool

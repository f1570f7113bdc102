// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog records finalized artifacts in SQLite so that the
// upload engine can answer repeated Finalize calls after a session is
// gone, and so operators can list what has been delivered.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/sqlitepool"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL,
	chunks       INTEGER NOT NULL,
	digest       TEXT NOT NULL,
	location     TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL,
	finalized_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_finalized_at ON artifacts (finalized_at);
`

// Catalog is a SQLite-backed upload.Catalog.
type Catalog struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

var _ upload.Catalog = (*Catalog)(nil)

// Open opens (creating if needed) the catalog database at path.
func Open(path string, clk clock.Clock, logger *slog.Logger) (*Catalog, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        path,
		Synchronous: sqlitepool.SynchronousFull,
		Schema:      schema,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Catalog{pool: pool, clock: clk}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.pool.Close()
}

// Record stores artifact. Recording an id a second time keeps the
// first entry.
func (c *Catalog) Record(ctx context.Context, artifact *upload.Artifact) error {
	return c.pool.WithTx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO artifacts (id, name, path, size, chunks, digest, location, completed_at, finalized_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{
					artifact.ID,
					artifact.Name,
					artifact.Path,
					artifact.Size,
					artifact.Chunks,
					artifact.Digest.String(),
					artifact.Location,
					formatTime(artifact.CompletedAt),
					formatTime(c.clock.Now()),
				},
			})
	})
}

// Lookup returns the artifact recorded for id, or nil if there is
// none.
func (c *Catalog) Lookup(ctx context.Context, id string) (*upload.Artifact, error) {
	var found *upload.Artifact
	err := c.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+" FROM artifacts WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				artifact, err := scanArtifact(stmt)
				if err != nil {
					return err
				}
				found = artifact
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", id, err)
	}
	return found, nil
}

// Entry is a recorded artifact with the time it was finalized.
type Entry struct {
	upload.Artifact
	FinalizedAt time.Time `json:"finalized_at"`
}

// List returns up to limit entries, most recently finalized first.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := c.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+", finalized_at FROM artifacts ORDER BY finalized_at DESC, id LIMIT ?",
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					artifact, err := scanArtifact(stmt)
					if err != nil {
						return err
					}
					finalizedAt, err := parseTime(stmt.ColumnText(8))
					if err != nil {
						return err
					}
					entries = append(entries, Entry{Artifact: *artifact, FinalizedAt: finalizedAt})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return entries, nil
}

const selectColumns = `SELECT id, name, path, size, chunks, digest, location, completed_at`

func scanArtifact(stmt *sqlite.Stmt) (*upload.Artifact, error) {
	digest, err := fingerprint.Parse(stmt.ColumnText(5))
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", stmt.ColumnText(0), err)
	}
	completedAt, err := parseTime(stmt.ColumnText(7))
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", stmt.ColumnText(0), err)
	}
	return &upload.Artifact{
		ID:          stmt.ColumnText(0),
		Name:        stmt.ColumnText(1),
		Path:        stmt.ColumnText(2),
		Size:        stmt.ColumnInt64(3),
		Chunks:      stmt.ColumnInt(4),
		Digest:      digest,
		Location:    stmt.ColumnText(6),
		CompletedAt: completedAt,
	}, nil
}

// timeLayout has fixed-width fractional seconds so that stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(text string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, text)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the reassembly
// binaries.
//
// [Version], [GitCommit], [GitDirty] and [BuildTime] may be injected
// with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/reassembly/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not, the VCS stamp the Go toolchain embeds in the
// binary is used instead, so plain "go build" and "go install" still
// report a commit.
package version

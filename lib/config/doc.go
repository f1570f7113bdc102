// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration for the reassembly
// service and CLI.
//
// Configuration comes from a single file named either by the
// REASSEMBLY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no search path and no discovery.
//
// A file may carry development, staging, and production sections
// whose non-zero fields override the base values when
// [Config].Environment matches. After overrides, ${VAR} and
// ${VAR:-default} patterns in path fields are expanded; ${REASSEMBLY_ROOT}
// refers to paths.root.
//
// Durations are written as Go duration strings ("90s", "15m") and
// decode into [Duration].
//
// This package depends on no other reassembly packages.
package config

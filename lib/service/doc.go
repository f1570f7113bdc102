// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the scaffolding shared by long-running
// reassembly binaries: the standard structured logger and an HTTP
// server with context-driven graceful shutdown.
//
// Binaries compose these pieces in their own main() rather than
// handing control to a framework.
package service

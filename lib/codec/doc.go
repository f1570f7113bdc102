// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for on-disk state.
//
// External interfaces (the HTTP service, CLI output) speak JSON. Files
// the engine writes for itself, such as the per-upload scratch
// manifest, are CBOR with Core Deterministic Encoding (RFC 8949 §4.2),
// so the same manifest always produces the same bytes. Struct types may
// carry only json tags: fxamacker/cbor falls back to them, which lets a
// single type serve both encoders.
package codec

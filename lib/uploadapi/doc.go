// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package uploadapi is the HTTP face of the upload engine: a Handler
// that maps engine operations onto routes, and a Client that speaks
// the same protocol.
//
// Routes:
//
//	POST   /uploads                      register (JSON upload.RegisterRequest)
//	GET    /uploads                      list sessions
//	GET    /uploads/{id}                 session status
//	PUT    /uploads/{id}/chunks/{index}  submit a chunk (raw body)
//	POST   /uploads/{id}/finalize        200 with the artifact, 202 while pending
//	DELETE /uploads/{id}                 cancel
//	GET    /artifacts?limit=N            finalized artifacts, newest first
//	GET    /healthz                      liveness
//
// Errors are JSON [ErrorResponse] bodies whose kind field names the
// upload sentinel. The client turns them back into errors that match
// those sentinels under errors.Is.
package uploadapi

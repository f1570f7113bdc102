// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Reassembly is the command-line client for reassembly-service. It
// pushes files as shuffled, parallel chunk uploads and inspects or
// cancels sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	a := &app{stdout: os.Stdout, stderr: os.Stderr, httpClient: http.DefaultClient}
	return a.root().Execute(ctx, os.Args[1:], os.Stderr)
}

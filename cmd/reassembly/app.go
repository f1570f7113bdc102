// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/reassembly/lib/uploadapi"
	"github.com/bureau-foundation/reassembly/lib/version"
)

// serverEnvironmentVariable overrides the default --server value.
const serverEnvironmentVariable = "REASSEMBLY_SERVER"

const defaultServer = "http://127.0.0.1:8470"

// app carries the process-level dependencies commands write to, so
// tests can capture output and point at an httptest server.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	httpClient *http.Client
}

func (a *app) root() *Command {
	return &Command{
		Name:    "reassembly",
		Summary: "Upload files in chunks to a reassembly service and manage upload sessions.",
		Subcommands: []*Command{
			a.pushCommand(),
			a.statusCommand(),
			a.listCommand(),
			a.finalizeCommand(),
			a.cancelCommand(),
			a.artifactsCommand(),
			a.manifestCommand(),
			a.versionCommand(),
		},
	}
}

func (a *app) client(server string) *uploadapi.Client {
	return uploadapi.New(server, a.httpClient)
}

// connectionFlags binds the flags shared by every command that talks
// to the service.
type connectionFlags struct {
	server string
	json   bool
}

func (c *connectionFlags) bind(flags *pflag.FlagSet) {
	server := os.Getenv(serverEnvironmentVariable)
	if server == "" {
		server = defaultServer
	}
	flags.StringVar(&c.server, "server", server, "service base URL (env "+serverEnvironmentVariable+")")
	flags.BoolVar(&c.json, "json", false, "output as JSON")
}

func (a *app) writeJSON(value any) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *app) versionCommand() *Command {
	return &Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(_ context.Context, _ []string) error {
			fmt.Fprintln(a.stdout, version.Full())
			return nil
		},
	}
}

func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

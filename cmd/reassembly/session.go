// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/reassembly/lib/upload"
)

func (a *app) statusCommand() *Command {
	var params connectionFlags
	return &Command{
		Name:    "status",
		Summary: "Show a session's progress",
		Usage:   "reassembly status <id> [flags]",
		Flags: func() *pflag.FlagSet {
			params = connectionFlags{}
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			params.bind(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "reassembly status <id>"); err != nil {
				return err
			}
			status, err := a.client(params.server).Status(ctx, args[0])
			if err != nil {
				return err
			}
			return a.printStatus(status, params.json)
		},
	}
}

func (a *app) printStatus(status upload.Status, asJSON bool) error {
	if asJSON {
		return a.writeJSON(status)
	}
	fmt.Fprintf(a.stdout, "id:        %s\n", status.ID)
	if status.Name != "" {
		fmt.Fprintf(a.stdout, "name:      %s\n", status.Name)
	}
	state := status.State.String()
	if status.Assembling {
		state += " (assembling)"
	}
	fmt.Fprintf(a.stdout, "state:     %s\n", state)
	fmt.Fprintf(a.stdout, "received:  %d/%d chunks, %d bytes\n",
		status.ReceivedCount, status.ExpectedChunks, status.ReceivedBytes)
	if len(status.MissingIndices) > 0 {
		fmt.Fprintf(a.stdout, "missing:   %s\n", formatIndices(status.MissingIndices, 16))
	}
	if status.Failure != "" {
		fmt.Fprintf(a.stdout, "failure:   %s\n", status.Failure)
	}
	if status.Artifact != nil {
		fmt.Fprintf(a.stdout, "artifact:  %s\n", status.Artifact.Path)
	}
	return nil
}

// formatIndices prints up to limit indices and a count of the rest.
func formatIndices(indices []int, limit int) string {
	var builder strings.Builder
	for position, index := range indices {
		if position == limit {
			fmt.Fprintf(&builder, " ... (%d more)", len(indices)-limit)
			break
		}
		if position > 0 {
			builder.WriteByte(' ')
		}
		fmt.Fprintf(&builder, "%d", index)
	}
	return builder.String()
}

func (a *app) listCommand() *Command {
	var params connectionFlags
	return &Command{
		Name:    "list",
		Summary: "List registered sessions",
		Flags: func() *pflag.FlagSet {
			params = connectionFlags{}
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.bind(flags)
			return flags
		},
		Run: func(ctx context.Context, _ []string) error {
			sessions, err := a.client(params.server).Sessions(ctx)
			if err != nil {
				return err
			}
			if params.json {
				if sessions == nil {
					sessions = []upload.Status{}
				}
				return a.writeJSON(sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.stdout, "no sessions")
				return nil
			}
			writer := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "ID\tSTATE\tCHUNKS\tBYTES\tIDLE")
			for _, status := range sessions {
				fmt.Fprintf(writer, "%s\t%s\t%d/%d\t%d\t%s\n",
					status.ID, status.State, status.ReceivedCount, status.ExpectedChunks,
					status.ReceivedBytes, time.Since(status.LastActivity).Round(time.Second))
			}
			return writer.Flush()
		},
	}
}

func (a *app) finalizeCommand() *Command {
	var params connectionFlags
	return &Command{
		Name:    "finalize",
		Summary: "Acknowledge a complete session and print its artifact",
		Usage:   "reassembly finalize <id> [flags]",
		Flags: func() *pflag.FlagSet {
			params = connectionFlags{}
			flags := pflag.NewFlagSet("finalize", pflag.ContinueOnError)
			params.bind(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "reassembly finalize <id>"); err != nil {
				return err
			}
			artifact, err := a.client(params.server).Finalize(ctx, args[0])
			if errors.Is(err, upload.ErrPending) {
				fmt.Fprintf(a.stderr, "%s is not complete yet\n", args[0])
				return &ExitError{Code: 2}
			}
			if err != nil {
				return err
			}
			return a.printArtifact(artifact, params.json)
		},
	}
}

func (a *app) cancelCommand() *Command {
	var params connectionFlags
	return &Command{
		Name:    "cancel",
		Summary: "Abort a session and discard its chunks",
		Usage:   "reassembly cancel <id> [flags]",
		Flags: func() *pflag.FlagSet {
			params = connectionFlags{}
			flags := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
			params.bind(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "reassembly cancel <id>"); err != nil {
				return err
			}
			if err := a.client(params.server).Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "cancelled %s\n", args[0])
			return nil
		},
	}
}

func (a *app) artifactsCommand() *Command {
	var (
		params connectionFlags
		limit  int
	)
	return &Command{
		Name:    "artifacts",
		Summary: "List finalized artifacts, newest first",
		Flags: func() *pflag.FlagSet {
			params = connectionFlags{}
			flags := pflag.NewFlagSet("artifacts", pflag.ContinueOnError)
			params.bind(flags)
			flags.IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
			return flags
		},
		Run: func(ctx context.Context, _ []string) error {
			entries, err := a.client(params.server).Artifacts(ctx, limit)
			if err != nil {
				return err
			}
			if params.json {
				return a.writeJSON(entries)
			}
			writer := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "ID\tSIZE\tDIGEST\tFINALIZED\tPATH")
			for _, entry := range entries {
				fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
					entry.ID, entry.Size, entry.Digest, entry.FinalizedAt.Format(time.RFC3339), entry.Path)
			}
			return writer.Flush()
		},
	}
}

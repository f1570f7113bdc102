// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/reassembly/lib/codec"
	"github.com/bureau-foundation/reassembly/lib/scratch"
)

func (a *app) manifestCommand() *Command {
	var (
		asJSON     bool
		diagnostic bool
	)
	return &Command{
		Name:    "manifest",
		Summary: "Print the manifest of a scratch area on local disk",
		Usage:   "reassembly manifest <area-directory> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("manifest", pflag.ContinueOnError)
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			flags.BoolVar(&diagnostic, "diagnostic", false, "print the raw CBOR in diagnostic notation")
			return flags
		},
		Run: func(_ context.Context, args []string) error {
			if err := requireArgs(args, 1, "reassembly manifest <area-directory>"); err != nil {
				return err
			}
			directory := args[0]

			if diagnostic {
				data, err := os.ReadFile(filepath.Join(directory, scratch.ManifestFile))
				if err != nil {
					return err
				}
				notation, err := codec.Diagnose(data)
				if err != nil {
					return fmt.Errorf("decoding %s: %w", scratch.ManifestFile, err)
				}
				fmt.Fprintln(a.stdout, notation)
				return nil
			}

			manifest, err := scratch.ReadManifest(directory)
			if err != nil {
				return err
			}
			if asJSON {
				return a.writeJSON(manifest)
			}
			fmt.Fprintf(a.stdout, "id:          %s\n", manifest.ID)
			if manifest.Name != "" {
				fmt.Fprintf(a.stdout, "name:        %s\n", manifest.Name)
			}
			fmt.Fprintf(a.stdout, "chunks:      %d\n", manifest.ExpectedChunks)
			if manifest.TotalSize > 0 {
				fmt.Fprintf(a.stdout, "total size:  %d\n", manifest.TotalSize)
			}
			fmt.Fprintf(a.stdout, "algorithm:   %s\n", manifest.Algorithm)
			fmt.Fprintf(a.stdout, "compression: %s\n", manifest.Compression)
			fmt.Fprintf(a.stdout, "created:     %s\n", manifest.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

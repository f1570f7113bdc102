// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesNestedCommands(t *testing.T) {
	var called string
	var received []string
	var verbose bool

	root := &Command{
		Name: "reassembly",
		Subcommands: []*Command{
			{
				Name: "session",
				Subcommands: []*Command{
					{
						Name: "show",
						Flags: func() *pflag.FlagSet {
							flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
							flags.BoolVarP(&verbose, "verbose", "v", false, "")
							return flags
						},
						Run: func(_ context.Context, args []string) error {
							called = "session show"
							received = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"session", "show", "-v", "abc"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "session show" || !verbose {
		t.Errorf("called = %q, verbose = %v", called, verbose)
	}
	if len(received) != 1 || received[0] != "abc" {
		t.Errorf("args = %v, want [abc]", received)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	root := (&app{}).root()
	err := root.Execute(context.Background(), []string{"stauts"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), `did you mean "status"`) {
		t.Fatalf("error = %v, want a suggestion for status", err)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	root := (&app{}).root()
	err := root.Execute(context.Background(), []string{"push", "--chunk-sise", "10", "file"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "did you mean --chunk-size") {
		t.Fatalf("error = %v, want a suggestion for --chunk-size", err)
	}
}

func TestHelpListsCommands(t *testing.T) {
	var help bytes.Buffer
	if err := (&app{}).root().Execute(context.Background(), []string{"--help"}, &help); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range []string{"push", "status", "cancel", "finalize", "artifacts", "manifest"} {
		if !strings.Contains(help.String(), name) {
			t.Errorf("help does not list %s:\n%s", name, help.String())
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "push", 4},
		{"push", "push", 0},
		{"psuh", "push", 2},
		{"cancl", "cancel", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestFormatIndices(t *testing.T) {
	if got := formatIndices([]int{0, 4, 9}, 16); got != "0 4 9" {
		t.Errorf("formatIndices = %q", got)
	}
	if got := formatIndices([]int{1, 2, 3, 4, 5}, 2); got != "1 2 ... (3 more)" {
		t.Errorf("formatIndices = %q", got)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

type pushParams struct {
	connectionFlags
	id        string
	name      string
	chunkSize int64
	parallel  int
	algorithm string
	ordered   bool
	finalize  bool
}

func (a *app) pushCommand() *Command {
	var params pushParams
	return &Command{
		Name:    "push",
		Summary: "Upload a file as a chunked session",
		Usage:   "reassembly push <file> [flags]",
		Flags: func() *pflag.FlagSet {
			params = pushParams{}
			flags := pflag.NewFlagSet("push", pflag.ContinueOnError)
			params.connectionFlags.bind(flags)
			flags.StringVar(&params.id, "id", "", "session id (default: a random UUID)")
			flags.StringVar(&params.name, "name", "", "artifact name (default: the file's base name)")
			flags.Int64Var(&params.chunkSize, "chunk-size", 4<<20, "chunk size in bytes")
			flags.IntVarP(&params.parallel, "parallel", "p", 4, "chunks in flight at once")
			flags.StringVar(&params.algorithm, "algorithm", "xxh64", "fingerprint algorithm: xxh64 or blake3")
			flags.BoolVar(&params.ordered, "ordered", false, "submit chunks in index order instead of shuffled")
			flags.BoolVar(&params.finalize, "finalize", true, "acknowledge the artifact once assembled")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "reassembly push <file> [flags]"); err != nil {
				return err
			}
			return a.push(ctx, args[0], params)
		},
	}
}

func (a *app) push(ctx context.Context, path string, params pushParams) error {
	if params.chunkSize < 1 {
		return fmt.Errorf("--chunk-size must be positive")
	}
	if params.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}
	algorithm, err := fingerprint.ParseAlgorithm(params.algorithm)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return fmt.Errorf("%s is empty; there is nothing to upload", path)
	}
	chunkCount := int((size + params.chunkSize - 1) / params.chunkSize)

	hasher, err := fingerprint.NewHasher(algorithm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}

	id := params.id
	if id == "" {
		id = uuid.NewString()
	}
	name := params.name
	if name == "" {
		name = filepath.Base(path)
	}

	client := a.client(params.server)
	status, err := client.Register(ctx, upload.RegisterRequest{
		ID:             id,
		Name:           name,
		ExpectedChunks: chunkCount,
		TotalSize:      size,
		ChunkSize:      params.chunkSize,
		Algorithm:      algorithm,
		ExpectedDigest: hasher.Fingerprint(),
	})
	if err != nil {
		return fmt.Errorf("registering upload: %w", err)
	}
	fmt.Fprintf(a.stderr, "registered %s: %d chunks, %d bytes\n", status.ID, chunkCount, size)

	order := make([]int, chunkCount)
	for index := range order {
		order[index] = index
	}
	if !params.ordered {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var duplicates atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(params.parallel)
	for _, index := range order {
		group.Go(func() error {
			offset := int64(index) * params.chunkSize
			payload := make([]byte, min(params.chunkSize, size-offset))
			if _, err := file.ReadAt(payload, offset); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading chunk %d: %w", index, err)
			}
			result, err := client.SubmitChunk(groupCtx, status.ID, index, payload, fingerprint.Digest(algorithm, payload))
			if err != nil {
				return fmt.Errorf("submitting chunk %d: %w", index, err)
			}
			if result.Outcome == upload.OutcomeDuplicate {
				duplicates.Add(1)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if count := duplicates.Load(); count > 0 {
		fmt.Fprintf(a.stderr, "%d chunks were already present\n", count)
	}

	if !params.finalize {
		current, err := client.Status(ctx, status.ID)
		if err != nil {
			return err
		}
		return a.printStatus(current, params.json)
	}

	artifact, err := client.Finalize(ctx, status.ID)
	if err != nil {
		return fmt.Errorf("finalizing %s: %w", status.ID, err)
	}
	return a.printArtifact(artifact, params.json)
}

func (a *app) printArtifact(artifact *upload.Artifact, asJSON bool) error {
	if asJSON {
		return a.writeJSON(artifact)
	}
	fmt.Fprintf(a.stdout, "id:       %s\n", artifact.ID)
	fmt.Fprintf(a.stdout, "path:     %s\n", artifact.Path)
	fmt.Fprintf(a.stdout, "size:     %d\n", artifact.Size)
	fmt.Fprintf(a.stdout, "chunks:   %d\n", artifact.Chunks)
	fmt.Fprintf(a.stdout, "digest:   %s\n", artifact.Digest)
	if artifact.Location != "" {
		fmt.Fprintf(a.stdout, "location: %s\n", artifact.Location)
	}
	return nil
}

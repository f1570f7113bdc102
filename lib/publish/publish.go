// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish uploads finished artifacts to S3-compatible object
// storage. An [ObjectPublisher] plugs into the upload engine as its
// upload.Publisher: the engine calls it once per assembled artifact
// and records the returned location alongside the artifact.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bureau-foundation/reassembly/lib/upload"
)

// Options configures an ObjectPublisher.
type Options struct {
	// Endpoint is host[:port] of the object store, without a scheme.
	Endpoint string

	Bucket string

	// Prefix is prepended to every object key. Slashes at either end
	// are normalized.
	Prefix string

	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string

	Logger *slog.Logger
}

// ObjectPublisher implements upload.Publisher on minio-go.
type ObjectPublisher struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ upload.Publisher = (*ObjectPublisher)(nil)

// New builds a publisher. It does not contact the object store.
func New(options Options) (*ObjectPublisher, error) {
	var errs []error
	if options.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if strings.Contains(options.Endpoint, "://") {
		errs = append(errs, fmt.Errorf("endpoint %q must not include a scheme", options.Endpoint))
	}
	if options.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("configuring publisher: %w", err)
	}

	client, err := minio.New(options.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(options.AccessKey, options.SecretKey, ""),
		Secure: options.UseSSL,
		Region: options.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client for %s: %w", options.Endpoint, err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ObjectPublisher{
		client: client,
		bucket: options.Bucket,
		prefix: strings.Trim(options.Prefix, "/"),
		logger: logger,
	}, nil
}

// Key returns the object key an artifact is stored under:
// "<prefix>/<id>/<name>".
func (p *ObjectPublisher) Key(artifact *upload.Artifact) string {
	return ObjectKey(p.prefix, artifact)
}

// ObjectKey joins prefix, the artifact id and its file name.
func ObjectKey(prefix string, artifact *upload.Artifact) string {
	name := artifact.Name
	if name == "" {
		name = path.Base(artifact.Path)
	}
	return path.Join(strings.Trim(prefix, "/"), artifact.ID, name)
}

// Location renders the "s3://bucket/key" form recorded for an artifact.
func Location(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// Publish uploads the artifact file. An object that already exists
// with the artifact's size is taken as an earlier successful attempt
// and left alone.
func (p *ObjectPublisher) Publish(ctx context.Context, artifact *upload.Artifact) (string, error) {
	key := p.Key(artifact)
	location := Location(p.bucket, key)

	exists, err := p.exists(ctx, key, artifact.Size)
	if err != nil {
		return "", err
	}
	if exists {
		p.logger.Info("artifact already published",
			"upload_id", artifact.ID,
			"location", location,
		)
		return location, nil
	}

	info, err := p.client.FPutObject(ctx, p.bucket, key, artifact.Path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"upload-id": artifact.ID,
			"digest":    artifact.Digest.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to %s: %w", artifact.Path, location, err)
	}
	if info.Size != artifact.Size {
		return "", fmt.Errorf("uploading %s to %s: stored %d bytes, artifact has %d",
			artifact.Path, location, info.Size, artifact.Size)
	}

	p.logger.Info("artifact published",
		"upload_id", artifact.ID,
		"location", location,
		"size", info.Size,
	)
	return location, nil
}

func (p *ObjectPublisher) exists(ctx context.Context, key string, size int64) (bool, error) {
	info, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return info.Size == size, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", Location(p.bucket, key), err)
}

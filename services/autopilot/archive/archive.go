// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive copies finished cycle records to object storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"google.golang.org/api/option"
)

// Archiver stores completed cycle results outside the KV store, where the
// bounded history cap does not apply.
type Archiver interface {
	ArchiveCycle(ctx context.Context, result datatypes.CycleResult) error
}

// NopArchiver discards everything.
type NopArchiver struct{}

// ArchiveCycle does nothing.
func (NopArchiver) ArchiveCycle(context.Context, datatypes.CycleResult) error { return nil }

// ObjectName returns the object path for a cycle result:
// {prefix}/{account}/{yyyy}/{mm}/{dd}/cycle-{number:06d}-{id}.json.
func ObjectName(prefix string, r datatypes.CycleResult) string {
	day := r.StartedAt.UTC()
	name := fmt.Sprintf("cycle-%06d-%s.json", r.CycleNumber, r.ID)
	return path.Join(strings.Trim(prefix, "/"), r.AccountID,
		day.Format("2006"), day.Format("01"), day.Format("02"), name)
}

// =============================================================================
// GCS
// =============================================================================

// GCSArchiver writes cycle results to a Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Archiver = (*GCSArchiver)(nil)

// NewGCSArchiver creates a client for bucket. credentialsFile may be empty
// to use application default credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// ArchiveCycle uploads r as JSON.
func (a *GCSArchiver) ArchiveCycle(ctx context.Context, r datatypes.CycleResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cycle %s: %w", r.ID, err)
	}
	name := ObjectName(a.prefix, r)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"account_id":   r.AccountID,
		"cycle_number": fmt.Sprint(r.CycleNumber),
		"status":       string(r.Status),
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, name, err)
	}
	return nil
}

// UploadFile copies a local file (the audit chain) to objectName.
func (a *GCSArchiver) UploadFile(ctx context.Context, localPath, objectName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	full := path.Join(strings.Trim(a.prefix, "/"), objectName)
	w := a.client.Bucket(a.bucket).Object(full).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, a.bucket, full, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, full, err)
	}
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

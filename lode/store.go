// Package lode connects zipline to Lode object storage.
//
// Archives written through the store sink land at Hive-style paths:
//
//	archives/day=<YYYY-MM-DD>/run_id=<run_id>/<filename>
//
// Two backends are supported: the local filesystem and S3 (or any
// S3-compatible provider).
package lode

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"
)

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	// Backend is "fs" or "s3".
	Backend string
	// Path is the root directory (fs) or "bucket/prefix" (s3).
	Path string
	// Region, Endpoint and UsePathStyle apply to s3 only.
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Validate checks the backend name and that a path is present.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendFS, BackendS3:
	case "":
		return errors.New("storage backend is required")
	default:
		return fmt.Errorf("unknown storage backend %q (want fs or s3)", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("storage path is required for %s backend", c.Backend)
	}
	return nil
}

// NewStoreFactory returns a Lode store factory for the configured backend.
func NewStoreFactory(ctx context.Context, cfg StoreConfig) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendFS {
		return lode.NewFSFactory(cfg.Path), nil
	}

	bucket, prefix := ParseS3Path(cfg.Path)
	return NewS3StoreFactory(ctx, S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.UsePathStyle,
	})
}

// OpenStore creates a store from factory, classifying initialization failures.
func OpenStore(factory lode.StoreFactory, backend string) (lode.Store, error) {
	store, err := factory()
	if err != nil {
		return nil, WrapInitError(err, backend)
	}
	return store, nil
}

// DeriveDay computes the partition day from a run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// ArchivePath computes the store path for an archive produced by a run.
// The filename must be a plain file name: separators and ".." are rejected.
func ArchivePath(day, runID, filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid archive filename %q", filename)
	}
	if runID == "" {
		return "", errors.New("run id is required")
	}
	return path.Join("archives", "day="+day, "run_id="+runID, filename), nil
}

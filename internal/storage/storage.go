// Package storage is the object store behind uploads and persisted chunks.
// Keys follow a fixed layout: uploads/{job_id}/{filename} for client uploads
// and jobs/{job_id}/chunks/{index}.csv for pipeline chunks.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ObjectInfo is the subset of object metadata the pipeline cares about.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store abstracts the object store. Implementations must translate their
// failures into apperr storage errors so callers can classify retries.
type Store interface {
	// PresignPut returns a URL the client PUTs the raw CSV to.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Put writes an object; used by the chunker for persisted chunks.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat confirms an object exists and reports its size.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under a key prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// UploadKey is the canonical location of a job's raw upload.
func UploadKey(jobID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, filename)
}

// ChunkKey is the canonical location of one persisted chunk.
func ChunkKey(jobID string, index int) string {
	return fmt.Sprintf("jobs/%s/chunks/%d.csv", jobID, index)
}

// ChunkPrefix covers every chunk of a job, for cleanup.
func ChunkPrefix(jobID string) string {
	return fmt.Sprintf("jobs/%s/chunks/", jobID)
}

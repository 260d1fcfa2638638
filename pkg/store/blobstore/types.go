// Package blobstore implements some content-addressed blob stores.
// You can store whatever you want in there, but need to address things by their hash to get them out.
package blobstore

import (
	"context"
	"io"
	"time"
)

// BlobStore describes the interface of a blob store.
type BlobStore interface {
	// Create opens a writer on a fresh staging key.
	// Nothing written to it is visible until it's committed.
	Create(ctx context.Context) (BlobWriter, error)
	// Get returns the contents stored under key, and its size.
	// It returns store.ErrNotFound if there's nothing.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the blob stored under key.
	// Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all committed keys.
	Keys(ctx context.Context) ([]string, error)
	// Location describes where the blob for key is (or would be) stored.
	Location(key string) string
	io.Closer
}

// BlobWriter is a staged blob.
// It's closed by either calling Commit or Discard.
type BlobWriter interface {
	io.Writer
	// Commit makes the blob durable and visible under key.
	// It fails with store.ErrAlreadyExists if key is taken,
	// in which case the writer still needs to be discarded.
	Commit(key string) error
	// Discard removes all staged data.
	// It's a no-op after a successful Commit, and safe to call multiple times.
	Discard() error
	// StagingKey returns the temporary key the data is staged under.
	StagingKey() string
}

// StagingPurger is implemented by blob stores that keep staged data on disk,
// which can be left behind when the process dies mid-upload.
type StagingPurger interface {
	// PurgeStaging removes staged data older than olderThan, and returns the number of removed items.
	PurgeStaging(ctx context.Context, olderThan time.Duration) (int, error)
}

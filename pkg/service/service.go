// Package service implements uploading, downloading and deleting files,
// on top of a blob store and a metadata store.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flokli/filedump/pkg/store/blobstore"
	"github.com/flokli/filedump/pkg/store/metadatastore"
)

var (
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrEmptyContent        = errors.New("empty content")
	ErrBodyRead            = errors.New("unable to read request body")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrStorageIO           = errors.New("storage error")
	ErrMetadataUnavailable = errors.New("metadata store unavailable")
	ErrSweepInProgress     = errors.New("sweep already in progress")
)

// Service ties together a blob store, holding the file contents,
// and a metadata store, holding one record per distinct content hash.
// It's safe for concurrent use.
type Service struct {
	blobStore     blobstore.BlobStore
	metadataStore metadatastore.MetadataStore
	maxSize       int64

	muSweep sync.Mutex
}

// New returns a Service storing files of up to maxSize bytes.
func New(blobStore blobstore.BlobStore, metadataStore metadatastore.MetadataStore, maxSize int64) *Service {
	return &Service{
		blobStore:     blobStore,
		metadataStore: metadataStore,
		maxSize:       maxSize,
	}
}

// List returns all records, most recent first.
func (s *Service) List(ctx context.Context) ([]*metadatastore.FileRecord, error) {
	records, err := s.metadataStore.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}
	return records, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/flokli/filedump/pkg/store"
	"github.com/flokli/filedump/pkg/store/metadatastore"
	"github.com/flokli/filedump/pkg/util"
	log "github.com/sirupsen/logrus"
)

// lookup returns the record for hash, or store.ErrNotFound.
func (s *Service) lookup(ctx context.Context, hash string) (*metadatastore.FileRecord, error) {
	normalized, ok := util.NormalizeHash(hash)
	if !ok {
		return nil, fmt.Errorf("invalid hash %v: %w", hash, store.ErrNotFound)
	}

	record, err := s.metadataStore.GetByHash(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}
	return record, nil
}

// Fetch returns the record for hash, and a reader for its contents.
// The caller needs to close the reader.
//
// Fetch doesn't block a concurrent Remove.
// If the blob is removed before Fetch opened it, store.ErrNotFound is returned.
// If it's removed afterwards, a LocalStore keeps serving the already opened file,
// other blob stores might fail while reading.
func (s *Service) Fetch(ctx context.Context, hash string) (*metadatastore.FileRecord, io.ReadCloser, error) {
	record, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, nil, err
	}

	rc, _, err := s.blobStore.Get(ctx, record.Hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.WithField("hash", record.Hash).Warn("record without blob")
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}

	downloadsTotal.Inc()
	return record, rc, nil
}

// Remove deletes the record for hash, then its blob.
// It returns the deleted record, or store.ErrNotFound.
func (s *Service) Remove(ctx context.Context, hash string) (*metadatastore.FileRecord, error) {
	record, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	err = s.metadataStore.DeleteByHash(ctx, record.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}

	logger := log.WithFields(log.Fields{
		"hash": record.Hash,
		"name": record.Name,
	})

	// The file is gone for clients now.
	// A blob we fail to delete is picked up by the next sweep.
	err = s.blobStore.Delete(context.WithoutCancel(ctx), record.Hash)
	if err != nil {
		logger.WithError(err).Warn("unable to delete blob")
	}

	deletesTotal.Inc()
	logger.Info("delete")

	return record, nil
}

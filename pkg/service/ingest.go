package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flokli/filedump/pkg/store"
	"github.com/flokli/filedump/pkg/store/metadatastore"
	log "github.com/sirupsen/logrus"
)

// chunkSize is the size of the buffer used to copy upload bodies.
const chunkSize = 32 * 1024

// Ingest reads body to its end, and stores it as a file called name, with the given mime type.
//
// If a file with the same contents has already been stored, its record is returned
// together with metadatastore.Existed, and name and mimeType are ignored.
// Bodies larger than the configured maximum size fail with ErrPayloadTooLarge,
// without reading any further.
//
// On failure, nothing received so far is kept.
func (s *Service) Ingest(ctx context.Context, body io.Reader, name, mimeType string) (*metadatastore.FileRecord, metadatastore.InsertResult, error) {
	if body == nil || name == "" || mimeType == "" {
		return nil, metadatastore.Created, fmt.Errorf("%w: name, mime type and body are required", ErrInvalidRequest)
	}

	record, result, err := s.ingest(ctx, body, name, mimeType)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			uploadsTotal.WithLabelValues(resultTooLarge).Inc()
		} else {
			uploadsTotal.WithLabelValues(resultFailed).Inc()
		}
		return nil, metadatastore.Created, err
	}

	uploadsTotal.WithLabelValues(result.String()).Inc()
	uploadBytesTotal.Add(float64(record.Size))

	return record, result, nil
}

func (s *Service) ingest(ctx context.Context, body io.Reader, name, mimeType string) (*metadatastore.FileRecord, metadatastore.InsertResult, error) {
	blobWriter, err := s.blobStore.Create(ctx)
	if err != nil {
		return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	// no-op once committed
	defer func() {
		if err := blobWriter.Discard(); err != nil {
			log.WithError(err).WithField("staging_key", blobWriter.StagingKey()).Warn("unable to discard staged blob")
		}
	}()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, metadatastore.Created, fmt.Errorf("upload aborted: %w", err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > s.maxSize {
				return nil, metadatastore.Created, fmt.Errorf("%w: limit is %v", ErrPayloadTooLarge, humanize.IBytes(uint64(s.maxSize)))
			}

			h.Write(buf[:n])

			if _, err := blobWriter.Write(buf[:n]); err != nil {
				return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrStorageIO, err)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrBodyRead, readErr)
		}
	}

	if size == 0 {
		return nil, metadatastore.Created, ErrEmptyContent
	}

	hash := hex.EncodeToString(h.Sum(nil))
	logger := log.WithFields(log.Fields{
		"hash": hash,
		"name": name,
		"size": humanize.IBytes(uint64(size)),
	})

	record, result, err := s.metadataStore.InsertOrGet(ctx, &metadatastore.FileRecord{
		Hash:      hash,
		Name:      name,
		MimeType:  mimeType,
		Path:      s.blobStore.Location(hash),
		Size:      size,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}

	switch result {
	case metadatastore.Created:
		err = blobWriter.Commit(hash)
		// A blob left behind under hash has the same contents.
		if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			// Don't leave a record pointing to nothing,
			// even if the client went away in the meantime.
			if err := s.metadataStore.DeleteByHash(context.WithoutCancel(ctx), hash); err != nil {
				logger.WithError(err).Error("unable to remove record of failed upload")
			}
			return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrStorageIO, err)
		}
		logger.Info("upload")

	case metadatastore.Existed:
		exists, err := s.blobStore.Exists(ctx, hash)
		if err != nil {
			return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrStorageIO, err)
		}
		if !exists {
			// An earlier upload crashed between inserting the record and committing the blob.
			err = blobWriter.Commit(hash)
			if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
				return nil, metadatastore.Created, fmt.Errorf("%w: %w", ErrStorageIO, err)
			}
			logger.Warn("restored missing blob")
		}
		logger.WithField("existing_name", record.Name).Info("upload duplicate")
	}

	return record, result, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flokli/filedump/pkg/store"
	"github.com/flokli/filedump/pkg/store/blobstore"
	log "github.com/sirupsen/logrus"
)

// SweepReport counts what a sweep removed.
type SweepReport struct {
	OrphanedBlobs   int
	OrphanedRecords int
	StagingPurged   int
}

// Sweep removes blobs without a record, and records without a blob.
//
// Records are inserted before their blob is committed,
// so records younger than grace are left alone, as their upload might still be running.
// The same applies to leftovers in the blob store's staging area.
//
// Only one sweep runs at a time, others fail with ErrSweepInProgress.
func (s *Service) Sweep(ctx context.Context, grace time.Duration) (*SweepReport, error) {
	if !s.muSweep.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.muSweep.Unlock()

	report := &SweepReport{}

	// Blobs need to be listed before records.
	// A blob is only committed after its record was inserted,
	// so every listed blob with a record shows up in the record listing,
	// unless it was deleted in the meantime.
	keys, err := s.blobStore.Keys(ctx)
	if err != nil {
		return report, fmt.Errorf("unable to list blobs: %w", err)
	}

	records, err := s.metadataStore.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}

	haveRecord := make(map[string]struct{}, len(records))
	for _, record := range records {
		haveRecord[record.Hash] = struct{}{}
	}
	haveBlob := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		haveBlob[key] = struct{}{}
	}

	for _, key := range keys {
		if _, ok := haveRecord[key]; ok {
			continue
		}

		_, err := s.metadataStore.GetByHash(ctx, key)
		if err == nil {
			// uploaded again in the meantime
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return report, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
		}

		err = s.blobStore.Delete(ctx, key)
		if err != nil {
			return report, fmt.Errorf("unable to delete blob %v: %w", key, err)
		}
		log.WithField("hash", key).Info("removed orphaned blob")
		sweepRemovedTotal.WithLabelValues("blob").Inc()
		report.OrphanedBlobs++
	}

	cutoff := time.Now().Add(-grace)
	for _, record := range records {
		if _, ok := haveBlob[record.Hash]; ok {
			continue
		}
		if record.CreatedAt.After(cutoff) {
			continue
		}

		exists, err := s.blobStore.Exists(ctx, record.Hash)
		if err != nil {
			return report, fmt.Errorf("unable to check blob %v: %w", record.Hash, err)
		}
		if exists {
			continue
		}

		err = s.metadataStore.DeleteByHash(ctx, record.Hash)
		if err != nil {
			return report, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
		}
		log.WithFields(log.Fields{
			"hash": record.Hash,
			"name": record.Name,
		}).Info("removed orphaned record")
		sweepRemovedTotal.WithLabelValues("record").Inc()
		report.OrphanedRecords++
	}

	if purger, ok := s.blobStore.(blobstore.StagingPurger); ok {
		n, err := purger.PurgeStaging(ctx, grace)
		report.StagingPurged = n
		sweepRemovedTotal.WithLabelValues("staging").Add(float64(n))
		if err != nil {
			return report, fmt.Errorf("unable to purge staging area: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"orphaned_blobs":   report.OrphanedBlobs,
		"orphaned_records": report.OrphanedRecords,
		"staging_purged":   report.StagingPurged,
	}).Info("sweep")

	return report, nil
}

// RunSweeper sweeps every interval, until ctx is done.
// Failed sweeps are logged, and retried at the next interval.
func (s *Service) RunSweeper(ctx context.Context, interval, grace time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := s.Sweep(ctx, grace)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("sweep failed")
			}
		}
	}
}

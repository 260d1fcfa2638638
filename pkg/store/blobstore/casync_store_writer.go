package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flokli/filedump/pkg/store"
	"github.com/folbricht/desync"
)

var _ BlobWriter = &CasyncStoreWriter{}

// CasyncStoreWriter provides a BlobWriter.
// The whole content of the blob is written to it.
// Internally, it'll write it to a staging file.
// On commit, its contents will be chunked,
// the chunks added to the chunk store, and the index added to the index store.
type CasyncStoreWriter struct {
	ctx context.Context

	casyncStore *CasyncStore
	stagingKey  string

	f         *os.File
	closed    bool
	committed bool
}

// NewCasyncStoreWriter returns a properly initialized CasyncStoreWriter.
func NewCasyncStoreWriter(
	ctx context.Context,
	casyncStore *CasyncStore,
	stagingKey string,
) (*CasyncStoreWriter, error) {
	f, err := os.OpenFile(
		filepath.Join(casyncStore.stagingDir, stagingKey),
		os.O_RDWR|os.O_CREATE|os.O_EXCL,
		0o640,
	)
	if err != nil {
		return nil, err
	}
	// Cleanup is handled in Commit() or Discard()

	return &CasyncStoreWriter{
		ctx: ctx,

		casyncStore: casyncStore,
		stagingKey:  stagingKey,

		f: f,
	}, nil
}

func (csw *CasyncStoreWriter) StagingKey() string {
	return csw.stagingKey
}

func (csw *CasyncStoreWriter) stagingIndexName() string {
	return csw.stagingKey + ".caibx"
}

func (csw *CasyncStoreWriter) Write(p []byte) (int, error) {
	if csw.closed {
		return 0, os.ErrClosed
	}
	return csw.f.Write(p)
}

func (csw *CasyncStoreWriter) Commit(key string) error {
	if csw.committed {
		return fmt.Errorf("blob already committed")
	}
	if csw.closed {
		return os.ErrClosed
	}

	exists, err := csw.casyncStore.Exists(csw.ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyExists
	}

	// flush the staging file and seek to the start
	err = csw.f.Sync()
	if err != nil {
		return err
	}

	_, err = csw.f.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	// Run the chunker on the staging file
	chunker, err := desync.NewChunker(
		csw.f,
		csw.casyncStore.chunkSizeMinDefault,
		csw.casyncStore.chunkSizeAvgDefault,
		csw.casyncStore.chunkSizeMaxDefault,
	)
	if err != nil {
		return err
	}

	// upload all chunks into the store
	caidx, err := desync.ChunkStream(csw.ctx,
		chunker,
		csw.casyncStore.localStore,
		csw.casyncStore.concurrency,
	)
	if err != nil {
		return err
	}

	// write the index next to the staging file, then link it into the index store.
	// Linking fails if another writer got there first.
	err = csw.casyncStore.stagingIndexStore.StoreIndex(csw.stagingIndexName(), caidx)
	if err != nil {
		return err
	}
	stagingIndexPath := filepath.Join(csw.casyncStore.stagingDir, csw.stagingIndexName())
	defer os.Remove(stagingIndexPath)

	err = os.Link(stagingIndexPath, csw.casyncStore.indexPath(key))
	if err != nil {
		if os.IsExist(err) {
			return store.ErrAlreadyExists
		}
		return err
	}

	csw.committed = true
	csw.close()

	return nil
}

// close closes and removes the staging file.
func (csw *CasyncStoreWriter) close() {
	if !csw.closed {
		csw.closed = true
		csw.f.Close()
	}
	os.Remove(csw.f.Name())
}

func (csw *CasyncStoreWriter) Discard() error {
	if csw.committed {
		return nil
	}
	csw.close()
	return nil
}

package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flokli/filedump/pkg/store"
	"github.com/folbricht/desync"
	"github.com/google/uuid"
)

var _ BlobStore = &CasyncStore{}
var _ StagingPurger = &CasyncStore{}

// CasyncStore chunks blobs with content-defined chunking and stores the chunks
// in a local casync chunk store, so blobs sharing large parts of their content share storage.
// Every blob is described by an index in the index store, named after its key.
type CasyncStore struct {
	localStore      desync.WriteStore
	localIndexStore desync.IndexWriteStore
	concurrency     int

	localIndexStoreDir string
	stagingDir         string
	stagingIndexStore  desync.IndexWriteStore

	chunkSizeAvgDefault uint64
	chunkSizeMinDefault uint64
	chunkSizeMaxDefault uint64
}

func NewCasyncStore(localStoreDir, localIndexStoreDir, stagingDir string) (*CasyncStore, error) {
	for _, dir := range []string{localStoreDir, localIndexStoreDir, stagingDir} {
		err := os.MkdirAll(dir, 0o750)
		if err != nil {
			return nil, err
		}
	}

	localStore, err := desync.NewLocalStore(localStoreDir, desync.StoreOptions{})
	if err != nil {
		return nil, err
	}

	localIndexStore, err := desync.NewLocalIndexStore(localIndexStoreDir)
	if err != nil {
		return nil, err
	}

	// Indexes are written to the staging directory first,
	// and linked into the index store once complete.
	stagingIndexStore, err := desync.NewLocalIndexStore(stagingDir)
	if err != nil {
		return nil, err
	}

	return &CasyncStore{
		localStore:      localStore,
		localIndexStore: localIndexStore,
		concurrency:     1,

		localIndexStoreDir: localIndexStoreDir,
		stagingDir:         stagingDir,
		stagingIndexStore:  stagingIndexStore,

		// values stolen from chunker_test.go
		chunkSizeAvgDefault: 64 * 1024,
		chunkSizeMinDefault: 64 * 1024 / 4,
		chunkSizeMaxDefault: 64 * 1024 * 4,
	}, nil
}

func (c *CasyncStore) Close() error {
	err := c.localStore.Close()
	if err != nil {
		return err
	}
	err = c.stagingIndexStore.Close()
	if err != nil {
		return err
	}
	return c.localIndexStore.Close()
}

func (c *CasyncStore) indexPath(key string) string {
	return filepath.Join(c.localIndexStoreDir, key)
}

func (c *CasyncStore) Location(key string) string {
	if checkKey(key) != nil {
		return ""
	}
	return "casync://" + c.indexPath(key)
}

func (c *CasyncStore) Create(ctx context.Context) (BlobWriter, error) {
	return NewCasyncStoreWriter(
		ctx,
		c,
		uuid.New().String(),
	)
}

func (c *CasyncStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	exists, err := c.Exists(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, store.ErrNotFound
	}

	// retrieve .caidx
	caidx, err := c.localIndexStore.GetIndex(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, err
	}

	csr, err := NewCasyncStoreReader(
		ctx,
		caidx,
		c.localStore,
		[]desync.Seed{},
		c.concurrency,
		nil,
		c.stagingDir,
	)
	if err != nil {
		return nil, 0, err
	}
	return csr, caidx.Length(), nil
}

func (c *CasyncStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(c.indexPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the index for key.
// TODO: prune chunks no longer referenced by any index from the chunk store.
func (c *CasyncStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	err := os.Remove(c.indexPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to delete index %v: %w", key, err)
	}
	return nil
}

func (c *CasyncStore) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.localIndexStoreDir)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || checkKey(entry.Name()) != nil || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys, nil
}

func (c *CasyncStore) PurgeStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.stagingDir)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(-olderThan)
	purged := 0
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return purged, err
		}
		if fi.ModTime().After(deadline) {
			continue
		}
		err = os.Remove(filepath.Join(c.stagingDir, entry.Name()))
		if err != nil && !os.IsNotExist(err) {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flokli/filedump/pkg/store"
)

var _ BlobWriter = &localStoreWriter{}

// localStoreWriter writes into a file in the staging directory.
// On commit, the file is synced and hard-linked to its final location,
// which fails instead of replacing an existing blob.
type localStoreWriter struct {
	localStore *LocalStore
	stagingKey string

	f         *os.File
	closed    bool
	committed bool
}

func (lsw *localStoreWriter) stagingPath() string {
	return filepath.Join(lsw.localStore.stagingDirectory, lsw.stagingKey)
}

func (lsw *localStoreWriter) StagingKey() string {
	return lsw.stagingKey
}

func (lsw *localStoreWriter) Write(p []byte) (int, error) {
	if lsw.closed {
		return 0, os.ErrClosed
	}

	return lsw.f.Write(p)
}

func (lsw *localStoreWriter) Commit(key string) error {
	if lsw.committed {
		return fmt.Errorf("blob already committed")
	}

	if err := checkKey(key); err != nil {
		return err
	}

	if !lsw.closed {
		err := lsw.f.Sync()
		if err != nil {
			return fmt.Errorf("unable to sync staging file: %w", err)
		}

		lsw.closed = true

		err = lsw.f.Close()
		if err != nil {
			return fmt.Errorf("unable to close staging file: %w", err)
		}
	}

	p := lsw.localStore.blobPath(key)

	err := os.MkdirAll(filepath.Dir(p), 0o750)
	if err != nil {
		return err
	}

	err = os.Link(lsw.stagingPath(), p)
	if err != nil {
		if os.IsExist(err) {
			return store.ErrAlreadyExists
		}

		return fmt.Errorf("unable to link blob into place: %w", err)
	}

	lsw.committed = true

	// The blob is in place, a leftover staging file is only garbage now.
	_ = os.Remove(lsw.stagingPath())

	return nil
}

func (lsw *localStoreWriter) Discard() error {
	if lsw.committed {
		return nil
	}

	if !lsw.closed {
		lsw.closed = true
		lsw.f.Close()
	}

	err := os.Remove(lsw.stagingPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

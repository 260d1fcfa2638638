package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flokli/filedump/pkg/store"
	"github.com/google/uuid"
)

var _ BlobStore = &LocalStore{}
var _ StagingPurger = &LocalStore{}

const stagingDirName = ".staging"

// LocalStore stores blobs as plain files in a directory.
// A blob for key lives at $directory/$key[:2]/$key,
// staged data lives in $directory/.staging until it's committed.
type LocalStore struct {
	directory        string
	stagingDirectory string
}

func NewLocalStore(directory string) (*LocalStore, error) {
	stagingDirectory := filepath.Join(directory, stagingDirName)

	err := os.MkdirAll(stagingDirectory, 0o750)
	if err != nil {
		return nil, fmt.Errorf("unable to create storage directory: %w", err)
	}

	return &LocalStore{
		directory:        directory,
		stagingDirectory: stagingDirectory,
	}, nil
}

// checkKey ensures key can't escape the storage directory.
func checkKey(key string) error {
	if len(key) < 3 || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid key: %q", key)
	}

	return nil
}

func (ls *LocalStore) blobPath(key string) string {
	return filepath.Join(ls.directory, key[:2], key)
}

func (ls *LocalStore) Location(key string) string {
	if checkKey(key) != nil {
		return ""
	}

	return ls.blobPath(key)
}

func (ls *LocalStore) Create(ctx context.Context) (BlobWriter, error) {
	stagingKey := uuid.New().String()
	p := filepath.Join(ls.stagingDirectory, stagingKey)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("unable to create staging file: %w", err)
	}

	return &localStoreWriter{
		localStore: ls,
		stagingKey: stagingKey,
		f:          f,
	}, nil
}

func (ls *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := checkKey(key); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(ls.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, store.ErrNotFound
		}

		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, 0, err
	}

	return f, fi.Size(), nil
}

func (ls *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(ls.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (ls *LocalStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	err := os.Remove(ls.blobPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to delete blob %v: %w", key, err)
	}

	return nil
}

func (ls *LocalStore) Keys(ctx context.Context) ([]string, error) {
	shards, err := os.ReadDir(ls.directory)
	if err != nil {
		return nil, err
	}

	keys := []string{}

	for _, shard := range shards {
		if !shard.IsDir() || shard.Name() == stagingDirName {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(ls.directory, shard.Name()))
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), shard.Name()) {
				keys = append(keys, entry.Name())
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return keys, nil
}

func (ls *LocalStore) PurgeStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(ls.stagingDirectory)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(-olderThan)
	purged := 0

	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return purged, err
		}

		if fi.ModTime().After(deadline) {
			continue
		}

		err = os.Remove(filepath.Join(ls.stagingDirectory, entry.Name()))
		if err != nil && !os.IsNotExist(err) {
			return purged, err
		}

		purged++
	}

	return purged, nil
}

func (ls *LocalStore) Close() error {
	return nil
}

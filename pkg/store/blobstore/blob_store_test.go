package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flokli/filedump/pkg/store"
	"github.com/flokli/filedump/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	memoryStore := NewMemoryStore()
	t.Cleanup(func() {
		memoryStore.Close()
	})
	testBlobStore(t, memoryStore)
}

func TestLocalStore(t *testing.T) {
	localStore, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		localStore.Close()
	})
	testBlobStore(t, localStore)
	testStagingPurger(t, localStore)

	t.Run("no staging leftovers", func(t *testing.T) {
		entries, err := os.ReadDir(localStore.stagingDirectory)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"", "..", "../../etc/passwd", ".staging", "a/b"} {
			_, _, err := localStore.Get(context.Background(), key)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, store.ErrNotFound)
			assert.Equal(t, "", localStore.Location(key))
		}
	})
}

func TestCasyncStore(t *testing.T) {
	baseDir := t.TempDir()
	casyncStore, err := NewCasyncStore(
		filepath.Join(baseDir, "castr"),
		filepath.Join(baseDir, "caibx"),
		filepath.Join(baseDir, "staging"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		casyncStore.Close()
	})
	testBlobStore(t, casyncStore)
	testStagingPurger(t, casyncStore)
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// testBlobStore runs all blob store tests against the passed store.
func testBlobStore(t *testing.T, blobStore BlobStore) {
	ctx := context.Background()
	testDataT := test.GetTestDataTable()

	tdA, exists := testDataT["a"]
	if !exists {
		panic("testData[a] doesn't exist")
	}
	tdB, exists := testDataT["b"]
	if !exists {
		panic("testData[b] doesn't exist")
	}

	t.Run("GetBlobNotFound", func(t *testing.T) {
		_, _, err := blobStore.Get(ctx, tdA.Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)

		exists, err := blobStore.Exists(ctx, tdA.Hash)
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("staged blobs are invisible", func(t *testing.T) {
		w, err := blobStore.Create(ctx)
		require.NoError(t, err)
		defer w.Discard()

		_, err = w.Write(tdA.Contents)
		require.NoError(t, err)

		exists, err := blobStore.Exists(ctx, tdA.Hash)
		assert.NoError(t, err)
		assert.False(t, exists)

		keys, err := blobStore.Keys(ctx)
		assert.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Discard", func(t *testing.T) {
		w, err := blobStore.Create(ctx)
		require.NoError(t, err)

		_, err = w.Write(tdA.Contents)
		require.NoError(t, err)

		assert.NoError(t, w.Discard())
		// discarding twice is fine
		assert.NoError(t, w.Discard())

		exists, err := blobStore.Exists(ctx, tdA.Hash)
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Commit", func(t *testing.T) {
		w, err := blobStore.Create(ctx)
		require.NoError(t, err)

		// write in multiple chunks
		half := len(tdB.Contents) / 2
		_, err = w.Write(tdB.Contents[:half])
		require.NoError(t, err)
		_, err = w.Write(tdB.Contents[half:])
		require.NoError(t, err)

		require.NoError(t, w.Commit(tdB.Hash))
		// Discard after Commit is a no-op
		assert.NoError(t, w.Discard())

		exists, err := blobStore.Exists(ctx, tdB.Hash)
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Get", func(t *testing.T) {
		r, size, err := blobStore.Get(ctx, tdB.Hash)
		require.NoError(t, err)
		defer r.Close()

		actualContents, err := io.ReadAll(r)
		require.NoError(t, err)

		assert.Equal(t, int64(len(tdB.Contents)), size)
		assert.Equal(t, tdB.Contents, actualContents)
		assert.Equal(t, tdB.Hash, sha256Hex(actualContents))
	})

	t.Run("Commit existing key", func(t *testing.T) {
		w, err := blobStore.Create(ctx)
		require.NoError(t, err)

		_, err = w.Write(tdA.Contents)
		require.NoError(t, err)

		err = w.Commit(tdB.Hash)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
		assert.NoError(t, w.Discard())

		// the existing blob is untouched
		r, _, err := blobStore.Get(ctx, tdB.Hash)
		require.NoError(t, err)
		defer r.Close()
		actualContents, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, tdB.Contents, actualContents)
	})

	t.Run("concurrent commits", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				w, err := blobStore.Create(ctx)
				if err != nil {
					errs[i] = err
					return
				}
				defer w.Discard()
				if _, err := w.Write(tdA.Contents); err != nil {
					errs[i] = err
					return
				}
				errs[i] = w.Commit(tdA.Hash)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, store.ErrAlreadyExists)
			}
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("Keys", func(t *testing.T) {
		keys, err := blobStore.Keys(ctx)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []string{tdA.Hash, tdB.Hash}, keys)
	})

	t.Run("Location", func(t *testing.T) {
		assert.NotEmpty(t, blobStore.Location(tdA.Hash))
		assert.NotEqual(t, blobStore.Location(tdA.Hash), blobStore.Location(tdB.Hash))
	})

	t.Run("Delete", func(t *testing.T) {
		assert.NoError(t, blobStore.Delete(ctx, tdA.Hash))

		_, _, err := blobStore.Get(ctx, tdA.Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)

		// deleting again is not an error
		assert.NoError(t, blobStore.Delete(ctx, tdA.Hash))

		assert.NoError(t, blobStore.Delete(ctx, tdB.Hash))

		keys, err := blobStore.Keys(ctx)
		assert.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// testStagingPurger checks staged data of abandoned writers gets purged.
func testStagingPurger(t *testing.T, blobStore interface {
	BlobStore
	StagingPurger
}) {
	ctx := context.Background()

	t.Run("PurgeStaging", func(t *testing.T) {
		w, err := blobStore.Create(ctx)
		require.NoError(t, err)
		_, err = w.Write([]byte("abandoned"))
		require.NoError(t, err)

		// fresh staging data is kept
		purged, err := blobStore.PurgeStaging(ctx, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, 0, purged)

		purged, err = blobStore.PurgeStaging(ctx, -time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, 1, purged)

		// the writer can't be committed anymore, but discarding it is fine
		assert.NoError(t, w.Discard())
	})
}

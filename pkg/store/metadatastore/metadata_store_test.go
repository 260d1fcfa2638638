package metadatastore

import (
	"context"
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
	testMetadataStore(t, memoryStore)
}

func TestDatabaseStore(t *testing.T) {
	databaseStore, err := NewDatabaseStore(context.Background(), filepath.Join(t.TempDir(), "database.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		databaseStore.Close()
	})
	testMetadataStore(t, databaseStore)
}

func TestDatabaseStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "database.sqlite")
	tdA := test.GetTestDataTable()["a"]
	record := newRecord(tdA, time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC))

	databaseStore, err := NewDatabaseStore(ctx, path)
	require.NoError(t, err)
	_, err = databaseStore.Insert(ctx, record)
	require.NoError(t, err)
	require.NoError(t, databaseStore.Close())

	// schema creation must be idempotent, and records survive
	databaseStore, err = NewDatabaseStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() {
		databaseStore.Close()
	})

	stored, err := databaseStore.GetByHash(ctx, tdA.Hash)
	if assert.NoError(t, err) {
		assert.Equal(t, *record, *stored)
	}
}

func TestBoltStore(t *testing.T) {
	boltStore, err := NewBoltStore(filepath.Join(t.TempDir(), "files.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		boltStore.Close()
	})
	testMetadataStore(t, boltStore)
}

func TestFileRecordCheck(t *testing.T) {
	tdA := test.GetTestDataTable()["a"]
	valid := newRecord(tdA, time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC))
	assert.NoError(t, valid.Check())

	for name, mutate := range map[string]func(fr *FileRecord){
		"uppercase hash": func(fr *FileRecord) { fr.Hash = "ABCDEF" + fr.Hash[6:] },
		"short hash":     func(fr *FileRecord) { fr.Hash = fr.Hash[:10] },
		"empty name":     func(fr *FileRecord) { fr.Name = "" },
		"empty mimetype": func(fr *FileRecord) { fr.MimeType = "" },
		"empty path":     func(fr *FileRecord) { fr.Path = "" },
		"negative size":  func(fr *FileRecord) { fr.Size = -1 },
		"no createdAt":   func(fr *FileRecord) { fr.CreatedAt = time.Time{} },
	} {
		t.Run(name, func(t *testing.T) {
			fr := *valid
			mutate(&fr)
			assert.Error(t, fr.Check())
		})
	}
}

func newRecord(td test.Data, createdAt time.Time) *FileRecord {
	return &FileRecord{
		Hash:      td.Hash,
		Name:      td.Name,
		MimeType:  td.MimeType,
		Path:      "/files/" + td.Hash[:2] + "/" + td.Hash,
		Size:      int64(len(td.Contents)),
		CreatedAt: createdAt,
	}
}

// testMetadataStore runs all metadata store tests against the passed store.
func testMetadataStore(t *testing.T, metadataStore MetadataStore) {
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
	tdC, exists := testDataT["c"]
	if !exists {
		panic("testData[c] doesn't exist")
	}

	base := time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC)
	recordA := newRecord(tdA, base)
	recordB := newRecord(tdB, base.Add(time.Minute))
	recordC := newRecord(tdC, base.Add(2*time.Minute))

	t.Run("ListAll empty", func(t *testing.T) {
		records, err := metadataStore.ListAll(ctx)
		assert.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("GetByHash not found", func(t *testing.T) {
		_, err := metadataStore.GetByHash(ctx, tdA.Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Insert", func(t *testing.T) {
		stored, err := metadataStore.Insert(ctx, recordA)
		if assert.NoError(t, err) {
			assert.Equal(t, *recordA, *stored)
		}
	})

	t.Run("Insert again", func(t *testing.T) {
		other := *recordA
		other.Name = "other.txt"
		_, err := metadataStore.Insert(ctx, &other)
		assert.ErrorIs(t, err, store.ErrDuplicateHash)
	})

	t.Run("Insert invalid", func(t *testing.T) {
		invalid := *recordB
		invalid.Name = ""
		_, err := metadataStore.Insert(ctx, &invalid)
		assert.Error(t, err)

		_, err = metadataStore.GetByHash(ctx, tdB.Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("GetByHash", func(t *testing.T) {
		stored, err := metadataStore.GetByHash(ctx, tdA.Hash)
		if assert.NoError(t, err) {
			assert.Equal(t, *recordA, *stored)
		}
	})

	t.Run("InsertOrGet existing", func(t *testing.T) {
		other := *recordA
		other.Name = "b.txt"
		other.CreatedAt = base.Add(time.Hour)

		stored, result, err := metadataStore.InsertOrGet(ctx, &other)
		if assert.NoError(t, err) {
			assert.Equal(t, Existed, result)
			assert.Equal(t, *recordA, *stored, "the first record must be kept")
		}
	})

	t.Run("InsertOrGet new", func(t *testing.T) {
		stored, result, err := metadataStore.InsertOrGet(ctx, recordC)
		if assert.NoError(t, err) {
			assert.Equal(t, Created, result)
			assert.Equal(t, *recordC, *stored)
		}
	})

	t.Run("ListAll newest first", func(t *testing.T) {
		_, err := metadataStore.Insert(ctx, recordB)
		require.NoError(t, err)

		records, err := metadataStore.ListAll(ctx)
		if assert.NoError(t, err) && assert.Len(t, records, 3) {
			assert.Equal(t, *recordC, *records[0])
			assert.Equal(t, *recordB, *records[1])
			assert.Equal(t, *recordA, *records[2])
		}
	})

	t.Run("DeleteByHash", func(t *testing.T) {
		assert.NoError(t, metadataStore.DeleteByHash(ctx, tdB.Hash))

		_, err := metadataStore.GetByHash(ctx, tdB.Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)

		records, err := metadataStore.ListAll(ctx)
		if assert.NoError(t, err) {
			assert.Len(t, records, 2)
		}
	})

	t.Run("DeleteByHash again", func(t *testing.T) {
		assert.NoError(t, metadataStore.DeleteByHash(ctx, tdB.Hash))
	})

	t.Run("DropAll", func(t *testing.T) {
		assert.NoError(t, metadataStore.DropAll(ctx))

		records, err := metadataStore.ListAll(ctx)
		assert.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("InsertOrGet concurrently", func(t *testing.T) {
		const n = 8

		var wg sync.WaitGroup
		results := make([]InsertResult, n)
		storedNames := make([]string, n)
		errs := make([]error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				record := *recordB
				record.Name = []string{"x.bin", "y.bin"}[i%2]
				stored, result, err := metadataStore.InsertOrGet(ctx, &record)
				results[i], errs[i] = result, err
				if err == nil {
					storedNames[i] = stored.Name
				}
			}(i)
		}
		wg.Wait()

		created := 0
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			if results[i] == Created {
				created++
			}
		}
		assert.Equal(t, 1, created, "exactly one insert must win")

		stored, err := metadataStore.GetByHash(ctx, tdB.Hash)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			assert.Equal(t, stored.Name, storedNames[i], "every caller must see the winning record")
		}
	})
}

package metadatastore

import (
	"context"
	"sync"

	"github.com/flokli/filedump/pkg/store"
)

// MemoryStore implements MetadataStore
var _ MetadataStore = &MemoryStore{}

type MemoryStore struct {
	files   map[string]FileRecord
	muFiles sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]FileRecord),
	}
}

func (ms *MemoryStore) Close() error {
	return nil
}

func (ms *MemoryStore) ListAll(ctx context.Context) ([]*FileRecord, error) {
	ms.muFiles.Lock()
	records := make([]*FileRecord, 0, len(ms.files))
	for _, v := range ms.files {
		v := v
		records = append(records, &v)
	}
	ms.muFiles.Unlock()

	sortNewestFirst(records)
	return records, nil
}

func (ms *MemoryStore) GetByHash(ctx context.Context, hash string) (*FileRecord, error) {
	ms.muFiles.Lock()
	v, ok := ms.files[hash]
	ms.muFiles.Unlock()
	if ok {
		return &v, nil
	}
	return nil, store.ErrNotFound
}

func (ms *MemoryStore) Insert(ctx context.Context, record *FileRecord) (*FileRecord, error) {
	stored, result, err := ms.InsertOrGet(ctx, record)
	if err != nil {
		return nil, err
	}
	if result == Existed {
		return nil, store.ErrDuplicateHash
	}
	return stored, nil
}

func (ms *MemoryStore) InsertOrGet(ctx context.Context, record *FileRecord) (*FileRecord, InsertResult, error) {
	err := record.Check()
	if err != nil {
		return nil, Created, err
	}

	ms.muFiles.Lock()
	defer ms.muFiles.Unlock()

	if existing, ok := ms.files[record.Hash]; ok {
		return &existing, Existed, nil
	}

	ms.files[record.Hash] = *record
	stored := *record
	return &stored, Created, nil
}

func (ms *MemoryStore) DeleteByHash(ctx context.Context, hash string) error {
	ms.muFiles.Lock()
	delete(ms.files, hash)
	ms.muFiles.Unlock()
	return nil
}

func (ms *MemoryStore) DropAll(ctx context.Context) error {
	ms.muFiles.Lock()
	for k := range ms.files {
		delete(ms.files, k)
	}
	ms.muFiles.Unlock()
	return nil
}

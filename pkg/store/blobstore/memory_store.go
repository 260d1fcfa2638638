package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/flokli/filedump/pkg/store"
	"github.com/google/uuid"
)

// MemoryStore implements BlobStore
// It keeps everything, including staged blobs, in memory, so it's only useful for tests.
var _ BlobStore = &MemoryStore{}

type MemoryStore struct {
	// Go can't use []bytes as a map key
	blobs   map[string][]byte
	muBlobs sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Location(key string) string {
	return "memory://" + key
}

func (m *MemoryStore) Create(ctx context.Context) (BlobWriter, error) {
	return &memoryStoreWriter{
		memoryStore: m,
		stagingKey:  uuid.New().String(),
	}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.muBlobs.Lock()
	v, ok := m.blobs[key]
	m.muBlobs.Unlock()
	if ok {
		return io.NopCloser(bytes.NewReader(v)), int64(len(v)), nil
	}
	return nil, 0, store.ErrNotFound
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.muBlobs.Lock()
	_, ok := m.blobs[key]
	m.muBlobs.Unlock()
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.muBlobs.Lock()
	delete(m.blobs, key)
	m.muBlobs.Unlock()
	return nil
}

func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.muBlobs.Lock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	m.muBlobs.Unlock()
	sort.Strings(keys)
	return keys, nil
}

// memoryStoreWriter implements BlobWriter
var _ BlobWriter = &memoryStoreWriter{}

type memoryStoreWriter struct {
	memoryStore *MemoryStore
	stagingKey  string
	contents    []byte
	committed   bool
	discarded   bool
}

func (msw *memoryStoreWriter) StagingKey() string {
	return msw.stagingKey
}

func (msw *memoryStoreWriter) Write(p []byte) (n int, err error) {
	if msw.committed || msw.discarded {
		return 0, fmt.Errorf("write to closed blob writer")
	}
	msw.contents = append(msw.contents, p...)
	return len(p), nil
}

func (msw *memoryStoreWriter) Commit(key string) error {
	if msw.committed || msw.discarded {
		return fmt.Errorf("blob writer already closed")
	}

	msw.memoryStore.muBlobs.Lock()
	defer msw.memoryStore.muBlobs.Unlock()

	if _, ok := msw.memoryStore.blobs[key]; ok {
		return store.ErrAlreadyExists
	}
	msw.memoryStore.blobs[key] = msw.contents
	msw.committed = true
	return nil
}

func (msw *memoryStoreWriter) Discard() error {
	if !msw.committed {
		msw.discarded = true
		msw.contents = nil
	}
	return nil
}

// Package metadatastore contains the record describing a stored file,
// and stores keeping one record per content hash.
package metadatastore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/flokli/filedump/pkg/util"
)

type MetadataStore interface {
	// ListAll returns all records, most recently created first.
	ListAll(ctx context.Context) ([]*FileRecord, error)
	// GetByHash returns store.ErrNotFound if there's no record for hash.
	GetByHash(ctx context.Context, hash string) (*FileRecord, error)
	// Insert stores a new record, or fails with store.ErrDuplicateHash.
	Insert(ctx context.Context, record *FileRecord) (*FileRecord, error)
	// InsertOrGet stores a new record, or returns the one already stored for its hash.
	InsertOrGet(ctx context.Context, record *FileRecord) (*FileRecord, InsertResult, error)
	// DeleteByHash removes the record for hash, if there is one.
	DeleteByHash(ctx context.Context, hash string) error
	DropAll(ctx context.Context) error
	io.Closer
}

// InsertResult tells whether InsertOrGet created a new record, or found an existing one.
type InsertResult int

const (
	Created InsertResult = iota
	Existed
)

func (r InsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Existed:
		return "existed"
	}
	return fmt.Sprintf("InsertResult(%d)", int(r))
}

// FileRecord describes a stored blob.
type FileRecord struct {
	// Hash is the hex encoded sha256 digest of the contents.
	Hash     string `json:"hash"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	// Path is the location of the blob, as reported by the blob store.
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Check provides some sanity checking on values in the FileRecord struct.
func (fr *FileRecord) Check() error {
	// hashes are stored lowercase only
	if h, ok := util.NormalizeHash(fr.Hash); !ok || h != fr.Hash {
		return fmt.Errorf("invalid hash: %v", fr.Hash)
	}

	if len(fr.Name) == 0 {
		return fmt.Errorf("invalid name: %v", fr.Name)
	}

	if len(fr.MimeType) == 0 {
		return fmt.Errorf("invalid mime type: %v", fr.MimeType)
	}

	if len(fr.Path) == 0 {
		return fmt.Errorf("invalid path: %v", fr.Path)
	}

	if fr.Size < 0 {
		return fmt.Errorf("invalid size: %v", fr.Size)
	}

	if fr.CreatedAt.IsZero() {
		return fmt.Errorf("missing creation time")
	}

	return nil
}

// sortNewestFirst sorts records by creation time, descending.
// Records created at the same time are ordered by hash.
func sortNewestFirst(records []*FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Hash < records[j].Hash
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

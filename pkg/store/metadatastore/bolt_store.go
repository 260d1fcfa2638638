package metadatastore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/flokli/filedump/pkg/store"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketFiles = []byte("files")

var _ MetadataStore = &BoltStore{}

// BoltStore keeps records in a bbolt database, msgpack encoded and keyed by hash.
// bbolt only allows one writer at a time, so InsertOrGet is atomic.
type BoltStore struct {
	db *bbolt.DB
}

type boltFile struct {
	Hash     string `msgpack:"hash"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	Path     string `msgpack:"path"`
	Size     int64  `msgpack:"size"`
	// CreatedAt is in nanoseconds since the epoch.
	CreatedAt int64 `msgpack:"createdAt"`
}

func (f *boltFile) Key() []byte {
	return []byte(f.Hash)
}

func (f *boltFile) MarshalBinary() (data []byte, err error) {
	type alias boltFile
	return msgpack.Marshal((*alias)(f))
}

func (f *boltFile) UnmarshalBinary(data []byte) error {
	type alias boltFile
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (f *boltFile) toFileRecord() *FileRecord {
	return &FileRecord{
		Hash:      f.Hash,
		Name:      f.Name,
		MimeType:  f.MimeType,
		Path:      f.Path,
		Size:      f.Size,
		CreatedAt: time.Unix(0, f.CreatedAt).UTC(),
	}
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func (bs *BoltStore) ListAll(ctx context.Context) ([]*FileRecord, error) {
	var records []*FileRecord
	err := bs.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var f boltFile
			if err := f.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			records = append(records, f.toFileRecord())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(records)
	return records, nil
}

func (bs *BoltStore) GetByHash(ctx context.Context, hash string) (*FileRecord, error) {
	var record *FileRecord
	err := bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(hash))
		if data == nil {
			return store.ErrNotFound
		}
		var f boltFile
		if err := f.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal record %s: %w", hash, err)
		}
		record = f.toFileRecord()
		return nil
	})
	return record, err
}

func (bs *BoltStore) Insert(ctx context.Context, record *FileRecord) (*FileRecord, error) {
	stored, result, err := bs.InsertOrGet(ctx, record)
	if err != nil {
		return nil, err
	}
	if result == Existed {
		return nil, store.ErrDuplicateHash
	}
	return stored, nil
}

func (bs *BoltStore) InsertOrGet(ctx context.Context, record *FileRecord) (*FileRecord, InsertResult, error) {
	err := record.Check()
	if err != nil {
		return nil, Created, err
	}

	f := &boltFile{
		Hash:      record.Hash,
		Name:      record.Name,
		MimeType:  record.MimeType,
		Path:      record.Path,
		Size:      record.Size,
		CreatedAt: record.CreatedAt.UnixNano(),
	}
	result := Created

	err = bs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if existing := b.Get(f.Key()); existing != nil {
			result = Existed
			// existing is only valid during the transaction
			f = &boltFile{}
			return f.UnmarshalBinary(bytes.Clone(existing))
		}

		data, err := f.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put(f.Key(), data)
	})
	if err != nil {
		return nil, Created, err
	}

	return f.toFileRecord(), result, nil
}

func (bs *BoltStore) DeleteByHash(ctx context.Context, hash string) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(hash))
	})
}

func (bs *BoltStore) DropAll(ctx context.Context) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketFiles); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	})
}

package metadatastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flokli/filedump/pkg/store"

	"github.com/uptrace/bun/extra/bundebug"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var _ MetadataStore = &DatabaseStore{}

// DatabaseStore keeps records in a SQLite database.
// Uniqueness of hashes is enforced by the primary key,
// which makes the database the only arbiter between concurrent uploads of the same content.
type DatabaseStore struct {
	db *bun.DB
}

type DatabaseStoreFile struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	Hash      string    `bun:"hash,pk"`
	Name      string    `bun:"name,notnull"`
	MimeType  string    `bun:"mime_type,notnull"`
	Path      string    `bun:"path,notnull"`
	Size      int64     `bun:"size,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func newDatabaseStoreFile(record *FileRecord) *DatabaseStoreFile {
	return &DatabaseStoreFile{
		Hash:      record.Hash,
		Name:      record.Name,
		MimeType:  record.MimeType,
		Path:      record.Path,
		Size:      record.Size,
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func (dsFile *DatabaseStoreFile) toFileRecord() *FileRecord {
	return &FileRecord{
		Hash:      dsFile.Hash,
		Name:      dsFile.Name,
		MimeType:  dsFile.MimeType,
		Path:      dsFile.Path,
		Size:      dsFile.Size,
		CreatedAt: dsFile.CreatedAt.UTC(),
	}
}

// NewDatabaseStore opens (and if necessary, initializes) the SQLite database at path.
// ":memory:" opens a database only living as long as the store.
func NewDatabaseStore(ctx context.Context, path string) (*DatabaseStore, error) {
	dsn := "file:" + path + "?cache=shared"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to use data source name: %w", err)
	}

	// SQLite serializes writers anyways.
	// A single connection avoids SQLITE_BUSY between our own connections,
	// and keeps an in-memory database alive.
	sqldb.SetConnMaxLifetime(0)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))

	db.RegisterModel((*DatabaseStoreFile)(nil))

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if path != ":memory:" {
		_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to enable WAL: %w", err)
		}
	}

	_, err = db.NewCreateTable().
		Model((*DatabaseStoreFile)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create files table: %w", err)
	}

	_, err = db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_files_created_at ON files (created_at DESC)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create index: %w", err)
	}

	return &DatabaseStore{
		db: db,
	}, nil
}

func (ds *DatabaseStore) ListAll(ctx context.Context) ([]*FileRecord, error) {
	var dsFiles []DatabaseStoreFile

	err := ds.db.NewSelect().
		Model(&dsFiles).
		OrderExpr("created_at DESC, hash ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unable to list files: %w", err)
	}

	records := make([]*FileRecord, 0, len(dsFiles))
	for i := range dsFiles {
		records = append(records, dsFiles[i].toFileRecord())
	}

	return records, nil
}

func (ds *DatabaseStore) GetByHash(ctx context.Context, hash string) (*FileRecord, error) {
	dsFile := new(DatabaseStoreFile)

	err := ds.db.NewSelect().
		Model(dsFile).
		Where("hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("unable to get file: %w", err)
	}

	return dsFile.toFileRecord(), nil
}

// insert inserts record unless its hash is already present,
// and returns whether a row was inserted.
func insert(ctx context.Context, tx bun.Tx, dsFile *DatabaseStoreFile) (bool, error) {
	res, err := tx.NewInsert().
		Model(dsFile).
		On("CONFLICT (hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (ds *DatabaseStore) Insert(ctx context.Context, record *FileRecord) (*FileRecord, error) {
	err := record.Check()
	if err != nil {
		return nil, err
	}

	dsFile := newDatabaseStoreFile(record)

	err = ds.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		inserted, err := insert(ctx, tx, dsFile)
		if err != nil {
			return err
		}
		if !inserted {
			return store.ErrDuplicateHash
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to insert file: %w", err)
	}

	return dsFile.toFileRecord(), nil
}

func (ds *DatabaseStore) InsertOrGet(ctx context.Context, record *FileRecord) (*FileRecord, InsertResult, error) {
	err := record.Check()
	if err != nil {
		return nil, Created, err
	}

	dsFile := newDatabaseStoreFile(record)
	result := Created

	err = ds.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		inserted, err := insert(ctx, tx, dsFile)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}

		// someone else was first, return their record
		result = Existed
		dsFile = new(DatabaseStoreFile)

		return tx.NewSelect().
			Model(dsFile).
			Where("hash = ?", record.Hash).
			Limit(1).
			Scan(ctx)
	})
	if err != nil {
		return nil, Created, fmt.Errorf("unable to insert file: %w", err)
	}

	return dsFile.toFileRecord(), result, nil
}

func (ds *DatabaseStore) DeleteByHash(ctx context.Context, hash string) error {
	_, err := ds.db.NewDelete().
		Model((*DatabaseStoreFile)(nil)).
		Where("hash = ?", hash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("unable to delete file: %w", err)
	}

	return nil
}

func (ds *DatabaseStore) DropAll(ctx context.Context) error {
	_, err := ds.db.NewTruncateTable().
		Model((*DatabaseStoreFile)(nil)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("unable to delete databaseStoreFile: %w", err)
	}
	return nil
}

func (ds *DatabaseStore) Close() error {
	return ds.db.Close()
}

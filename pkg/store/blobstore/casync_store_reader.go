package blobstore

import (
	"context"
	"io"
	"os"

	"github.com/folbricht/desync"
)

// casyncStoreReader provides a io.ReadCloser
// on the first read, it creates a tempfile, assembles the contents into it,
// then reads into that file.
type casyncStoreReader struct {
	ctx         context.Context
	caidx       desync.Index
	desyncStore desync.Store
	seeds       []desync.Seed
	concurrency int
	pb          desync.ProgressBar

	f             *os.File
	fileAssembled bool // whether AssembleFile was already run
}

// NewCasyncStoreReader returns a properly initialized casyncStoreReader.
func NewCasyncStoreReader(
	ctx context.Context,
	caidx desync.Index,
	desyncStore desync.Store,
	seeds []desync.Seed,
	concurrency int,
	pb desync.ProgressBar,
	tmpDir string,
) (*casyncStoreReader, error) {
	tmpFile, err := os.CreateTemp(tmpDir, "assemble-*")
	if err != nil {
		return nil, err
	}
	// Cleanup is handled in csr.Close()

	return &casyncStoreReader{
		ctx:         ctx,
		caidx:       caidx,
		desyncStore: desyncStore,
		seeds:       seeds,
		concurrency: concurrency,
		pb:          pb,
		f:           tmpFile,
	}, nil
}

func (csr *casyncStoreReader) Read(p []byte) (n int, err error) {
	// if this is the first read, we need to run AssembleFile into f
	// if there's any error, we return it.
	// It's up to the caller to also run Close(), which will clean up the tmpfile
	if !csr.fileAssembled {
		_, err = desync.AssembleFile(csr.ctx, csr.f.Name(), csr.caidx, csr.desyncStore, csr.seeds, csr.concurrency, csr.pb)
		if err != nil {
			return 0, err
		}

		// flush and seek to the beginning
		err = csr.f.Sync()
		if err != nil {
			return 0, err
		}
		_, err = csr.f.Seek(0, io.SeekStart)
		if err != nil {
			return 0, err
		}
		// we successfully went till here
		csr.fileAssembled = true
	}
	return csr.f.Read(p)
}

func (csr *casyncStoreReader) Close() error {
	defer os.Remove(csr.f.Name())
	return csr.f.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/flokli/filedump/pkg/server"
	"github.com/flokli/filedump/pkg/service"
	"github.com/flokli/filedump/pkg/store/blobstore"
	"github.com/flokli/filedump/pkg/store/metadatastore"
	"github.com/flokli/filedump/pkg/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (trace, debug, info, warn, error)" env:"FILEDUMP_LOG_LEVEL" default:"info"`
	LogFormat string `name:"log-format" help:"Log format" env:"FILEDUMP_LOG_FORMAT" enum:"text,json" default:"text"`

	StorageDir    string        `name:"storage-dir" short:"d" help:"Directory to store files in" env:"FILEDUMP_STORAGE_DIR" type:"path" default:"./files"`
	DB            string        `name:"db" help:"Path to the metadata database" env:"FILEDUMP_DB" type:"path" default:"./database.sqlite"`
	MetadataStore string        `name:"metadata-store" help:"Metadata store to use" env:"FILEDUMP_METADATA_STORE" enum:"sqlite,bolt" default:"sqlite"`
	BlobStore     string        `name:"blob-store" help:"Blob store to use. casync splits files into deduplicated chunks." env:"FILEDUMP_BLOB_STORE" enum:"local,casync" default:"local"`
	SweepGrace    time.Duration `name:"sweep-grace" help:"Minimum age of records and staged data removed by a sweep" env:"FILEDUMP_SWEEP_GRACE" default:"1h"`

	Serve struct {
		Port            int           `name:"port" short:"p" help:"Port to listen on" env:"FILEDUMP_PORT" default:"3000"`
		ListenHost      string        `name:"listen-host" help:"Host to listen on, all interfaces if empty" env:"FILEDUMP_LISTEN_HOST" default:""`
		MaxFileSize     string        `name:"max-file-size" help:"Maximum file size, like 500MB or 1.5GB" env:"FILEDUMP_MAX_FILE_SIZE" default:"1GB"`
		Compression     string        `name:"compression" help:"Compress downloads on the fly, if the client accepts it" env:"FILEDUMP_COMPRESSION" enum:"none,br,gzip,zstd" default:"none"`
		SweepInterval   time.Duration `name:"sweep-interval" help:"Interval between orphan sweeps, 0 to disable" env:"FILEDUMP_SWEEP_INTERVAL" default:"0"`
		ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"Time to wait for running requests on shutdown" env:"FILEDUMP_SHUTDOWN_TIMEOUT" default:"10s"`
	} `cmd:"" help:"Serve files over HTTP."`

	Sweep struct{} `cmd:"" help:"Remove orphaned blobs, records and staged data once."`
}

func configureLogging() error {
	level, err := log.ParseLevel(CLI.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if CLI.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

// openStores opens the configured blob and metadata store.
// The caller needs to close both.
func openStores(ctx context.Context) (blobstore.BlobStore, metadatastore.MetadataStore, error) {
	var blobStore blobstore.BlobStore
	var err error

	switch CLI.BlobStore {
	case "local":
		blobStore, err = blobstore.NewLocalStore(CLI.StorageDir)
	case "casync":
		blobStore, err = blobstore.NewCasyncStore(
			filepath.Join(CLI.StorageDir, "castr"),
			filepath.Join(CLI.StorageDir, "caibx"),
			filepath.Join(CLI.StorageDir, ".staging"),
		)
	default:
		err = fmt.Errorf("unknown blob store: %v", CLI.BlobStore)
	}
	if err != nil {
		return nil, nil, err
	}

	err = os.MkdirAll(filepath.Dir(CLI.DB), 0o750)
	if err != nil {
		blobStore.Close()
		return nil, nil, err
	}

	var metadataStore metadatastore.MetadataStore
	switch CLI.MetadataStore {
	case "sqlite":
		metadataStore, err = metadatastore.NewDatabaseStore(ctx, CLI.DB)
	case "bolt":
		metadataStore, err = metadatastore.NewBoltStore(CLI.DB)
	default:
		err = fmt.Errorf("unknown metadata store: %v", CLI.MetadataStore)
	}
	if err != nil {
		blobStore.Close()
		return nil, nil, fmt.Errorf("%w: %w", service.ErrMetadataUnavailable, err)
	}

	return blobStore, metadataStore, nil
}

func serve(ctx context.Context) error {
	maxSize, err := util.ParseFileSize(CLI.Serve.MaxFileSize)
	if err != nil {
		return fmt.Errorf("invalid max file size: %w", err)
	}

	blobStore, metadataStore, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer blobStore.Close()
	defer metadataStore.Close()

	svc := service.New(blobStore, metadataStore, maxSize)
	s := server.NewServer(svc, CLI.Serve.Compression)

	// No read or write timeouts, uploads and downloads can take arbitrarily long.
	srv := &http.Server{
		Addr:              net.JoinHostPort(CLI.Serve.ListenHost, strconv.Itoa(CLI.Serve.Port)),
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       150 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(log.Fields{
			"addr":          srv.Addr,
			"storage_dir":   CLI.StorageDir,
			"max_file_size": humanize.IBytes(uint64(maxSize)),
		}).Info("starting server")

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), CLI.Serve.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if CLI.Serve.SweepInterval > 0 {
		g.Go(func() error {
			return svc.RunSweeper(gCtx, CLI.Serve.SweepInterval, CLI.SweepGrace)
		})
	}

	return g.Wait()
}

func sweep(ctx context.Context) error {
	blobStore, metadataStore, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer blobStore.Close()
	defer metadataStore.Close()

	// the size limit only applies to uploads
	_, err = service.New(blobStore, metadataStore, 0).Sweep(ctx, CLI.SweepGrace)
	return err
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("filedump"),
		kong.Description("A content-addressed file store."),
	)

	err := configureLogging()
	if err != nil {
		log.Fatal(err)
	}

	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch ctx.Command() {
	case "serve":
		err = serve(appCtx)
	case "sweep":
		err = sweep(appCtx)
	default:
		panic(ctx.Command())
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

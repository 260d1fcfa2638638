package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/flokli/filedump/pkg/server/compression"
	"github.com/flokli/filedump/pkg/service"
	"github.com/flokli/filedump/pkg/store"
	"github.com/flokli/filedump/pkg/store/metadatastore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ResultHeader tells whether an upload created a new file, or matched an existing one.
const ResultHeader = "X-Filedump-Result"

type Server struct {
	Handler *chi.Mux

	service *service.Service
	// compressionType is used to compress downloads, if the client accepts it.
	compressionType string
}

// NewServer returns a Server exposing svc.
// compressionType is one of none, br, gzip, zstd.
func NewServer(svc *service.Service, compressionType string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&logFormatter{}))
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	s := &Server{
		Handler:         r,
		service:         svc,
		compressionType: compressionType,
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("filedump"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/files", s.handleList)
	r.Post("/api/file", s.handleUpload)

	pattern := "/api/file/{hash:^[0-9a-fA-F]{64}$}"
	r.Get(pattern, s.handleDownload)
	r.Head(pattern, s.handleDownload)
	r.Delete(pattern, s.handleDelete)

	return s
}

// errorStatus maps errors returned by the service to a HTTP status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrBodyRead),
		errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrMetadataUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"op":         op,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	http.Error(w, fmt.Sprintf("%v: %v", op, err), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.WithError(err).Warn("unable to write response")
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.List(r.Context())
	if err != nil {
		handleError(w, r, "list", err)
		return
	}

	// render an empty list as [], not null
	if records == nil {
		records = []*metadatastore.FileRecord{}
	}

	writeJSON(w, records)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("X-Filename")
	if name == "" {
		http.Error(w, "upload: missing X-Filename header", http.StatusBadRequest)
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		http.Error(w, "upload: missing Content-Type header", http.StatusBadRequest)
		return
	}

	if r.Body == nil || r.Body == http.NoBody {
		http.Error(w, "upload: missing request body", http.StatusBadRequest)
		return
	}

	// The size limit and the hash apply to the decoded contents.
	body, err := compression.NewDecompressorByEncoding(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, compression.ErrUnsupportedEncoding) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, fmt.Sprintf("upload: %v", err), status)
		return
	}
	defer body.Close()

	record, result, err := s.service.Ingest(r.Context(), body, name, mimeType)
	if err != nil {
		handleError(w, r, "upload", err)
		return
	}

	w.Header().Set(ResultHeader, result.String())
	writeJSON(w, record)
}

// contentDisposition renders an attachment Content-Disposition header for name.
func contentDisposition(name string) string {
	name = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "").Replace(name)
	return `attachment; filename="` + name + `"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	record, rc, err := s.service.Fetch(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		handleError(w, r, "download", err)
		return
	}
	defer rc.Close()

	etag := `"` + record.Hash + `"`
	w.Header().Set("ETag", etag)

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, candidate := range strings.Split(inm, ",") {
			candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
			if candidate == etag || candidate == "*" {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	mimeType := record.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	w.Header().Set("Content-Disposition", contentDisposition(record.Name))
	w.Header().Set("Content-Type", mimeType)
	w.Header().Add("Vary", "Accept-Encoding")

	var out io.Writer = w
	if s.compressionType != "none" && compression.Accepts(r.Header.Get("Accept-Encoding"), s.compressionType) {
		encoding, _ := compression.TypeToEncoding(s.compressionType)
		w.Header().Set("Content-Encoding", encoding)

		if r.Method == http.MethodHead {
			return
		}

		compressor, err := compression.NewCompressor(w, s.compressionType)
		if err != nil {
			handleError(w, r, "download", err)
			return
		}
		defer compressor.Close()
		out = compressor
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))

		if r.Method == http.MethodHead {
			return
		}
	}

	// Headers are sent already, so errors can only be logged.
	_, err = io.Copy(out, rc)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"hash":       record.Hash,
			"request_id": middleware.GetReqID(r.Context()),
		}).Warn("download interrupted")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	_, err := s.service.Remove(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		handleError(w, r, "delete", err)
		return
	}

	w.Write([]byte("File deleted"))
}

package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/datadog/zstd"
)

// NewCompressor returns an io.WriteCloser that compresses its input.
// The compression type needs to be specified upfront.
// Only cheap compression is supported, as downloads are compressed on the fly.
// It's the callers responsibility to close the writer when done.
func NewCompressor(w io.Writer, compressionType string) (io.WriteCloser, error) {
	switch compressionType {
	case "br":
		b := brotli.NewWriterLevel(w, brotli.BestSpeed)

		return b, nil
	case "gzip":
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case "zstd":
		z := zstd.NewWriterLevel(w, zstd.BestSpeed)

		return z, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, compressionType)
}

// Accepts reports whether an Accept-Encoding header value allows compressionType.
func Accepts(acceptEncoding string, compressionType string) bool {
	encoding, err := TypeToEncoding(compressionType)
	if err != nil {
		return false
	}

	for _, part := range strings.Split(acceptEncoding, ",") {
		coding, params, _ := strings.Cut(part, ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != encoding && coding != "*" {
			continue
		}

		// q=0 means "not acceptable"
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		if q == "q=0" || strings.HasPrefix(q, "q=0.") && strings.Trim(q[len("q=0."):], "0") == "" {
			return false
		}

		return true
	}

	return false
}

package compression_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/flokli/filedump/pkg/server/compression"
	"github.com/flokli/filedump/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundtrip(t *testing.T) {
	tdB := test.GetTestDataTable()["b"]

	for _, compressionType := range []string{"br", "gzip", "zstd"} {
		t.Run(compressionType, func(t *testing.T) {
			var buf bytes.Buffer

			w, err := compression.NewCompressor(&buf, compressionType)
			require.NoError(t, err)
			_, err = w.Write(tdB.Contents)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			encoding, err := compression.TypeToEncoding(compressionType)
			require.NoError(t, err)

			r, err := compression.NewDecompressorByEncoding(&buf, encoding)
			require.NoError(t, err)
			defer r.Close()

			contents, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tdB.Contents, contents)
		})
	}
}

func TestDecompressorByEncoding(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		for _, encoding := range []string{"", "identity", " Identity "} {
			r, err := compression.NewDecompressorByEncoding(strings.NewReader("hello"), encoding)
			require.NoError(t, err)
			contents, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(contents))
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		for _, encoding := range []string{"compress", "deflate", "gzip, br"} {
			_, err := compression.NewDecompressorByEncoding(strings.NewReader("hello"), encoding)
			assert.True(t, errors.Is(err, compression.ErrUnsupportedEncoding), encoding)
		}
	})

	t.Run("unsupported compressor", func(t *testing.T) {
		_, err := compression.NewCompressor(io.Discard, "xz")
		assert.ErrorIs(t, err, compression.ErrUnsupportedEncoding)
	})
}

func TestAccepts(t *testing.T) {
	for _, tc := range []struct {
		acceptEncoding  string
		compressionType string
		expected        bool
	}{
		{"", "gzip", false},
		{"gzip", "gzip", true},
		{"gzip, deflate, br", "br", true},
		{"gzip;q=1.0, zstd;q=0.5", "zstd", true},
		{"br;q=0", "br", false},
		{"br; q=0.000", "br", false},
		{"*", "zstd", true},
		{"deflate", "gzip", false},
		{"gzip", "none", false},
	} {
		assert.Equal(t, tc.expected, compression.Accepts(tc.acceptEncoding, tc.compressionType),
			"Accept-Encoding: %q, compression type %v", tc.acceptEncoding, tc.compressionType)
	}
}

package partitioninfo

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression algorithms understood by WithCompression.
const (
	CompressionAuto   = "auto"
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZlib   = "zlib"
	CompressionBzip2  = "bzip2"
	CompressionSnappy = "snappy"
	CompressionS2     = "s2"
	CompressionZstd   = "zstd"
	CompressionXz     = "xz"
	CompressionZip    = "zip"
)

var compressionMagic = []struct {
	algorithm string
	magic     []byte
}{
	{CompressionGzip, []byte{0x1f, 0x8b}},
	{CompressionBzip2, []byte("BZh")},
	{CompressionZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CompressionXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{CompressionZip, []byte{'P', 'K', 0x03, 0x04}},
	{CompressionSnappy, []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}},
	{CompressionS2, []byte{0xff, 0x06, 0x00, 0x00, 'S', '2', 's', 'T', 'w', 'O'}},
}

// getCompressionExtension returns the file extension for a given compression algorithm
func getCompressionExtension(compressionAlgorithm string) (string, error) {
	switch compressionAlgorithm {
	case CompressionGzip:
		return ".gz", nil
	case CompressionZlib:
		return ".zlib", nil
	case CompressionBzip2:
		return ".bz2", nil
	case CompressionSnappy:
		return ".snappy", nil
	case CompressionS2:
		return ".s2", nil
	case CompressionZstd:
		return ".zst", nil
	case CompressionXz:
		return ".xz", nil
	case CompressionZip:
		return ".zip", nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", compressionAlgorithm)
	}
}

// detectCompression sniffs the first bytes of an image. zlib has no reliable
// magic, so it is only recognised by extension.
func detectCompression(name string, head []byte) string {
	for _, m := range compressionMagic {
		if bytes.HasPrefix(head, m.magic) {
			return m.algorithm
		}
	}
	if strings.EqualFold(filepath.Ext(name), ".zlib") {
		return CompressionZlib
	}
	return CompressionNone
}

// createDecompressionReader wraps r with the decoder for algorithm.
func createDecompressionReader(algorithm string, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZlib:
		return zlib.NewReader(r)
	case CompressionBzip2:
		return bzip2.NewReader(r, &bzip2.ReaderConfig{})
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CompressionS2:
		return io.NopCloser(s2.NewReader(r)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case CompressionXz:
		reader, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(reader), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// openZipEntry returns the first regular file of a zip archive, which is how
// single-image archives are laid out.
func openZipEntry(src io.ReaderAt, size int64) (io.ReadCloser, error) {
	archive, err := zip.NewReader(src, size)
	if err != nil {
		return nil, err
	}
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		return f.Open()
	}
	return nil, fmt.Errorf("zip archive has no file entries")
}

// spoolDecompressed decodes the whole source into a temporary file so the
// image can be read at random offsets.
func spoolDecompressed(ctx context.Context, cfg *config, algorithm string, src io.ReaderAt, size int64) (*os.File, int64, error) {
	var (
		decoded io.ReadCloser
		err     error
	)
	if algorithm == CompressionZip {
		decoded, err = openZipEntry(src, size)
	} else {
		decoded, err = createDecompressionReader(algorithm, io.NewSectionReader(src, 0, size))
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s stream: %w", ErrIOFailure, algorithm, err)
	}
	defer func() {
		_ = decoded.Close()
	}()

	spool, err := os.CreateTemp(cfg.tempDir, "partitioninfo-*.img")
	if err != nil {
		return nil, 0, ioFailure(err, "create spool file")
	}

	written, err := io.Copy(spool, &contextReader{ctx: ctx, r: decoded})
	if err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, ioFailure(err, "decompress %s stream", algorithm)
	}
	return spool, written, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := checkContext(c.ctx); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package partitioninfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var errNotBlockDevice = errors.New("not a block device")

// readerAtContext is implemented by sources whose reads can be abandoned
// when the caller's context ends, such as the HTTP range reader.
type readerAtContext interface {
	ReadAtContext(ctx context.Context, p []byte, off int64) (int, error)
}

// DiskImage is a randomly readable disk image with a known size and sector
// size. It is safe for concurrent use once opened.
type DiskImage struct {
	name       string
	r          io.ReaderAt
	size       int64
	sectorSize int
	cfg        *config

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Open opens a local image file, a block device or an http(s) URL. Compressed
// images are decompressed into a temporary spool that Close removes.
func Open(ctx context.Context, path string, opts ...Option) (*DiskImage, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	img := &DiskImage{name: path, cfg: cfg}

	if isHTTPSource(path) {
		src, size, err := openHTTP(ctx, cfg.httpClient, path)
		if err != nil {
			return nil, err
		}
		img.r, img.size = src, size
	} else if err := img.openFile(path); err != nil {
		return nil, err
	}

	if err := img.decompress(ctx); err != nil {
		_ = img.Close()
		return nil, err
	}

	if cfg.sectorSize != 0 {
		img.sectorSize = cfg.sectorSize
	}
	if img.sectorSize == 0 {
		img.sectorSize = defaultSectorSize
	}

	cfg.logger.WithFields(log.Fields{
		"image":      img.name,
		"size":       formatBytes(img.size),
		"sectorSize": img.sectorSize,
	}).Debug("opened disk image")
	return img, nil
}

func (d *DiskImage) openFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return ioFailure(err, "open %s", path)
	}
	d.closers = append(d.closers, file.Close)
	d.r = file

	size, sectorSize, err := deviceGeometry(file)
	switch {
	case err == nil:
		d.size, d.sectorSize = size, sectorSize
		return nil
	case !errors.Is(err, errNotBlockDevice):
		_ = file.Close()
		return ioFailure(err, "query device %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return ioFailure(err, "stat %s", path)
	}
	d.size = info.Size()
	return nil
}

func (d *DiskImage) decompress(ctx context.Context) error {
	algorithm, err := d.compressionAlgorithm()
	if err != nil {
		return err
	}
	if algorithm == CompressionNone {
		return nil
	}

	spool, size, err := spoolDecompressed(ctx, d.cfg, algorithm, d.r, d.size)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, func() error {
		err := spool.Close()
		if rmErr := os.Remove(spool.Name()); rmErr != nil && err == nil {
			err = rmErr
		}
		return err
	})

	d.cfg.logger.WithFields(log.Fields{
		"image":        d.name,
		"algorithm":    algorithm,
		"compressed":   formatBytes(d.size),
		"decompressed": formatBytes(size),
	}).Debug("spooled compressed image")

	d.r, d.size = spool, size
	return nil
}

func (d *DiskImage) compressionAlgorithm() (string, error) {
	switch d.cfg.compression {
	case CompressionNone:
		return CompressionNone, nil
	case CompressionAuto:
	default:
		if _, err := getCompressionExtension(d.cfg.compression); err != nil {
			return "", err
		}
		return d.cfg.compression, nil
	}

	head := make([]byte, 16)
	n, err := d.r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", ioFailure(err, "read %s header", d.name)
	}
	return detectCompression(d.name, head[:n]), nil
}

// NewImage wraps a source that supports concurrent positioned reads, such as
// an *os.File or a *bytes.Reader.
func NewImage(r io.ReaderAt, size int64, opts ...Option) *DiskImage {
	cfg := newConfig(opts)
	sectorSize := cfg.sectorSize
	if sectorSize == 0 {
		sectorSize = defaultSectorSize
	}
	return &DiskImage{name: "reader", r: r, size: size, sectorSize: sectorSize, cfg: cfg}
}

// NewSeekImage wraps a source that can only seek and read. Each positioned
// read holds a per-image lock so concurrent resolutions never interleave a
// seek with another caller's read.
func NewSeekImage(rs io.ReadSeeker, opts ...Option) (*DiskImage, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, ioFailure(err, "seek to end")
	}
	return NewImage(&seekReaderAt{rs: rs}, size, opts...), nil
}

// WithImage opens path, runs fn and closes the image on every exit path.
func WithImage(ctx context.Context, path string, fn func(*DiskImage) error, opts ...Option) (err error) {
	img, err := Open(ctx, path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := img.Close(); closeErr != nil && err == nil {
			err = ioFailure(closeErr, "close %s", path)
		}
	}()
	return fn(img)
}

// Name returns the path or URL the image was opened from.
func (d *DiskImage) Name() string { return d.name }

// Size returns the image length in bytes.
func (d *DiskImage) Size() int64 { return d.size }

// SectorSize returns the logical sector size in bytes.
func (d *DiskImage) SectorSize() int { return d.sectorSize }

// Sectors returns the number of whole sectors in the image.
func (d *DiskImage) Sectors() uint64 { return uint64(d.size) / uint64(d.sectorSize) }

// ReadSector reads the sector at lba.
func (d *DiskImage) ReadSector(ctx context.Context, lba uint64) ([]byte, error) {
	if lba >= d.Sectors() {
		return nil, fmt.Errorf("%w: LBA %d beyond %d sectors", ErrOutOfBounds, lba, d.Sectors())
	}
	return d.ReadRange(ctx, int64(lba)*int64(d.sectorSize), int64(d.sectorSize))
}

// ReadRange reads length bytes starting at offset.
func (d *DiskImage) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset > d.size || length > d.size-offset {
		return nil, fmt.Errorf("%w: range [%d, +%d) outside %d byte image", ErrOutOfBounds, offset, length, d.size)
	}

	buf := make([]byte, length)
	var (
		n   int
		err error
	)
	if rc, ok := d.r.(readerAtContext); ok {
		n, err = rc.ReadAtContext(ctx, buf, offset)
	} else {
		n, err = d.r.ReadAt(buf, offset)
	}
	if n == len(buf) {
		return buf, nil
	}
	if ctxErr := checkContext(ctx); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, ioFailure(err, "read %d bytes at offset %d of %s", length, offset, d.name)
}

// Close releases the image handle and any decompression spool.
func (d *DiskImage) Close() error {
	d.closeOnce.Do(func() {
		var errs []error
		for i := len(d.closers) - 1; i >= 0; i-- {
			if err := d.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

func (d *DiskImage) logger() log.FieldLogger {
	return d.cfg.logger.WithField("image", d.name)
}

type seekReaderAt struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

func (s *seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}

func isHTTPSource(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

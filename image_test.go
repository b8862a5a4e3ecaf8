package partitioninfo

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// patternImage returns an image whose every sector starts with its own LBA.
func patternImage(sectors int) []byte {
	data := make([]byte, sectors*defaultSectorSize)
	for lba := 0; lba < sectors; lba++ {
		data[lba*defaultSectorSize] = byte(lba)
		data[lba*defaultSectorSize+1] = byte(lba >> 8)
	}
	return data
}

// seekOnly hides ReadAt so NewSeekImage has to seek.
type seekOnly struct {
	io.ReadSeeker
}

func TestReadRange(t *testing.T) {
	t.Parallel()

	img := NewImage(bytes.NewReader(patternImage(16)), 16*defaultSectorSize)
	assert.Equal(t, uint64(16), img.Sectors())
	assert.Equal(t, defaultSectorSize, img.SectorSize())

	tests := []struct {
		Name   string
		Offset int64
		Length int64
		Err    error
	}{
		{Name: "first sector", Offset: 0, Length: 512},
		{Name: "whole image", Offset: 0, Length: 16 * 512},
		{Name: "empty read at end", Offset: 16 * 512, Length: 0},
		{Name: "negative offset", Offset: -1, Length: 1, Err: ErrOutOfBounds},
		{Name: "negative length", Offset: 0, Length: -1, Err: ErrOutOfBounds},
		{Name: "past the end", Offset: 16 * 512, Length: 1, Err: ErrOutOfBounds},
		{Name: "straddles the end", Offset: 15 * 512, Length: 1024, Err: ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			b, err := img.ReadRange(t.Context(), tt.Offset, tt.Length)
			if tt.Err != nil {
				require.ErrorIs(t, err, tt.Err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, b, int(tt.Length))
		})
	}
}

func TestReadSector(t *testing.T) {
	t.Parallel()

	img := NewImage(bytes.NewReader(patternImage(16)), 16*defaultSectorSize)

	sector, err := img.ReadSector(t.Context(), 9)
	require.NoError(t, err)
	assert.Equal(t, byte(9), sector[0])

	_, err = img.ReadSector(t.Context(), 16)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestReadRangeShortSource(t *testing.T) {
	t.Parallel()

	// the declared size is larger than the data behind it
	img := NewImage(bytes.NewReader(make([]byte, 512)), 4*defaultSectorSize)
	_, err := img.ReadSector(t.Context(), 2)
	require.ErrorIs(t, err, ErrIOFailure)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRangeCancelled(t *testing.T) {
	t.Parallel()

	img := NewImage(bytes.NewReader(patternImage(4)), 4*defaultSectorSize)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := img.ReadSector(ctx, 0)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSeekImageConcurrentReads(t *testing.T) {
	t.Parallel()

	const sectors = 256
	img, err := NewSeekImage(seekOnly{bytes.NewReader(patternImage(sectors))})
	require.NoError(t, err)
	require.Equal(t, int64(sectors*defaultSectorSize), img.Size())

	g, ctx := errgroup.WithContext(t.Context())
	for worker := 0; worker < 8; worker++ {
		g.Go(func() error {
			for lba := worker; lba < sectors; lba += 8 {
				sector, err := img.ReadSector(ctx, uint64(lba))
				if err != nil {
					return err
				}
				if got := int(sector[0]) | int(sector[1])<<8; got != lba {
					t.Errorf("sector %d holds data of sector %d", lba, got)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestOpenSectorSize(t *testing.T) {
	t.Parallel()

	f := newImageFile(t, testImageSize)

	tests := []struct {
		Name    string
		Options []Option
		Want    int
	}{
		{Name: "default", Want: 512},
		{Name: "4K override", Options: []Option{WithSectorSize(4096)}, Want: 4096},
		{Name: "invalid override ignored", Options: []Option{WithSectorSize(1000)}, Want: 512},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			img := openTestImage(t, f, tt.Options...)
			assert.Equal(t, tt.Want, img.SectorSize())
			assert.Equal(t, int64(testImageSize), img.Size())
			assert.Equal(t, f.Name(), img.Name())
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), filepath.Join(t.TempDir(), "missing.img"))
	require.ErrorIs(t, err, ErrIOFailure)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWithImageCloses(t *testing.T) {
	t.Parallel()

	f := newMBRImage(t, threeLogicals)
	var kept *DiskImage
	err := WithImage(t.Context(), f.Name(), func(img *DiskImage) error {
		kept = img
		_, err := ReadTable(t.Context(), img)
		return err
	})
	require.NoError(t, err)

	_, err = kept.ReadSector(t.Context(), 0)
	require.ErrorIs(t, err, ErrIOFailure)
	require.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, kept.Close(), "closing twice")
}

package partitioninfo

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	testImageSectors = 20480 // 10 MiB
	testImageSize    = testImageSectors * defaultSectorSize
)

// ebr describes one link of a test chain. link is the EBR position relative to
// the extended partition; start is the logical partition relative to the EBR.
// A zero sectors field leaves the logical slot empty.
type ebr struct {
	link    uint32
	start   uint32
	sectors uint32
	typ     byte
}

var (
	extendedEntry = mbrPartition{Type: 0x05, FirstSector: 2048, Sectors: 16384}
	linuxEntry    = mbrPartition{Status: 0x80, Type: 0x83, FirstSector: 18432, Sectors: 2048}

	// Logical partitions at LBA 4096, 8192 and 14336.
	threeLogicals = []ebr{
		{link: 0, start: 2048, sectors: 2048, typ: 0x83},
		{link: 4096, start: 2048, sectors: 4096, typ: 0x83},
		{link: 10240, start: 2048, sectors: 2048, typ: 0x07},
	}
)

func newImageFile(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "disk.img"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Close()
	})
	require.NoError(t, f.Truncate(size))
	return f
}

// writeBootRecord writes an MBR or EBR sector holding parts at lba.
func writeBootRecord(t *testing.T, w io.WriterAt, lba uint64, parts ...mbrPartition) {
	t.Helper()
	record := mbrStruct{Signature: mbrSignature}
	copy(record.Partitions[:], parts)

	buf := new(bytes.Buffer)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &record))
	_, err := w.WriteAt(buf.Bytes(), int64(lba)*defaultSectorSize)
	require.NoError(t, err)
}

// writeEBRChain writes links as a forward chain inside ext.
func writeEBRChain(t *testing.T, w io.WriterAt, ext mbrPartition, links []ebr) {
	t.Helper()
	for i, l := range links {
		var logical, next mbrPartition
		if l.sectors != 0 {
			logical = mbrPartition{Type: l.typ, FirstSector: l.start, Sectors: l.sectors}
		}
		if i+1 < len(links) {
			n := links[i+1]
			next = mbrPartition{Type: 0x05, FirstSector: n.link, Sectors: max(n.start+n.sectors, 1)}
		}
		writeBootRecord(t, w, uint64(ext.FirstSector+l.link), logical, next)
	}
}

// newMBRImage writes a 10 MiB image with an extended partition in slot 1
// holding links and a bootable Linux partition in slot 2.
func newMBRImage(t *testing.T, links []ebr) *os.File {
	t.Helper()
	f := newImageFile(t, testImageSize)
	writeBootRecord(t, f, 0, extendedEntry, linuxEntry)
	writeEBRChain(t, f, extendedEntry, links)
	return f
}

// newScenarioImage is the 10 MiB image with a single extended partition from
// LBA 2048 holding logical partitions of 2048 and 4096 sectors.
func newScenarioImage(t *testing.T) *os.File {
	t.Helper()
	f := newImageFile(t, testImageSize)
	ext := mbrPartition{Type: 0x05, FirstSector: 2048, Sectors: testImageSectors - 2048}
	writeBootRecord(t, f, 0, ext)
	writeEBRChain(t, f, ext, []ebr{
		{link: 0, start: 2048, sectors: 2048, typ: 0x83},
		{link: 4096, start: 2048, sectors: 4096, typ: 0x83},
	})
	return f
}

// newGPTImage writes a 10 MiB image with a protective MBR and two GPT
// partitions.
func newGPTImage(t *testing.T) *os.File {
	t.Helper()
	f := newImageFile(t, testImageSize)
	table := &gpt.Table{
		LogicalSectorSize:  defaultSectorSize,
		PhysicalSectorSize: defaultSectorSize,
		ProtectiveMBR:      true,
		Partitions: []*gpt.Partition{
			{Start: 2048, End: 4095, Type: gpt.EFISystemPartition, Name: "EFI System", Attributes: 1 << 2},
			{Start: 4096, End: 18431, Type: gpt.LinuxFilesystem, Name: "root"},
		},
	}
	require.NoError(t, table.Write(f, testImageSize))
	return f
}

// newPlainMBRImage writes a DOS label through go-diskfs.
func newPlainMBRImage(t *testing.T) *os.File {
	t.Helper()
	f := newImageFile(t, testImageSize)
	table := &mbr.Table{
		LogicalSectorSize:  defaultSectorSize,
		PhysicalSectorSize: defaultSectorSize,
		Partitions: []*mbr.Partition{
			{Bootable: true, Type: mbr.Fat32LBA, Start: 2048, Size: 4096},
			{Type: mbr.Linux, Start: 6144, Size: 14336},
		},
	}
	require.NoError(t, table.Write(f, testImageSize))
	return f
}

func openTestImage(t *testing.T, f *os.File, opts ...Option) *DiskImage {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	img, err := Open(t.Context(), f.Name(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = img.Close()
	})
	return img
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var entries []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			entries = append(entries, e)
		}
	}
	return entries
}

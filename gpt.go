package partitioninfo

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// GPTHeader is the decoded primary GPT header.
type GPTHeader struct {
	Revision            uint32
	HeaderSize          uint32
	CurrentLBA          uint64
	BackupLBA           uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            uuid.UUID
	PartitionEntryLBA   uint64
	NumPartEntries      uint32
	PartEntrySize       uint32
	PartEntryArrayCRC32 uint32

	// headerCRCErr is set when the stored header checksum does not match.
	headerCRCErr error
}

// EntryArraySize returns the size in bytes of the partition entry array.
func (h *GPTHeader) EntryArraySize() int64 {
	return int64(h.NumPartEntries) * int64(h.PartEntrySize)
}

// DecodeGPTHeader decodes a GPT header sector. The header checksum is
// verified but a mismatch is left for the caller's strictness policy.
func DecodeGPTHeader(sector []byte) (*GPTHeader, error) {
	if len(sector) < gptMinHeaderSize {
		return nil, fmt.Errorf("%w: GPT header sector is %d bytes", ErrMalformedTable, len(sector))
	}

	header := gptHeader{}
	if err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: parsing GPT header: %w", ErrMalformedTable, err)
	}
	if string(header.Signature[:]) != gptSignature {
		return nil, fmt.Errorf("%w: missing %q signature", ErrMalformedTable, gptSignature)
	}
	if header.HeaderSize < gptMinHeaderSize || int(header.HeaderSize) > len(sector) {
		return nil, fmt.Errorf("%w: invalid GPT header size: %d", ErrMalformedTable, header.HeaderSize)
	}
	if header.PartEntrySize < gptMinEntrySize || header.PartEntrySize%8 != 0 {
		return nil, fmt.Errorf("%w: invalid GPT entry size: %d", ErrMalformedTable, header.PartEntrySize)
	}
	if header.NumPartEntries == 0 || int64(header.NumPartEntries)*int64(header.PartEntrySize) > gptMaxEntryArray {
		return nil, fmt.Errorf("%w: invalid GPT entry count: %d", ErrMalformedTable, header.NumPartEntries)
	}

	return &GPTHeader{
		Revision:            binary.LittleEndian.Uint32(header.Revision[:]),
		HeaderSize:          header.HeaderSize,
		CurrentLBA:          header.CurrentLBA,
		BackupLBA:           header.BackupLBA,
		FirstUsableLBA:      header.FirstUsableLBA,
		LastUsableLBA:       header.LastUsableLBA,
		DiskGUID:            guidFromBytes(header.DiskGUID[:]),
		PartitionEntryLBA:   header.PartitionEntryLBA,
		NumPartEntries:      header.NumPartEntries,
		PartEntrySize:       header.PartEntrySize,
		PartEntryArrayCRC32: header.PartEntryArrayCRC32,
		headerCRCErr:        validateGPTHeaderCRC(sector, header.HeaderSize),
	}, nil
}

// DecodeGPTEntries decodes every slot of a GPT entry array. Slots with an
// all-zero type GUID or an inverted range decode as invalid entries.
func DecodeGPTEntries(header *GPTHeader, array []byte) ([]PartitionTableEntry, error) {
	if int64(len(array)) < header.EntryArraySize() {
		return nil, fmt.Errorf("%w: GPT entry array is %d bytes, header declares %d",
			ErrMalformedTable, len(array), header.EntryArraySize())
	}

	entries := make([]PartitionTableEntry, 0, header.NumPartEntries)
	for i := uint32(0); i < header.NumPartEntries; i++ {
		off := uint64(i) * uint64(header.PartEntrySize)
		partition := gptPartition{}
		err := binary.Read(bytes.NewReader(array[off:off+gptMinEntrySize]), binary.LittleEndian, &partition)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading partition entry %d: %w", ErrMalformedTable, i+1, err)
		}

		entry := PartitionTableEntry{Index: int(i) + 1}
		if !isAllZero(partition.TypeGUID[:]) && partition.LastLBA >= partition.FirstLBA {
			entry.TypeGUID = guidFromBytes(partition.TypeGUID[:])
			entry.UniqueGUID = guidFromBytes(partition.UniqueGUID[:])
			entry.Name = decodeUTF16LE(partition.PartitionName[:])
			entry.Bootable = partition.AttributeFlags&(1<<2) != 0
			entry.StartLBA = partition.FirstLBA
			entry.Sectors = partition.LastLBA - partition.FirstLBA + 1
			if entry.Sectors == 0 {
				// [0, MaxUint64] wraps; saturate so the extent check rejects it
				entry.Sectors = math.MaxUint64
			}
			entry.Valid = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// readGPT reads the primary GPT of img, applying the configured strictness
// to checksum mismatches.
func readGPT(ctx context.Context, img *DiskImage) (*Table, error) {
	sector, err := img.ReadSector(ctx, 1)
	if err != nil {
		return nil, err
	}
	header, err := DecodeGPTHeader(sector)
	if err != nil {
		return nil, err
	}

	logger := img.logger().WithFields(log.Fields{
		"disk":    header.DiskGUID,
		"entries": header.NumPartEntries,
	})
	if err := tolerate(img, logger, header.headerCRCErr); err != nil {
		return nil, err
	}

	if header.PartitionEntryLBA >= img.Sectors() || header.PartitionEntryLBA > math.MaxInt64/uint64(img.SectorSize()) {
		return nil, fmt.Errorf("%w: GPT entry array at LBA %d, image has %d sectors",
			ErrMalformedTable, header.PartitionEntryLBA, img.Sectors())
	}
	array, err := img.ReadRange(ctx, int64(header.PartitionEntryLBA)*int64(img.SectorSize()), header.EntryArraySize())
	if err != nil {
		return nil, err
	}
	if err := tolerate(img, logger, validateGPTEntriesCRC(array, header.PartEntryArrayCRC32)); err != nil {
		return nil, err
	}

	entries, err := DecodeGPTEntries(header, array)
	if err != nil {
		return nil, err
	}
	logger.Debug("decoded GPT")

	return &Table{
		Scheme:     SchemeGPT,
		SectorSize: img.SectorSize(),
		Entries:    entries,
		GPT:        header,
	}, nil
}

// tolerate applies the strictness policy to a metadata checksum failure.
func tolerate(img *DiskImage, logger log.FieldLogger, err error) error {
	if err == nil {
		return nil
	}
	if img.cfg.strictness == Strict {
		return fmt.Errorf("%w: %w", ErrMalformedTable, err)
	}
	logger.Warnf("Warning: %v", err)
	return nil
}

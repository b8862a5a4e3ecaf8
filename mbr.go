package partitioninfo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Scheme names the partitioning scheme of a table.
type Scheme string

// Supported partitioning schemes.
const (
	SchemeMBR Scheme = "mbr"
	SchemeGPT Scheme = "gpt"
)

// PartitionTableEntry is one slot of a partition table. Slots that are not
// in use decode with Valid set to false.
type PartitionTableEntry struct {
	Index      int       // 1-based slot number
	Type       byte      // MBR type byte, zero for GPT
	TypeGUID   uuid.UUID // GPT type GUID, uuid.Nil for MBR
	UniqueGUID uuid.UUID // GPT partition GUID, uuid.Nil for MBR
	Name       string    // GPT partition name
	Bootable   bool
	Extended   bool
	StartLBA   uint64
	Sectors    uint64
	Valid      bool
}

// EndLBA returns the first LBA after the entry.
func (e PartitionTableEntry) EndLBA() uint64 {
	return e.StartLBA + e.Sectors
}

// Table is a decoded primary partition table.
type Table struct {
	Scheme     Scheme
	SectorSize int
	Entries    []PartitionTableEntry
	GPT        *GPTHeader // nil for MBR tables
}

// isExtendedType checks if a partition type is an extended partition type
func isExtendedType(t byte) bool {
	switch t {
	case 0x05, 0x0F, 0x85:
		return true
	default:
		return false
	}
}

func (p mbrPartition) entry(index int) PartitionTableEntry {
	return PartitionTableEntry{
		Index:    index,
		Type:     p.Type,
		Bootable: p.Status&0x80 != 0,
		Extended: isExtendedType(p.Type),
		StartLBA: uint64(p.FirstSector),
		Sectors:  uint64(p.Sectors),
		Valid:    p.Type != 0x00 && p.Sectors != 0,
	}
}

// DecodeMBR decodes the four primary slots of an MBR or EBR sector. Only a
// missing boot signature is an error; unused or unknown slots decode as
// invalid entries.
func DecodeMBR(sector []byte) ([]PartitionTableEntry, error) {
	if len(sector) < mbrSize {
		return nil, fmt.Errorf("%w: sector is %d bytes, need %d", ErrMalformedTable, len(sector), mbrSize)
	}

	mbr := mbrStruct{}
	if err := binary.Read(bytes.NewReader(sector[:mbrSize]), binary.LittleEndian, &mbr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTable, err)
	}
	if mbr.Signature != mbrSignature {
		return nil, fmt.Errorf("%w: invalid MBR signature (0x%04X)", ErrMalformedTable, mbr.Signature)
	}

	entries := make([]PartitionTableEntry, 0, mbrEntryCount)
	for i, part := range mbr.Partitions {
		entries = append(entries, part.entry(i+1))
	}
	return entries, nil
}

// protectiveEntry returns the first valid 0xEE slot of an MBR.
func protectiveEntry(entries []PartitionTableEntry) (PartitionTableEntry, bool) {
	for _, e := range entries {
		if e.Valid && e.Type == gptProtectiveType {
			return e, true
		}
	}
	return PartitionTableEntry{}, false
}

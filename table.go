package partitioninfo

import (
	"context"
	"errors"
)

// ReadTable decodes the primary partition table of img. A protective MBR
// hands over to the GPT at LBA 1.
func ReadTable(ctx context.Context, img *DiskImage) (*Table, error) {
	sector, err := img.ReadSector(ctx, 0)
	if err != nil {
		return nil, err
	}
	entries, err := DecodeMBR(sector)
	if err != nil {
		return nil, err
	}

	mbrTable := &Table{Scheme: SchemeMBR, SectorSize: img.SectorSize(), Entries: entries}
	if _, ok := protectiveEntry(entries); !ok {
		img.logger().Debug("decoded MBR")
		return mbrTable, nil
	}

	table, err := readGPT(ctx, img)
	switch {
	case err == nil:
		return table, nil
	case img.cfg.strictness == Permissive && (errors.Is(err, ErrMalformedTable) || errors.Is(err, ErrOutOfBounds)):
		img.logger().Warnf("Warning: protective MBR without usable GPT, using MBR entries: %v", err)
		return mbrTable, nil
	default:
		return nil, err
	}
}

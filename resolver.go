package partitioninfo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Locator names a partition by its 1-based primary slot and, for partitions
// inside an extended container, its 1-based position in the logical chain.
// A zero Logical means the primary partition itself.
type Locator struct {
	Primary int `json:"primary"`
	Logical int `json:"logical,omitempty"`
}

func (l Locator) String() string {
	if l.Logical == 0 {
		return fmt.Sprintf("primary %d", l.Primary)
	}
	return fmt.Sprintf("primary %d logical %d", l.Primary, l.Logical)
}

// ResolvedPartition is the absolute extent of a located partition.
type ResolvedPartition struct {
	Locator    Locator
	Scheme     Scheme
	SectorSize int
	Entry      PartitionTableEntry // LBAs are absolute
	LinkLBA    uint64              // EBR that described a logical partition
	Offset     int64
	Size       int64
}

func (r *ResolvedPartition) String() string {
	return fmt.Sprintf("%s: offset %d, size %d (%s)", r.Locator, r.Offset, r.Size, formatBytes(r.Size))
}

// Resolve locates loc in img and returns its absolute byte range.
func Resolve(ctx context.Context, img *DiskImage, loc Locator) (*ResolvedPartition, error) {
	table, err := ReadTable(ctx, img)
	if err != nil {
		return nil, err
	}

	primary, err := primaryEntry(table, loc)
	if err != nil {
		return nil, err
	}

	res := &ResolvedPartition{Locator: loc, Scheme: table.Scheme, SectorSize: img.SectorSize()}
	if loc.Logical == 0 {
		res.Entry = primary
		return finish(img, res)
	}

	if loc.Logical < 0 {
		return nil, fmt.Errorf("%w: %s", ErrLogicalIndexOutOfRange, loc)
	}
	if table.Scheme != SchemeMBR || !primary.Extended {
		return nil, fmt.Errorf("%w: %s has type %s", ErrNotAnExtendedPartition, loc, entryType(primary))
	}

	found := false
	count := 0
	err = walkEBRChain(ctx, img, primary, func(link chainLink) bool {
		if !link.Logical.Valid {
			return true
		}
		count++
		if count < loc.Logical {
			return true
		}
		found = true
		res.Entry = link.Logical
		res.Entry.Index = count
		res.LinkLBA = link.LBA
		return false
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s, chain holds %d logical partitions", ErrLogicalIndexOutOfRange, loc, count)
	}
	return finish(img, res)
}

func primaryEntry(table *Table, loc Locator) (PartitionTableEntry, error) {
	if loc.Primary < 1 || loc.Primary > len(table.Entries) {
		return PartitionTableEntry{}, fmt.Errorf("%w: %s, %s table has %d slots",
			ErrPrimaryIndexOutOfRange, loc, table.Scheme, len(table.Entries))
	}
	entry := table.Entries[loc.Primary-1]
	if !entry.Valid {
		return PartitionTableEntry{}, fmt.Errorf("%w: %s is an unused slot", ErrPrimaryIndexOutOfRange, loc)
	}
	return entry, nil
}

// finish converts the entry to bytes and checks it against the image.
func finish(img *DiskImage, res *ResolvedPartition) (*ResolvedPartition, error) {
	offset, size, err := extent(img, res.Locator, res.Entry)
	if err != nil {
		return nil, err
	}
	res.Offset, res.Size = offset, size

	img.logger().WithFields(log.Fields{
		"locator": res.Locator.String(),
		"offset":  res.Offset,
		"size":    formatBytes(res.Size),
	}).Debug("resolved partition")
	return res, nil
}

// extent returns the byte range of e, which must be non-empty and lie within
// the image.
func extent(img *DiskImage, loc Locator, e PartitionTableEntry) (int64, int64, error) {
	ss := uint64(img.SectorSize())
	if e.Sectors == 0 || e.StartLBA > math.MaxInt64/ss || e.Sectors > math.MaxInt64/ss ||
		e.EndLBA() < e.StartLBA || e.EndLBA() > img.Sectors() {
		return 0, 0, fmt.Errorf("%w: %s spans LBA [%d, +%d), image has %d sectors",
			ErrOutOfBounds, loc, e.StartLBA, e.Sectors, img.Sectors())
	}
	return int64(e.StartLBA * ss), int64(e.Sectors * ss), nil
}

func entryType(e PartitionTableEntry) string {
	if e.TypeGUID != uuid.Nil {
		return e.TypeGUID.String()
	}
	return fmt.Sprintf("0x%02x", e.Type)
}

// Partition is one entry of a partition listing.
type Partition struct {
	Locator Locator
	Entry   PartitionTableEntry // LBAs are absolute
	Offset  int64
	Size    int64
}

// ListPartitions returns every used primary slot of img followed, for each
// extended container, by its logical partitions in chain order. In permissive
// mode a damaged chain is logged and the logical partitions read before the
// damage are kept.
func ListPartitions(ctx context.Context, img *DiskImage) ([]Partition, error) {
	table, err := ReadTable(ctx, img)
	if err != nil {
		return nil, err
	}

	var partitions []Partition
	// add reports whether e was listed. Entries outside the image are skipped
	// unless the image is read strictly.
	add := func(loc Locator, e PartitionTableEntry) (bool, error) {
		offset, size, err := extent(img, loc, e)
		if err == nil {
			partitions = append(partitions, Partition{Locator: loc, Entry: e, Offset: offset, Size: size})
			return true, nil
		}
		if img.cfg.strictness == Strict {
			return false, err
		}
		img.logger().Warnf("Warning: Skipping partition: %v", err)
		return false, nil
	}

	for _, part := range table.Entries {
		if !part.Valid {
			continue
		}
		listed, err := add(Locator{Primary: part.Index}, part)
		if err != nil {
			return nil, err
		}
		if !listed || table.Scheme != SchemeMBR || !part.Extended {
			continue
		}

		count := 0
		var addErr error
		err = walkEBRChain(ctx, img, part, func(link chainLink) bool {
			if !link.Logical.Valid {
				return true
			}
			count++
			logical := link.Logical
			logical.Index = count
			_, addErr = add(Locator{Primary: part.Index, Logical: count}, logical)
			return addErr == nil
		})
		if addErr != nil {
			return nil, addErr
		}
		if err == nil {
			continue
		}
		if img.cfg.strictness == Strict || errors.Is(err, ErrCancelled) || errors.Is(err, ErrIOFailure) {
			return nil, err
		}
		img.logger().WithField("extended", part.Index).Warnf("Warning: Could not read extended partition chain: %v", err)
	}
	return partitions, nil
}

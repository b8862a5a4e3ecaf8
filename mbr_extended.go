package partitioninfo

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// chainLink is one extended boot record of an extended partition.
type chainLink struct {
	LBA     uint64              // absolute LBA of the EBR sector
	Logical PartitionTableEntry // logical partition with absolute LBAs, invalid when the slot is empty
}

// walkEBRChain follows the extended boot records of ext in on-disk order and
// hands each link to visit until visit returns false or the chain ends.
//
// Logical entries are relative to their own EBR; next-link entries are
// relative to the start of the extended partition.
func walkEBRChain(ctx context.Context, img *DiskImage, ext PartitionTableEntry, visit func(chainLink) bool) error {
	baseLBA := ext.StartLBA
	nextEBR := baseLBA
	maxHops := img.cfg.maxChainLinks
	visited := make(map[uint64]struct{}, 8)
	logger := img.logger().WithField("extended", ext.Index)

	for hops := 0; ; hops++ {
		if hops >= maxHops {
			return fmt.Errorf("%w: more than %d links", ErrCorruptChain, maxHops)
		}
		if _, seen := visited[nextEBR]; seen {
			return fmt.Errorf("%w: link at LBA %d visited twice", ErrCorruptChain, nextEBR)
		}
		visited[nextEBR] = struct{}{}

		sector, err := img.ReadSector(ctx, nextEBR)
		if err != nil {
			return err
		}
		entries, err := DecodeMBR(sector)
		if err != nil {
			return fmt.Errorf("EBR at LBA %d: %w", nextEBR, err)
		}

		// First entry is the logical partition, second the next link
		e1, e2 := entries[0], entries[1]
		link := chainLink{LBA: nextEBR}
		if e1.Valid {
			link.Logical = e1
			link.Logical.StartLBA = nextEBR + e1.StartLBA
		}

		logger.WithFields(log.Fields{
			"link":    hops + 1,
			"lba":     nextEBR,
			"logical": link.Logical.Valid,
		}).Debug("read EBR")

		if !visit(link) {
			return nil
		}

		if !e2.Valid || !e2.Extended {
			return nil
		}
		nextEBR = baseLBA + e2.StartLBA
		if nextEBR >= ext.EndLBA() {
			return fmt.Errorf("%w: link at LBA %d outside extended partition [%d, %d)",
				ErrCorruptChain, nextEBR, baseLBA, ext.EndLBA())
		}
	}
}

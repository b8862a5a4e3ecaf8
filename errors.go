package partitioninfo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when a read or a resolved partition extends
	// past the end of the image.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrMalformedTable is returned when a partition table sector lacks its
	// required signature or carries an impossible header.
	ErrMalformedTable = errors.New("malformed partition table")

	// ErrPrimaryIndexOutOfRange is returned when the primary index does not
	// name a used slot of the primary table.
	ErrPrimaryIndexOutOfRange = errors.New("primary partition index out of range")

	// ErrNotAnExtendedPartition is returned when a logical index is requested
	// on a primary entry that is not an extended container.
	ErrNotAnExtendedPartition = errors.New("not an extended partition")

	// ErrCorruptChain is returned when an extended partition chain loops,
	// escapes its container or exceeds the configured link bound.
	ErrCorruptChain = errors.New("corrupt extended partition chain")

	// ErrLogicalIndexOutOfRange is returned when the chain ends before the
	// requested logical partition.
	ErrLogicalIndexOutOfRange = errors.New("logical partition index out of range")

	// ErrCancelled is returned when the context is done at a read boundary.
	ErrCancelled = errors.New("cancelled")

	// ErrIOFailure wraps failures of the underlying image source.
	ErrIOFailure = errors.New("i/o failure")
)

// checkContext reports ErrCancelled once ctx is done.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// ioFailure wraps err as ErrIOFailure unless it already carries a kind.
func ioFailure(err error, format string, args ...any) error {
	if isKind(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIOFailure, fmt.Sprintf(format, args...), err)
}

func isKind(err error) bool {
	for _, kind := range []error{
		ErrOutOfBounds, ErrMalformedTable, ErrPrimaryIndexOutOfRange, ErrNotAnExtendedPartition,
		ErrCorruptChain, ErrLogicalIndexOutOfRange, ErrCancelled, ErrIOFailure,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

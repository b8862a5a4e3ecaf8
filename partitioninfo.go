// Package partitioninfo resolves a partition locator against a disk image and
// reports the partition's absolute byte offset and size.
//
// MBR and GPT tables are decoded directly from the image, and logical
// partitions are found by walking the extended boot record chain of their
// extended container:
//
//	info, err := partitioninfo.GetInfo(ctx, "foo/bar.img", partitioninfo.Locator{Primary: 4, Logical: 1})
//	if err != nil {
//		return err
//	}
//	fmt.Println(info.Offset, info.Size)
package partitioninfo

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Info is the byte range of a partition.
type Info struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

func (i Info) String() string {
	return fmt.Sprintf("offset %d, size %s", i.Offset, formatBytes(i.Size))
}

// GetInfo opens image, resolves loc and closes the image again. Both fields
// of the result come from the same resolution.
func GetInfo(ctx context.Context, image string, loc Locator, opts ...Option) (Info, error) {
	var info Info
	err := WithImage(ctx, image, func(img *DiskImage) error {
		var err error
		info, err = GetImageInfo(ctx, img, loc)
		return err
	}, opts...)
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// GetImageInfo resolves loc against an already open image.
func GetImageInfo(ctx context.Context, img *DiskImage, loc Locator) (Info, error) {
	res, err := Resolve(ctx, img, loc)
	if err != nil {
		return Info{}, err
	}
	return Info{Offset: res.Offset, Size: res.Size}, nil
}

// ResolveAll resolves every locator against img concurrently, bounded by
// WithConcurrency. Results are in the order of locs. The first failure
// cancels the remaining resolutions and is returned alone.
func ResolveAll(ctx context.Context, img *DiskImage, locs []Locator) ([]Info, error) {
	infos := make([]Info, len(locs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(img.cfg.concurrency)
	for i, loc := range locs {
		g.Go(func() error {
			info, err := GetImageInfo(gctx, img, loc)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

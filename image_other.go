//go:build !linux

package partitioninfo

import "os"

// deviceGeometry is only implemented for Linux block devices; elsewhere every
// source is treated as a regular file.
func deviceGeometry(_ *os.File) (int64, int, error) {
	return 0, 0, errNotBlockDevice
}

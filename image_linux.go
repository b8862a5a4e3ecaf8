//go:build linux

package partitioninfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceGeometry returns the size and logical sector size of a block device.
// Regular files and character devices report errNotBlockDevice.
func deviceGeometry(file *os.File) (int64, int, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, 0, err
	}
	mode := info.Mode()
	if mode&os.ModeDevice == 0 || mode&os.ModeCharDevice != 0 {
		return 0, 0, errNotBlockDevice
	}

	var size uint64
	_, _, e := unix.Syscall(unix.SYS_IOCTL, file.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if e != 0 {
		return 0, 0, fmt.Errorf("ioctl BLKGETSIZE64 failed: %w", e)
	}
	return int64(size), getSectorSize(file), nil
}

func getSectorSize(file *os.File) int {
	sectorSize, err := unix.IoctlGetInt(int(file.Fd()), unix.BLKSSZGET)
	if err == nil && sectorSize > 0 {
		return sectorSize
	}

	// e.g. /dev/nvme0n1 -> /sys/class/block/nvme0n1/queue/hw_sector_size
	devName := filepath.Base(file.Name())
	data, err := os.ReadFile("/sys/class/block/" + devName + "/queue/hw_sector_size")
	if err == nil {
		sz, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && sz > 0 {
			return sz
		}
	}

	return defaultSectorSize
}
